// Package menu implements an in-process, periodically refreshed snapshot
// of the canonical menu: category/meal-period indices, a multi-stage item
// lookup (exact, then longest substring, then fuzzy), and alternative
// suggestions for out-of-stock items. Items are never mutated in place — a
// refresh swaps the whole snapshot.
package menu

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
)

// Loader is the canonical-store port (the mongostore adapter in
// production); a test fake can supply any in-memory slice.
type Loader interface {
	LoadItems(ctx context.Context) ([]domain.MenuItem, error)
	LoadCategories(ctx context.Context) ([]domain.Category, error)
}

// RefreshInterval is the default background refresh period.
const RefreshInterval = 5 * time.Minute

// VectorIndex is the optional semantic-similarity port. Lookups must never
// fail the caller: any error falls through to the same-category and
// popular-alternatives stages.
type VectorIndex interface {
	Similar(query string, limit int) ([]string, error)
}

// Cache is the hot, read-mostly menu snapshot.
type Cache struct {
	loader   Loader
	clock    func() time.Time
	interval time.Duration
	vector   VectorIndex

	onRefresh func(context.Context, []domain.MenuItem)

	mu         sync.RWMutex
	items      map[string]domain.MenuItem
	categories map[string]domain.Category
	byCategory map[string][]string // category id -> item ids, stable order

	stopOnce sync.Once
	stop     chan struct{}
}

func NewCache(loader Loader) *Cache {
	return &Cache{
		loader:     loader,
		clock:      time.Now,
		interval:   RefreshInterval,
		items:      map[string]domain.MenuItem{},
		categories: map[string]domain.Category{},
		byCategory: map[string][]string{},
		stop:       make(chan struct{}),
	}
}

// SetRefreshInterval overrides the background refresh period. Must be
// called before StartBackgroundRefresh.
func (c *Cache) SetRefreshInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

// WithVectorIndex attaches a semantic similar-items index.
func (c *Cache) WithVectorIndex(v VectorIndex) *Cache {
	c.vector = v
	return c
}

// OnRefresh registers a hook invoked after every successful snapshot swap
// with the freshly loaded items. Used to fan the canonical load out to
// dependent stores (inventory seeding, key-value mirrors).
func (c *Cache) OnRefresh(f func(context.Context, []domain.MenuItem)) {
	c.onRefresh = f
}

// Refresh reloads the whole snapshot from the canonical store. Safe to
// call concurrently with reads; the swap is atomic under the write lock.
func (c *Cache) Refresh(ctx context.Context) error {
	items, err := c.loader.LoadItems(ctx)
	if err != nil {
		return err
	}
	categories, err := c.loader.LoadCategories(ctx)
	if err != nil {
		return err
	}

	now := c.clock()
	itemMap := make(map[string]domain.MenuItem, len(items))
	byCategory := map[string][]string{}
	for _, item := range items {
		item.CachedAt = now
		itemMap[item.ItemID] = item
		byCategory[item.CategoryID] = append(byCategory[item.CategoryID], item.ItemID)
	}
	catMap := make(map[string]domain.Category, len(categories))
	for _, cat := range categories {
		catMap[cat.ID] = cat
	}

	c.mu.Lock()
	c.items = itemMap
	c.categories = catMap
	c.byCategory = byCategory
	c.mu.Unlock()

	log.Info().Int("items", len(itemMap)).Int("categories", len(catMap)).Msg("menu_cache_refreshed")

	if c.onRefresh != nil {
		c.onRefresh(ctx, items)
	}
	return nil
}

// StartBackgroundRefresh loads once synchronously, then refreshes on the
// configured interval until ctx is done or Stop is called.
func (c *Cache) StartBackgroundRefresh(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					log.Warn().Err(err).Msg("menu_cache_refresh_failed")
				}
			}
		}
	}()
	return nil
}

func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// GetItem returns the item by id, or false if absent or ineligible.
func (c *Cache) GetItem(id string) (domain.MenuItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	if !ok || !item.Eligible() {
		return domain.MenuItem{}, false
	}
	return item, true
}

func (c *Cache) GetCategory(id string) (domain.Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cat, ok := c.categories[id]
	return cat, ok
}

// ItemsByCategory returns eligible items (price > 0) in a category, in a
// stable order (insertion order from the last refresh).
func (c *Cache) ItemsByCategory(categoryID string) []domain.MenuItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.byCategory[categoryID]
	out := make([]domain.MenuItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := c.items[id]; ok && item.Eligible() {
			out = append(out, item)
		}
	}
	return out
}

// DeriveMealPeriod maps local time to a meal period: 05:00-11:00
// breakfast, 11:00-16:00 lunch, 16:00-22:00 dinner, otherwise all-day.
func DeriveMealPeriod(t time.Time) domain.MealPeriod {
	hour := t.Hour()
	switch {
	case hour >= 5 && hour < 11:
		return domain.MealBreakfast
	case hour >= 11 && hour < 16:
		return domain.MealLunch
	case hour >= 16 && hour < 22:
		return domain.MealDinner
	default:
		return domain.MealAllDay
	}
}

// Search returns eligible items whose name or description contains query
// (case-insensitive), optionally filtered to a meal period. strict narrows
// the match to name-only when true.
func (c *Cache) Search(query string, mealPeriod *domain.MealPeriod, strict bool) []domain.MenuItem {
	needle := strings.ToLower(strings.TrimSpace(query))
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.MenuItem
	for _, item := range c.items {
		if !item.Eligible() {
			continue
		}
		if mealPeriod != nil && !item.PassesPeriod(*mealPeriod) {
			continue
		}
		name := strings.ToLower(item.Name)
		matches := strings.Contains(name, needle)
		if !strict && !matches {
			matches = strings.Contains(strings.ToLower(item.Description), needle)
		}
		if matches {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindItem is the three-stage lookup: exact name match, then substring
// match preferring the longest item name, then fuzzy match with ratio
// >= 0.75.
func (c *Cache) FindItem(name string) (domain.MenuItem, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return domain.MenuItem{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	// Stage 1: exact, case-insensitive.
	for _, item := range c.items {
		if !item.Eligible() {
			continue
		}
		if strings.ToLower(item.Name) == needle {
			return item, true
		}
	}

	// Stage 2: substring, preferring the longest matching item name.
	var best domain.MenuItem
	found := false
	for _, item := range c.items {
		if !item.Eligible() {
			continue
		}
		lowerName := strings.ToLower(item.Name)
		if strings.Contains(lowerName, needle) || strings.Contains(needle, lowerName) {
			if !found || len(item.Name) > len(best.Name) {
				best = item
				found = true
			}
		}
	}
	if found {
		return best, true
	}

	// Stage 3: fuzzy, ratio >= 0.75.
	bestRatio := 0.0
	for _, item := range c.items {
		if !item.Eligible() {
			continue
		}
		ratio := similarityRatio(needle, strings.ToLower(item.Name))
		if ratio >= 0.75 && ratio > bestRatio {
			best = item
			bestRatio = ratio
			found = true
		}
	}
	return best, found
}

// SimilarItems returns up to limit alternatives to an unavailable/unknown
// item: semantic similarity when a vector index is wired in, else items in
// the same category, else popular alternatives.
func (c *Cache) SimilarItems(categoryID string, exclude string, limit int) []domain.MenuItem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.vector != nil {
		if excluded, ok := c.items[exclude]; ok {
			if ids, err := c.vector.Similar(excluded.Name, limit+1); err == nil {
				var out []domain.MenuItem
				for _, id := range ids {
					item, found := c.items[id]
					if !found || !item.Eligible() || item.ItemID == exclude {
						continue
					}
					out = append(out, item)
				}
				if len(out) > 0 {
					return capItems(out, limit)
				}
			}
		}
	}

	var sameCategory []domain.MenuItem
	for _, id := range c.byCategory[categoryID] {
		item, ok := c.items[id]
		if !ok || !item.Eligible() || item.ItemID == exclude {
			continue
		}
		sameCategory = append(sameCategory, item)
	}
	if len(sameCategory) > 0 {
		sort.Slice(sameCategory, func(i, j int) bool { return sameCategory[i].Name < sameCategory[j].Name })
		return capItems(sameCategory, limit)
	}

	var popular []domain.MenuItem
	for _, item := range c.items {
		if item.Eligible() && item.IsPopular && item.ItemID != exclude {
			popular = append(popular, item)
		}
	}
	sort.Slice(popular, func(i, j int) bool { return popular[i].Name < popular[j].Name })
	return capItems(popular, limit)
}

func capItems(items []domain.MenuItem, limit int) []domain.MenuItem {
	if limit <= 0 || limit >= len(items) {
		return items
	}
	return items[:limit]
}

// similarityRatio is a Levenshtein-distance-based ratio in [0,1]. The
// fuzzy policy runs in-process so it stays deterministic and testable
// without a search engine behind it.
func similarityRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return 1 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = minOf3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minOf3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
