package cache

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
)

// RedisMenuMirror maintains the hot key-value copy of the menu snapshot:
//
//	menu:item:{item_id}            -> item JSON
//	menu:category:{cat_id}         -> category JSON
//	menu:items:all                 -> set of item ids
//	menu:categories:all            -> set of category ids
//	menu:category:{cat_id}:items   -> set of item ids
//
// The mirror is a read path for collaborators outside this process (menu
// browsing endpoints, real-time updates over pub/sub); the in-process menu
// cache never reads it back. Writes are pipelined and best-effort — a
// failed mirror never fails the refresh that triggered it.
type RedisMenuMirror struct {
	client goredis.Cmdable
	ttl    time.Duration
}

func NewRedisMenuMirror(client goredis.Cmdable, ttl time.Duration) *RedisMenuMirror {
	return &RedisMenuMirror{client: client, ttl: ttl}
}

// menuUpdatesChannel carries a pub/sub notification after every mirror
// write so connected consumers can re-read the keys they care about.
const menuUpdatesChannel = "menu:updates"

// Mirror rewrites the item blobs and the id sets from the given snapshot;
// the category blobs are written by MirrorCategories.
func (m *RedisMenuMirror) Mirror(ctx context.Context, items []domain.MenuItem) {
	pipe := m.client.TxPipeline()

	itemIDs := make([]interface{}, 0, len(items))
	catIDs := map[string][]interface{}{}
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			log.Warn().Err(err).Str("item_id", item.ItemID).Msg("menu_mirror_marshal_failed")
			continue
		}
		pipe.Set(ctx, "menu:item:"+item.ItemID, raw, m.ttl)
		itemIDs = append(itemIDs, item.ItemID)
		catIDs[item.CategoryID] = append(catIDs[item.CategoryID], item.ItemID)
	}

	if len(itemIDs) > 0 {
		pipe.Del(ctx, "menu:items:all")
		pipe.SAdd(ctx, "menu:items:all", itemIDs...)
	}

	allCats := make([]interface{}, 0, len(catIDs))
	for catID, ids := range catIDs {
		allCats = append(allCats, catID)
		key := "menu:category:" + catID + ":items"
		pipe.Del(ctx, key)
		pipe.SAdd(ctx, key, ids...)
	}
	if len(allCats) > 0 {
		pipe.Del(ctx, "menu:categories:all")
		pipe.SAdd(ctx, "menu:categories:all", allCats...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("menu_mirror_write_failed")
		return
	}

	if err := m.client.Publish(ctx, menuUpdatesChannel, "refreshed").Err(); err != nil {
		log.Debug().Err(err).Msg("menu_mirror_publish_failed")
	}

	log.Debug().Int("items", len(itemIDs)).Int("categories", len(allCats)).Msg("menu_mirror_written")
}

// MirrorCategories writes the category JSON blobs; split out because
// categories arrive from a different canonical collection than items.
func (m *RedisMenuMirror) MirrorCategories(ctx context.Context, categories []domain.Category) {
	pipe := m.client.TxPipeline()
	for _, cat := range categories {
		raw, err := json.Marshal(cat)
		if err != nil {
			log.Warn().Err(err).Str("category_id", cat.ID).Msg("menu_mirror_marshal_failed")
			continue
		}
		pipe.Set(ctx, "menu:category:"+cat.ID, raw, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("menu_mirror_category_write_failed")
	}
}
