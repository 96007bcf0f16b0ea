// Package cart implements per-session cart state backed by a TTL'd
// key-value store. Every mutation goes through the inventory engine first:
// the cart is only written once the reservation holds, so a cart entry
// without a matching reservation can exist only transiently during
// rollback.
package cart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/inventory"
)

// DefaultTTL bounds how long an untouched cart survives in the store.
const DefaultTTL = 1 * time.Hour

// Store is the per-session cart persistence port.
type Store interface {
	Load(ctx context.Context, sessionID string) (domain.Cart, bool, error)
	Save(ctx context.Context, cart domain.Cart, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}

// EventPublisher is the slice of the domain event publisher the cart
// service needs.
type EventPublisher interface {
	PublishCartUpdated(ctx context.Context, sessionID string)
	PublishCartCleared(ctx context.Context, sessionID string)
}

// ItemResolver is the menu-lookup slice the cart needs.
type ItemResolver interface {
	GetItem(id string) (domain.MenuItem, bool)
	FindItem(name string) (domain.MenuItem, bool)
	SimilarItems(categoryID string, exclude string, limit int) []domain.MenuItem
}

// AddFailure carries up to two alternative item names when a reservation
// fails, so the caller can compose a suggestion message.
type AddFailure struct {
	Reason       domain.ErrorKind
	Available    int
	Alternatives []string
}

func (f *AddFailure) Error() string {
	return fmt.Sprintf("cart: add failed: %s (available=%d)", f.Reason, f.Available)
}

// Service owns per-session carts and their reservation obligations.
type Service struct {
	store     Store
	inventory *inventory.Engine
	menu      ItemResolver
	events    EventPublisher
	ttl       time.Duration
}

func NewService(store Store, inv *inventory.Engine, menuCache ItemResolver, events EventPublisher) *Service {
	return &Service{store: store, inventory: inv, menu: menuCache, events: events, ttl: DefaultTTL}
}

// SetTTL overrides the cart TTL.
func (s *Service) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

func (s *Service) resolveItem(idOrName string) (domain.MenuItem, error) {
	if item, ok := s.menu.GetItem(idOrName); ok {
		return item, nil
	}
	if item, ok := s.menu.FindItem(idOrName); ok && strings.EqualFold(item.Name, idOrName) {
		return item, nil
	}
	return domain.MenuItem{}, domain.NewError(domain.ErrNotFound, "item "+idOrName+" not found")
}

// Add resolves the item, reserves the combined quantity, and only then
// writes the cart entry. On OutOfStock the cart is untouched and the
// failure carries alternatives.
func (s *Service) Add(ctx context.Context, sessionID, itemID string, qty int) (domain.Cart, error) {
	item, err := s.resolveItem(itemID)
	if err != nil {
		return domain.Cart{}, err
	}

	cart, _, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cart: load %s: %w", sessionID, err)
	}
	cart.SessionID = sessionID

	finalQty := cart.Quantity(item.ItemID) + qty

	if reserveErr := s.inventory.Reserve(ctx, item.ItemID, sessionID, finalQty); reserveErr != nil {
		if kind, ok := domain.KindOf(reserveErr); ok && kind == domain.ErrOutOfStock {
			available := s.inventory.Available(ctx, item.ItemID)
			alts := s.menu.SimilarItems(item.CategoryID, item.ItemID, 2)
			names := make([]string, 0, len(alts))
			for _, a := range alts {
				names = append(names, a.Name)
			}
			return domain.Cart{}, &AddFailure{Reason: domain.ErrOutOfStock, Available: available, Alternatives: names}
		}
		return domain.Cart{}, reserveErr
	}

	cart = upsertEntry(cart, item, finalQty)
	cart.UpdatedAt = time.Now()

	if err := s.store.Save(ctx, cart, s.ttl); err != nil {
		return domain.Cart{}, fmt.Errorf("cart: save %s: %w", sessionID, err)
	}
	if s.events != nil {
		s.events.PublishCartUpdated(ctx, sessionID)
	}
	return cart, nil
}

func upsertEntry(cart domain.Cart, item domain.MenuItem, qty int) domain.Cart {
	for i, e := range cart.Items {
		if e.ItemID == item.ItemID {
			cart.Items[i].Quantity = qty
			return cart
		}
	}
	cart.Items = append(cart.Items, domain.CartEntry{
		ItemID:   item.ItemID,
		Name:     item.Name,
		Price:    item.Price,
		Quantity: qty,
		Category: item.CategoryID,
	})
	return cart
}

// Remove releases the item's reservation and drops the entry. Inventory
// bookkeeping errors are logged, never propagated — a cart operation must
// not fail because reservation state drifted.
func (s *Service) Remove(ctx context.Context, sessionID, itemID string) (domain.Cart, error) {
	cart, ok, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cart: load %s: %w", sessionID, err)
	}
	if !ok {
		return domain.Cart{}, domain.NewError(domain.ErrNotFound, "no cart for session")
	}

	if releaseErr := s.inventory.Release(ctx, itemID, sessionID); releaseErr != nil {
		log.Warn().Err(releaseErr).Str("item_id", itemID).Msg("cart_remove_release_failed")
	}

	filtered := cart.Items[:0]
	for _, e := range cart.Items {
		if e.ItemID != itemID {
			filtered = append(filtered, e)
		}
	}
	cart.Items = filtered
	cart.UpdatedAt = time.Now()

	if err := s.store.Save(ctx, cart, s.ttl); err != nil {
		return domain.Cart{}, fmt.Errorf("cart: save %s: %w", sessionID, err)
	}
	if s.events != nil {
		s.events.PublishCartUpdated(ctx, sessionID)
	}
	return cart, nil
}

// UpdateQuantity is Add with an absolute target quantity; Reserve is
// net-aware, so the delta settles inside the reservation engine.
func (s *Service) UpdateQuantity(ctx context.Context, sessionID, itemID string, newQty int) (domain.Cart, error) {
	item, err := s.resolveItem(itemID)
	if err != nil {
		return domain.Cart{}, err
	}

	cart, _, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cart: load %s: %w", sessionID, err)
	}
	cart.SessionID = sessionID

	if reserveErr := s.inventory.Reserve(ctx, item.ItemID, sessionID, newQty); reserveErr != nil {
		if kind, ok := domain.KindOf(reserveErr); ok && kind == domain.ErrOutOfStock {
			available := s.inventory.Available(ctx, item.ItemID)
			alts := s.menu.SimilarItems(item.CategoryID, item.ItemID, 2)
			names := make([]string, 0, len(alts))
			for _, a := range alts {
				names = append(names, a.Name)
			}
			return domain.Cart{}, &AddFailure{Reason: domain.ErrOutOfStock, Available: available, Alternatives: names}
		}
		return domain.Cart{}, reserveErr
	}

	cart = upsertEntry(cart, item, newQty)
	cart.UpdatedAt = time.Now()
	if err := s.store.Save(ctx, cart, s.ttl); err != nil {
		return domain.Cart{}, fmt.Errorf("cart: save %s: %w", sessionID, err)
	}
	if s.events != nil {
		s.events.PublishCartUpdated(ctx, sessionID)
	}
	return cart, nil
}

// Clear releases every held reservation for this session, then deletes
// the cart key.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	cart, ok, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("cart: load %s: %w", sessionID, err)
	}
	if ok {
		for _, e := range cart.Items {
			if releaseErr := s.inventory.Release(ctx, e.ItemID, sessionID); releaseErr != nil {
				log.Warn().Err(releaseErr).Str("item_id", e.ItemID).Msg("cart_clear_release_failed")
			}
		}
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("cart: delete %s: %w", sessionID, err)
	}
	if s.events != nil {
		s.events.PublishCartCleared(ctx, sessionID)
	}
	return nil
}

// CheckExisting returns the current cart and its age. Never mutates.
func (s *Service) CheckExisting(ctx context.Context, sessionID string) (domain.Cart, time.Duration, bool, error) {
	cart, ok, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return domain.Cart{}, 0, false, fmt.Errorf("cart: load %s: %w", sessionID, err)
	}
	if !ok {
		return domain.Cart{}, 0, false, nil
	}
	age := time.Since(cart.UpdatedAt)
	return cart, age, true, nil
}
