// Package inventory implements atomic, per-item reservation bookkeeping
// that prevents overselling across concurrent sessions. Reservations are
// net-aware — a reserve call sets an absolute quantity, consuming or
// returning stock based on the delta from the existing hold — and carry no
// TTL of their own; they are released or confirmed by session lifecycle.
package inventory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
)

// CanonicalItem is the minimal shape SyncFromCanonical needs.
type CanonicalItem struct {
	ItemID            string
	AvailableQuantity int
}

// ReserveResult is returned by Store.Reserve so the Engine can build the
// right domain error without a second round trip.
type ReserveResult struct {
	OK        bool
	Available int // current availability, meaningful only when OK is false
	Unknown   bool
}

// Store is the atomic KV port the Engine requires. It is implemented by
// internal/inventory/redisstore.go against go-redis/v9 in production and by
// an in-memory fake in tests.
type Store interface {
	SetAvailable(ctx context.Context, itemID string, qty int) error
	Available(ctx context.Context, itemID string) (int, bool, error)
	Reserve(ctx context.Context, itemID, userID string, qty int) (ReserveResult, error)
	Release(ctx context.Context, itemID, userID string) error
	Confirm(ctx context.Context, itemID, userID string) error
	ReservedTotal(ctx context.Context, itemID string) (int, error)
}

// EventPublisher is the narrow slice of the domain event publisher (C11)
// the engine needs. Nil is a valid Engine dependency (events are best
// effort, never required for correctness).
type EventPublisher interface {
	PublishReservationCreated(ctx context.Context, itemID, userID string, qty int)
	PublishReservationReleased(ctx context.Context, itemID, userID string)
	PublishReservationConfirmed(ctx context.Context, itemID, userID string)
}

// Engine is the reservation engine the cart and checkout flows drive.
type Engine struct {
	store  Store
	events EventPublisher
}

func NewEngine(store Store, events EventPublisher) *Engine {
	return &Engine{store: store, events: events}
}

// SyncFromCanonical overwrites available counts from the system of record.
// Idempotent.
func (e *Engine) SyncFromCanonical(ctx context.Context, items []CanonicalItem) error {
	for _, item := range items {
		if err := e.store.SetAvailable(ctx, item.ItemID, item.AvailableQuantity); err != nil {
			return fmt.Errorf("inventory: sync %s: %w", item.ItemID, err)
		}
	}
	return nil
}

// Available returns the current available_count, or 0 if unknown.
func (e *Engine) Available(ctx context.Context, itemID string) int {
	qty, ok, err := e.store.Available(ctx, itemID)
	if err != nil || !ok {
		return 0
	}
	return qty
}

// Check reports whether qty is currently satisfiable. Non-mutating.
func (e *Engine) Check(ctx context.Context, itemID string, qty int) (bool, int) {
	available := e.Available(ctx, itemID)
	return available >= qty, available
}

// Reserve sets the user's hold on itemID to an absolute qty. The net
// computation and the available/reserved mutation happen inside a single
// Lua script in the production Store so no other writer observes an
// intermediate state.
func (e *Engine) Reserve(ctx context.Context, itemID, userID string, qty int) error {
	result, err := e.store.Reserve(ctx, itemID, userID, qty)
	if err != nil {
		return fmt.Errorf("inventory: reserve %s: %w", itemID, err)
	}
	if result.Unknown {
		return domain.NewError(domain.ErrUnknownItem, "item "+itemID+" has no known inventory")
	}
	if !result.OK {
		return domain.OutOfStock(result.Available)
	}
	if e.events != nil {
		e.events.PublishReservationCreated(ctx, itemID, userID, qty)
	}
	return nil
}

// Release returns the user's hold to availability and removes it.
// Idempotent.
func (e *Engine) Release(ctx context.Context, itemID, userID string) error {
	if err := e.store.Release(ctx, itemID, userID); err != nil {
		return fmt.Errorf("inventory: release %s: %w", itemID, err)
	}
	if e.events != nil {
		e.events.PublishReservationReleased(ctx, itemID, userID)
	}
	return nil
}

// Confirm removes the reservation without returning stock — checkout
// consumed it.
func (e *Engine) Confirm(ctx context.Context, itemID, userID string) error {
	if err := e.store.Confirm(ctx, itemID, userID); err != nil {
		return fmt.Errorf("inventory: confirm %s: %w", itemID, err)
	}
	if e.events != nil {
		e.events.PublishReservationConfirmed(ctx, itemID, userID)
	}
	return nil
}

// ReservedTotal sums reservations across all users for itemID.
func (e *Engine) ReservedTotal(ctx context.Context, itemID string) (int, error) {
	total, err := e.store.ReservedTotal(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("inventory: reserved_total %s: %w", itemID, err)
	}
	return total, nil
}

// BatchItem is one (item, qty) pair of a batch reservation request.
type BatchItem struct {
	ItemID string
	Qty    int
}

// ReserveBatch is all-or-nothing: on the first failure, every reservation
// made earlier in this call is released before returning.
func (e *Engine) ReserveBatch(ctx context.Context, userID string, items []BatchItem) error {
	reserved := make([]string, 0, len(items))
	for _, item := range items {
		if err := e.Reserve(ctx, item.ItemID, userID, item.Qty); err != nil {
			for _, itemID := range reserved {
				if releaseErr := e.Release(ctx, itemID, userID); releaseErr != nil {
					log.Warn().Err(releaseErr).Str("item_id", itemID).Msg("batch_rollback_release_failed")
				}
			}
			return err
		}
		reserved = append(reserved, item.ItemID)
	}
	return nil
}
