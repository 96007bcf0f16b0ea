// Package userdata implements login hydration (preferences plus abandoned
// cart/booking lookups, partitioned by current availability but never
// auto-restored) and logout teardown (release reservations, snapshot
// abandoned state, destroy the session cache). Restoration of an abandoned
// cart is always an explicit, later user action.
package userdata

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
)

// AbandonedCartTTL and AbandonedBookingTTL are the default restoration
// windows.
const (
	AbandonedCartTTL    = 2 * time.Hour
	AbandonedBookingTTL = 7 * 24 * time.Hour
)

// PreferencesStore is the canonical-store slice that owns user
// preferences and dietary restrictions.
type PreferencesStore interface {
	LoadPreferences(ctx context.Context, userID string) (map[string]interface{}, error)
}

// AbandonedStore is the relational-store port (relstore) for abandoned
// cart/booking rows.
type AbandonedStore interface {
	FindUnrestoredCart(ctx context.Context, userID string) (domain.AbandonedCart, bool, error)
	FindUnrestoredBooking(ctx context.Context, userID string) (domain.AbandonedBooking, bool, error)
	UpsertCart(ctx context.Context, cart domain.AbandonedCart) error
	UpsertBooking(ctx context.Context, booking domain.AbandonedBooking) error
	MarkCartRestored(ctx context.Context, id string) error
}

// SessionCache is the per-user session-scoped cache the manager hydrates
// on login and destroys on logout.
type SessionCache interface {
	LoadCart(ctx context.Context, sessionID string) (domain.Cart, bool, error)
	Destroy(ctx context.Context, sessionID string) error
}

// ItemAvailabilityChecker is the inventory slice needed for cart-item
// partitioning.
type ItemAvailabilityChecker interface {
	Check(ctx context.Context, itemID string, qty int) (bool, int)
}

// PartitionedItem is one entry of an availability partition attached to the
// login payload.
type PartitionedItem struct {
	domain.CartEntry
	AvailableCount int
}

// LoginPayload is the hydrated session payload handed back to the caller
// after login.
type LoginPayload struct {
	Preferences        map[string]interface{}
	AvailableItems     []PartitionedItem
	UnavailableItems   []PartitionedItem
	AbandonedCart      *domain.AbandonedCart
	AbandonedBooking   *domain.AbandonedBooking
}

// Manager orchestrates the login/logout data lifecycle.
type Manager struct {
	prefs      PreferencesStore
	abandoned  AbandonedStore
	sessions   SessionCache
	inventory  ItemAvailabilityChecker
	reserveRel ReservationReleaser

	cartWindow    time.Duration
	bookingWindow time.Duration

	now func() time.Time
}

// ReservationReleaser is the inventory slice needed at logout.
type ReservationReleaser interface {
	Release(ctx context.Context, itemID, userID string) error
}

func NewManager(prefs PreferencesStore, abandoned AbandonedStore, sessions SessionCache, inv ItemAvailabilityChecker, rel ReservationReleaser) *Manager {
	return &Manager{
		prefs:         prefs,
		abandoned:     abandoned,
		sessions:      sessions,
		inventory:     inv,
		reserveRel:    rel,
		cartWindow:    AbandonedCartTTL,
		bookingWindow: AbandonedBookingTTL,
		now:           time.Now,
	}
}

// SetWindows overrides the abandonment windows.
func (m *Manager) SetWindows(cart, booking time.Duration) {
	if cart > 0 {
		m.cartWindow = cart
	}
	if booking > 0 {
		m.bookingWindow = booking
	}
}

// OnLogin hydrates the session: preferences, then any unexpired abandoned
// cart partitioned into available/unavailable items (with current counts
// attached), then any unexpired abandoned booking. Nothing is restored
// here — the partitioning only informs the user.
func (m *Manager) OnLogin(ctx context.Context, userID string, session domain.Session) (LoginPayload, error) {
	prefs, err := m.prefs.LoadPreferences(ctx, userID)
	if err != nil {
		return LoginPayload{}, fmt.Errorf("userdata: load preferences: %w", err)
	}

	payload := LoginPayload{Preferences: prefs}

	now := m.now()
	cart, found, err := m.abandoned.FindUnrestoredCart(ctx, userID)
	if err != nil {
		return LoginPayload{}, fmt.Errorf("userdata: find abandoned cart: %w", err)
	}
	if found && cart.ExpiresAt.After(now) {
		for _, entry := range cart.Snapshot.Items {
			ok, available := m.inventory.Check(ctx, entry.ItemID, entry.Quantity)
			partitioned := PartitionedItem{CartEntry: entry, AvailableCount: available}
			if ok {
				payload.AvailableItems = append(payload.AvailableItems, partitioned)
			} else {
				payload.UnavailableItems = append(payload.UnavailableItems, partitioned)
			}
		}
		payload.AbandonedCart = &cart
	}

	booking, found, err := m.abandoned.FindUnrestoredBooking(ctx, userID)
	if err != nil {
		return LoginPayload{}, fmt.Errorf("userdata: find abandoned booking: %w", err)
	}
	if found && booking.ExpiresAt.After(now) {
		payload.AbandonedBooking = &booking
	}

	return payload, nil
}

// OnLogout releases every reservation the session holds (failures logged,
// never aborting logout), snapshots the cart and any partial booking as
// abandoned records, and destroys the session cache.
func (m *Manager) OnLogout(ctx context.Context, userID, sessionID string, partialBooking map[string]interface{}) error {
	cart, found, err := m.sessions.LoadCart(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("userdata: load session cart: %w", err)
	}

	if found {
		for _, entry := range cart.Items {
			if err := m.reserveRel.Release(ctx, entry.ItemID, userID); err != nil {
				log.Warn().Err(err).Str("item_id", entry.ItemID).Msg("logout_release_failed")
			}
		}

		if len(cart.Items) > 0 {
			abandoned := domain.AbandonedCart{
				ID:        uuid.New().String(),
				UserID:    userID,
				Snapshot:  cart,
				CreatedAt: m.now(),
				ExpiresAt: m.now().Add(m.cartWindow),
			}
			if err := m.abandoned.UpsertCart(ctx, abandoned); err != nil {
				return fmt.Errorf("userdata: upsert abandoned cart: %w", err)
			}
		}
	}

	if partialBooking != nil {
		abandonedBooking := domain.AbandonedBooking{
			ID:             uuid.New().String(),
			UserID:         userID,
			BookingDetails: partialBooking,
			CreatedAt:      m.now(),
			ExpiresAt:      m.now().Add(m.bookingWindow),
		}
		if err := m.abandoned.UpsertBooking(ctx, abandonedBooking); err != nil {
			return fmt.Errorf("userdata: upsert abandoned booking: %w", err)
		}
	}

	if err := m.sessions.Destroy(ctx, sessionID); err != nil {
		return fmt.Errorf("userdata: destroy session cache: %w", err)
	}
	return nil
}

// RestoreReserver is the inventory slice needed to re-reserve on explicit
// restoration.
type RestoreReserver interface {
	Reserve(ctx context.Context, itemID, userID string, qty int) error
}

// RestoreAbandonedCart re-reserves the snapshot's items, dropping any that
// no longer fit availability, and marks the abandoned record restored
// regardless — the login-time partitioning already told the user what
// would make it back.
func (m *Manager) RestoreAbandonedCart(ctx context.Context, abandoned domain.AbandonedCart, userID string, reserver RestoreReserver) domain.Cart {
	restored := domain.Cart{SessionID: userID, OrderType: abandoned.Snapshot.OrderType}
	for _, entry := range abandoned.Snapshot.Items {
		if err := reserver.Reserve(ctx, entry.ItemID, userID, entry.Quantity); err != nil {
			log.Info().Err(err).Str("item_id", entry.ItemID).Msg("abandoned_cart_item_dropped_on_restore")
			continue
		}
		restored.Items = append(restored.Items, entry)
	}
	if err := m.abandoned.MarkCartRestored(ctx, abandoned.ID); err != nil {
		log.Warn().Err(err).Str("abandoned_cart_id", abandoned.ID).Msg("mark_restored_failed")
	}
	restored.UpdatedAt = m.now()
	return restored
}
