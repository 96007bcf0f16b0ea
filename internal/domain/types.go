// Package domain holds the types shared across the core's components:
// money, menu items, cart entries, sessions and the abandoned-cart/booking
// records. None of these types own persistence — that's the job of the
// internal/store and internal/cache packages.
package domain

import "time"

// Money is fixed-point minor units (paise/cents). Never a float.
type Money int64

// MealPeriod is derived from local time; see menu.DeriveMealPeriod.
type MealPeriod string

const (
	MealBreakfast MealPeriod = "breakfast"
	MealLunch     MealPeriod = "lunch"
	MealDinner    MealPeriod = "dinner"
	MealAllDay    MealPeriod = "all_day"
)

// ModelTier selects which of an account's two independent budgets applies.
type ModelTier string

const (
	TierPrimary ModelTier = "primary"
	TierMini    ModelTier = "mini"
)

// Category is a menu category, loaded from the canonical store.
type Category struct {
	ID   string
	Name string
}

// MenuItem is one menu entry, loaded from the canonical store on startup
// and on refresh; never mutated in place — a refresh replaces the whole
// snapshot.
type MenuItem struct {
	ItemID              string
	Name                string
	Price               Money
	CategoryID          string
	CategoryName        string
	Description         string
	IsAvailable         bool
	IsPopular           bool
	SpiceLevel          *int
	Calories            *int
	PrepMinutes         *int
	AvailabilityPeriods map[MealPeriod]bool
	CachedAt            time.Time
}

// PassesPeriod reports whether this item is orderable during the given
// meal period. Items with no explicit periods, or tagged all_day, pass
// every period filter.
func (m *MenuItem) PassesPeriod(period MealPeriod) bool {
	if len(m.AvailabilityPeriods) == 0 {
		return true
	}
	if m.AvailabilityPeriods[MealAllDay] {
		return true
	}
	return m.AvailabilityPeriods[period]
}

// Eligible reports whether the item can appear in search/find paths at
// all; zero-priced placeholder rows never surface.
func (m *MenuItem) Eligible() bool {
	return m.Price > 0
}

// CartEntry is one line of a Cart.
type CartEntry struct {
	ItemID   string
	Name     string
	Price    Money
	Quantity int
	Category string
}

// OrderType is the dine-in/takeout distinction carried by a Cart.
type OrderType string

const (
	OrderDineIn  OrderType = "dine_in"
	OrderTakeout OrderType = "takeout"
)

// Cart is one session's order-in-progress.
type Cart struct {
	SessionID string
	Items     []CartEntry
	OrderType OrderType
	UpdatedAt time.Time
}

// Quantity returns the cart's current quantity for itemID, or 0.
func (c *Cart) Quantity(itemID string) int {
	for _, e := range c.Items {
		if e.ItemID == itemID {
			return e.Quantity
		}
	}
	return 0
}

// IdentityTier is the recognition level: anonymous, device-recognised, or
// JWT-authenticated.
type IdentityTier int

const (
	TierAnonymous        IdentityTier = 1
	TierDeviceRecognised IdentityTier = 2
	TierJWTAuthenticated IdentityTier = 3
)

// Session is the revocation ledger row, not the JWT itself — the JWT
// carries the claims; this record is what lets the database overrule a
// structurally valid token.
type Session struct {
	SessionID  string
	JTI        string
	Tier       IdentityTier
	UserID     string
	DeviceID   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
	UsageCount int64
	Revoked    bool
}

// AbandonedCart is a logged-out user's recoverable cart snapshot.
type AbandonedCart struct {
	ID                string
	UserID            string
	DeviceID          string
	Snapshot          Cart
	CreatedAt         time.Time
	ExpiresAt         time.Time
	Restored          bool
	LastStepCompleted string
}

// AbandonedBooking is a logged-out user's partial booking. BookingDetails
// is an opaque JSON-able map — booking content (dates, party size) is
// owned by the conversational-flow layer.
type AbandonedBooking struct {
	ID                string
	UserID            string
	DeviceID          string
	BookingDetails    map[string]interface{}
	CreatedAt         time.Time
	ExpiresAt         time.Time
	Restored          bool
	LastStepCompleted string
}
