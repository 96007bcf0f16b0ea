package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/inventory"
)

type fakeCartStore struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
}

func newFakeCartStore() *fakeCartStore {
	return &fakeCartStore{carts: map[string]domain.Cart{}}
}

func (f *fakeCartStore) Load(ctx context.Context, sessionID string) (domain.Cart, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[sessionID]
	return c, ok, nil
}

func (f *fakeCartStore) Save(ctx context.Context, c domain.Cart, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carts[c.SessionID] = c
	return nil
}

func (f *fakeCartStore) Delete(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts, sessionID)
	return nil
}

type fakeMenu struct {
	items map[string]domain.MenuItem
}

func (f *fakeMenu) GetItem(id string) (domain.MenuItem, bool) {
	item, ok := f.items[id]
	return item, ok
}

func (f *fakeMenu) FindItem(name string) (domain.MenuItem, bool) {
	for _, item := range f.items {
		if item.Name == name {
			return item, true
		}
	}
	return domain.MenuItem{}, false
}

func (f *fakeMenu) SimilarItems(categoryID string, exclude string, limit int) []domain.MenuItem {
	var out []domain.MenuItem
	for _, item := range f.items {
		if item.CategoryID == categoryID && item.ItemID != exclude {
			out = append(out, item)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func setup(t *testing.T) (*Service, *fakeCartStore, *inventory.Engine) {
	t.Helper()
	invStore := newFakeInvStore()
	engine := inventory.NewEngine(invStore, nil)
	_ = engine.SyncFromCanonical(context.Background(), []inventory.CanonicalItem{
		{ItemID: "pizza", AvailableQuantity: 5},
	})
	menuFake := &fakeMenu{items: map[string]domain.MenuItem{
		"pizza": {ItemID: "pizza", Name: "Margherita Pizza", Price: 500, CategoryID: "mains"},
	}}
	store := newFakeCartStore()
	svc := NewService(store, engine, menuFake, nil)
	return svc, store, engine
}

func TestCart_Add_NewItem(t *testing.T) {
	// Arrange
	svc, _, _ := setup(t)

	// Act
	cart, err := svc.Add(context.Background(), "sess-1", "pizza", 2)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 2, cart.Quantity("pizza"))
}

func TestCart_Add_AccumulatesQuantity(t *testing.T) {
	// Arrange
	svc, _, _ := setup(t)
	ctx := context.Background()
	_, _ = svc.Add(ctx, "sess-1", "pizza", 2)

	// Act
	cart, err := svc.Add(ctx, "sess-1", "pizza", 1)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 3, cart.Quantity("pizza"))
}

func TestCart_Add_OutOfStockDoesNotMutateCart(t *testing.T) {
	// Arrange
	svc, store, _ := setup(t)
	ctx := context.Background()

	// Act
	_, err := svc.Add(ctx, "sess-1", "pizza", 99)

	// Assert
	assert.Error(t, err)
	var failure *AddFailure
	assert.ErrorAs(t, err, &failure)
	cart, ok, _ := store.Load(ctx, "sess-1")
	assert.False(t, ok)
	assert.Empty(t, cart.Items)
}

func TestCart_Remove_ReleasesReservation(t *testing.T) {
	// Arrange
	svc, _, engine := setup(t)
	ctx := context.Background()
	_, _ = svc.Add(ctx, "sess-1", "pizza", 2)

	// Act
	cart, err := svc.Remove(ctx, "sess-1", "pizza")

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 0, cart.Quantity("pizza"))
	assert.Equal(t, 5, engine.Available(ctx, "pizza"))
}

func TestCart_UpdateQuantity_IsNetAware(t *testing.T) {
	// Arrange
	svc, _, engine := setup(t)
	ctx := context.Background()
	_, _ = svc.Add(ctx, "sess-1", "pizza", 4)

	// Act
	cart, err := svc.UpdateQuantity(ctx, "sess-1", "pizza", 1)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 1, cart.Quantity("pizza"))
	assert.Equal(t, 4, engine.Available(ctx, "pizza"))
}

func TestCart_Clear_ReleasesAllAndDeletesCart(t *testing.T) {
	// Arrange
	svc, store, engine := setup(t)
	ctx := context.Background()
	_, _ = svc.Add(ctx, "sess-1", "pizza", 3)

	// Act
	err := svc.Clear(ctx, "sess-1")

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 5, engine.Available(ctx, "pizza"))
	_, ok, _ := store.Load(ctx, "sess-1")
	assert.False(t, ok)
}

func TestCart_CheckExisting_DoesNotMutate(t *testing.T) {
	// Arrange
	svc, _, _ := setup(t)
	ctx := context.Background()
	_, _ = svc.Add(ctx, "sess-1", "pizza", 1)

	// Act
	cart, _, ok, err := svc.CheckExisting(ctx, "sess-1")

	// Assert
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, cart.Quantity("pizza"))
}

// fakeInvStore is a minimal in-memory inventory.Store, duplicated here
// (rather than imported from the inventory package's test file) since Go
// test helpers aren't exported across packages.
type fakeInvStore struct {
	mu        sync.Mutex
	available map[string]int
	reserved  map[string]map[string]int
}

func newFakeInvStore() *fakeInvStore {
	return &fakeInvStore{available: map[string]int{}, reserved: map[string]map[string]int{}}
}

func (f *fakeInvStore) SetAvailable(ctx context.Context, itemID string, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available[itemID] = qty
	return nil
}

func (f *fakeInvStore) Available(ctx context.Context, itemID string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qty, ok := f.available[itemID]
	return qty, ok, nil
}

func (f *fakeInvStore) Reserve(ctx context.Context, itemID, userID string, qty int) (inventory.ReserveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	available, ok := f.available[itemID]
	if !ok {
		return inventory.ReserveResult{Unknown: true}, nil
	}
	existing := f.reserved[itemID][userID]
	net := qty - existing
	if net > available {
		return inventory.ReserveResult{OK: false, Available: available}, nil
	}
	f.available[itemID] = available - net
	if f.reserved[itemID] == nil {
		f.reserved[itemID] = map[string]int{}
	}
	f.reserved[itemID][userID] = qty
	return inventory.ReserveResult{OK: true}, nil
}

func (f *fakeInvStore) Release(ctx context.Context, itemID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	qty, ok := f.reserved[itemID][userID]
	if !ok {
		return nil
	}
	f.available[itemID] += qty
	delete(f.reserved[itemID], userID)
	return nil
}

func (f *fakeInvStore) Confirm(ctx context.Context, itemID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reserved[itemID], userID)
	return nil
}

func (f *fakeInvStore) ReservedTotal(ctx context.Context, itemID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, qty := range f.reserved[itemID] {
		total += qty
	}
	return total, nil
}
