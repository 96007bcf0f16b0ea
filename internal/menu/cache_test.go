package menu

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
)

type fakeLoader struct {
	items      []domain.MenuItem
	categories []domain.Category
}

func (f *fakeLoader) LoadItems(ctx context.Context) ([]domain.MenuItem, error) {
	return f.items, nil
}

func (f *fakeLoader) LoadCategories(ctx context.Context) ([]domain.Category, error) {
	return f.categories, nil
}

func seedCache(t *testing.T) *Cache {
	t.Helper()
	loader := &fakeLoader{
		categories: []domain.Category{{ID: "mains", Name: "Mains"}, {ID: "drinks", Name: "Drinks"}},
		items: []domain.MenuItem{
			{ItemID: "1", Name: "Margherita Pizza", Price: 500, CategoryID: "mains", IsPopular: true},
			{ItemID: "2", Name: "Pepperoni Pizza", Price: 600, CategoryID: "mains"},
			{ItemID: "3", Name: "Veggie Burger", Price: 450, CategoryID: "mains", Description: "grilled vegetarian patty"},
			{ItemID: "4", Name: "Coke", Price: 150, CategoryID: "drinks", IsPopular: true},
			{ItemID: "5", Name: "Free Sample", Price: 0, CategoryID: "mains"},
		},
	}
	c := NewCache(loader)
	assert.NoError(t, c.Refresh(context.Background()))
	return c
}

func TestCache_ItemsByCategory_FiltersZeroPrice(t *testing.T) {
	// Arrange
	c := seedCache(t)

	// Act
	items := c.ItemsByCategory("mains")

	// Assert
	assert.Len(t, items, 3)
	for _, it := range items {
		assert.Greater(t, int(it.Price), 0)
	}
}

func TestCache_FindItem_ExactMatch(t *testing.T) {
	// Arrange
	c := seedCache(t)

	// Act
	item, ok := c.FindItem("coke")

	// Assert
	assert.True(t, ok)
	assert.Equal(t, "4", item.ItemID)
}

func TestCache_FindItem_SubstringPrefersLongest(t *testing.T) {
	// Arrange
	c := seedCache(t)

	// Act: "pizza" substring-matches both pizzas; exact match fails first,
	// so this falls to stage 2, which must prefer the longer name
	item, ok := c.FindItem("pizza")

	// Assert: "Margherita Pizza" (16 chars) is longer than "Pepperoni Pizza"
	// (15 chars)
	assert.True(t, ok)
	assert.Equal(t, "Margherita Pizza", item.Name)
}

func TestCache_FindItem_FuzzyMatch(t *testing.T) {
	// Arrange
	c := seedCache(t)

	// Act: typo close enough for a >= 0.75 ratio match
	item, ok := c.FindItem("margarita pizza")

	// Assert
	assert.True(t, ok)
	assert.Equal(t, "1", item.ItemID)
}

func TestCache_FindItem_NoMatch(t *testing.T) {
	// Arrange
	c := seedCache(t)

	// Act
	_, ok := c.FindItem("xyzzyplughqwerty")

	// Assert
	assert.False(t, ok)
}

func TestCache_FindItem_ExcludesZeroPriceItems(t *testing.T) {
	// Arrange
	c := seedCache(t)

	// Act
	_, ok := c.FindItem("Free Sample")

	// Assert
	assert.False(t, ok)
}

func TestCache_SimilarItems_SameCategoryFallback(t *testing.T) {
	// Arrange
	c := seedCache(t)

	// Act
	alts := c.SimilarItems("mains", "1", 2)

	// Assert
	assert.Len(t, alts, 2)
	for _, a := range alts {
		assert.NotEqual(t, "1", a.ItemID)
	}
}

func TestCache_SimilarItems_PopularFallbackWhenCategoryEmpty(t *testing.T) {
	// Arrange
	c := seedCache(t)

	// Act: nonexistent category forces the popular-alternatives fallback
	alts := c.SimilarItems("desserts", "", 5)

	// Assert
	assert.NotEmpty(t, alts)
	for _, a := range alts {
		assert.True(t, a.IsPopular)
	}
}

type fakeVectorIndex struct {
	ids []string
	err error
}

func (f *fakeVectorIndex) Similar(query string, limit int) ([]string, error) {
	return f.ids, f.err
}

func TestCache_SimilarItems_PrefersVectorIndex(t *testing.T) {
	// Arrange: index ranks the drink first even though the excluded item is
	// a main
	c := seedCache(t).WithVectorIndex(&fakeVectorIndex{ids: []string{"4", "2"}})

	// Act
	alts := c.SimilarItems("mains", "1", 2)

	// Assert
	assert.Len(t, alts, 2)
	assert.Equal(t, "4", alts[0].ItemID)
	assert.Equal(t, "2", alts[1].ItemID)
}

func TestCache_SimilarItems_VectorIndexErrorFallsThrough(t *testing.T) {
	// Arrange
	c := seedCache(t).WithVectorIndex(&fakeVectorIndex{err: assert.AnError})

	// Act
	alts := c.SimilarItems("mains", "1", 2)

	// Assert: same-category fallback still answers
	assert.Len(t, alts, 2)
	for _, a := range alts {
		assert.NotEqual(t, "1", a.ItemID)
	}
}

func TestCache_OnRefresh_ReceivesLoadedItems(t *testing.T) {
	// Arrange
	loader := &fakeLoader{items: []domain.MenuItem{{ItemID: "1", Name: "Coke", Price: 150}}}
	c := NewCache(loader)
	var got []domain.MenuItem
	c.OnRefresh(func(ctx context.Context, items []domain.MenuItem) { got = items })

	// Act
	assert.NoError(t, c.Refresh(context.Background()))

	// Assert
	assert.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ItemID)
}

func TestDeriveMealPeriod(t *testing.T) {
	cases := []struct {
		hour     int
		expected domain.MealPeriod
	}{
		{6, domain.MealBreakfast},
		{12, domain.MealLunch},
		{18, domain.MealDinner},
		{2, domain.MealAllDay},
		{23, domain.MealAllDay},
	}
	for _, c := range cases {
		got := DeriveMealPeriod(time.Date(2026, 1, 1, c.hour, 0, 0, 0, time.UTC))
		assert.Equal(t, c.expected, got, "hour=%d", c.hour)
	}
}

func TestMenuItem_PassesPeriod(t *testing.T) {
	noPeriods := domain.MenuItem{}
	assert.True(t, noPeriods.PassesPeriod(domain.MealBreakfast))

	allDay := domain.MenuItem{AvailabilityPeriods: map[domain.MealPeriod]bool{domain.MealAllDay: true}}
	assert.True(t, allDay.PassesPeriod(domain.MealLunch))

	lunchOnly := domain.MenuItem{AvailabilityPeriods: map[domain.MealPeriod]bool{domain.MealLunch: true}}
	assert.True(t, lunchOnly.PassesPeriod(domain.MealLunch))
	assert.False(t, lunchOnly.PassesPeriod(domain.MealDinner))
}
