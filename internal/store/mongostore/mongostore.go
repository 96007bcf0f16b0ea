// Package mongostore is the canonical document-store adapter: the
// menu/category documents internal/menu.Cache loads on startup and on its
// periodic refresh, canonical stock counts for inventory seeding, and user
// preference documents for login hydration. Read-only from this process's
// perspective — menu authoring happens elsewhere.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/inventory"
)

const queryTimeout = 5 * time.Second

// menuItemDoc and categoryDoc mirror domain.MenuItem/domain.Category for
// BSON round-tripping; the core's domain types stay storage-agnostic.
type menuItemDoc struct {
	ItemID              string   `bson:"item_id"`
	Name                string   `bson:"name"`
	Price               int64    `bson:"price"`
	CategoryID          string   `bson:"category_id"`
	CategoryName        string   `bson:"category_name"`
	Description         string   `bson:"description"`
	IsAvailable         bool     `bson:"is_available"`
	IsPopular           bool     `bson:"is_popular"`
	SpiceLevel          *int     `bson:"spice_level,omitempty"`
	Calories            *int     `bson:"calories,omitempty"`
	PrepMinutes         *int     `bson:"prep_minutes,omitempty"`
	AvailabilityPeriods []string `bson:"availability_periods"`
	StockQuantity       int      `bson:"stock_quantity"`
}

type categoryDoc struct {
	ID   string `bson:"category_id"`
	Name string `bson:"name"`
}

type preferencesDoc struct {
	UserID      string                 `bson:"user_id"`
	Preferences map[string]interface{} `bson:"preferences"`
}

// Store is the mongo-backed canonical adapter behind menu.Loader and
// userdata.PreferencesStore.
type Store struct {
	client      *mongo.Client
	items       *mongo.Collection
	categories  *mongo.Collection
	preferences *mongo.Collection
}

// Connect dials MongoDB and returns a Store over the named database.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	db := client.Database(dbName)
	return &Store{
		client:      client,
		items:       db.Collection("menu_items"),
		categories:  db.Collection("menu_categories"),
		preferences: db.Collection("user_preferences"),
	}, nil
}

// Close disconnects the underlying mongo client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// LoadItems implements menu.Loader: the full canonical item snapshot.
func (s *Store) LoadItems(ctx context.Context) ([]domain.MenuItem, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := s.items.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongostore: find menu_items: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.MenuItem
	for cursor.Next(ctx) {
		var doc menuItemDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongostore: decode menu item: %w", err)
		}
		out = append(out, toMenuItem(doc))
	}
	return out, cursor.Err()
}

// LoadCategories implements menu.Loader.
func (s *Store) LoadCategories(ctx context.Context) ([]domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := s.categories.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongostore: find menu_categories: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.Category
	for cursor.Next(ctx) {
		var doc categoryDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongostore: decode category: %w", err)
		}
		out = append(out, domain.Category{ID: doc.ID, Name: doc.Name})
	}
	return out, cursor.Err()
}

// LoadStock returns the canonical stock count per item, for seeding the
// reservation engine.
func (s *Store) LoadStock(ctx context.Context) ([]inventory.CanonicalItem, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := s.items.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongostore: find menu_items: %w", err)
	}
	defer cursor.Close(ctx)

	var out []inventory.CanonicalItem
	for cursor.Next(ctx) {
		var doc menuItemDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongostore: decode menu item: %w", err)
		}
		out = append(out, inventory.CanonicalItem{ItemID: doc.ItemID, AvailableQuantity: doc.StockQuantity})
	}
	return out, cursor.Err()
}

// LoadPreferences implements userdata.PreferencesStore: a user with no
// preferences document yet gets an empty map, not an error.
func (s *Store) LoadPreferences(ctx context.Context, userID string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc preferencesDoc
	err := s.preferences.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: find preferences for %s: %w", userID, err)
	}
	return doc.Preferences, nil
}

func toMenuItem(doc menuItemDoc) domain.MenuItem {
	periods := make(map[domain.MealPeriod]bool, len(doc.AvailabilityPeriods))
	for _, p := range doc.AvailabilityPeriods {
		periods[domain.MealPeriod(p)] = true
	}
	return domain.MenuItem{
		ItemID:              doc.ItemID,
		Name:                doc.Name,
		Price:               domain.Money(doc.Price),
		CategoryID:          doc.CategoryID,
		CategoryName:        doc.CategoryName,
		Description:         doc.Description,
		IsAvailable:         doc.IsAvailable,
		IsPopular:           doc.IsPopular,
		SpiceLevel:          doc.SpiceLevel,
		Calories:            doc.Calories,
		PrepMinutes:         doc.PrepMinutes,
		AvailabilityPeriods: periods,
	}
}
