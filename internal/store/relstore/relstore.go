// Package relstore is the relational adapter over GORM + MySQL: the
// session-token revocation ledger, device bindings, and abandoned
// cart/booking rows that internal/identity and internal/userdata need. It
// owns four tables — session_tokens, devices, abandoned_carts,
// abandoned_bookings — addressed by name only.
package relstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
)

// sessionTokenRow is the GORM model behind the session_tokens table — the
// revocation ledger, which takes precedence over JWT signature validity.
type sessionTokenRow struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	SessionID  string    `gorm:"type:varchar(64);uniqueIndex"`
	JTI        string    `gorm:"type:varchar(64);uniqueIndex"`
	Tier       int       `gorm:"not null"`
	UserID     string    `gorm:"type:varchar(64);index"`
	DeviceID   string    `gorm:"type:varchar(64);index"`
	IssuedAt   time.Time
	ExpiresAt  time.Time `gorm:"index"`
	LastUsedAt time.Time
	UsageCount int64
	Revoked    bool `gorm:"index"`
}

func (sessionTokenRow) TableName() string { return "session_tokens" }

// deviceRow is the GORM model behind the devices table. UserID is empty
// until an authentication binds the device.
type deviceRow struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	DeviceID string `gorm:"type:varchar(64);uniqueIndex"`
	UserID   string `gorm:"type:varchar(64);index"`
}

func (deviceRow) TableName() string { return "devices" }

// abandonedCartRow and abandonedBookingRow back the abandonment records.
// Snapshot/BookingDetails are stored as JSON text — the payloads are
// opaque to the relational layer.
type abandonedCartRow struct {
	ID                string `gorm:"type:varchar(36);primaryKey"`
	UserID            string `gorm:"type:varchar(64);index"`
	DeviceID          string `gorm:"type:varchar(64)"`
	SnapshotJSON      string `gorm:"type:text"`
	CreatedAt         time.Time
	ExpiresAt         time.Time `gorm:"index"`
	Restored          bool      `gorm:"index"`
	LastStepCompleted string
}

func (abandonedCartRow) TableName() string { return "abandoned_carts" }

type abandonedBookingRow struct {
	ID                 string `gorm:"type:varchar(36);primaryKey"`
	UserID             string `gorm:"type:varchar(64);index"`
	DeviceID           string `gorm:"type:varchar(64)"`
	BookingDetailsJSON string `gorm:"type:text"`
	CreatedAt          time.Time
	ExpiresAt          time.Time `gorm:"index"`
	Restored           bool      `gorm:"index"`
	LastStepCompleted  string
}

func (abandonedBookingRow) TableName() string { return "abandoned_bookings" }

// Store is the relational adapter backing the identity ledger, device
// bindings, and abandonment records.
type Store struct {
	db *gorm.DB
}

// Connect opens a pooled GORM connection.
func Connect(dsn string, production bool) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("relstore: MYSQL_DSN is required")
	}

	level := logger.Info
	if production {
		level = logger.Error
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:      logger.Default.LogMode(level),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("relstore: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("relstore: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("relstore: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// AutoMigrate creates/updates the four tables this adapter owns.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&sessionTokenRow{}, &deviceRow{}, &abandonedCartRow{}, &abandonedBookingRow{})
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- identity.Ledger ---

func (s *Store) Lookup(ctx context.Context, jti string) (domain.Session, bool, error) {
	var row sessionTokenRow
	err := s.db.WithContext(ctx).Where("jti = ?", jti).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("relstore: lookup jti %s: %w", jti, err)
	}
	return toSession(row), true, nil
}

func (s *Store) Upsert(ctx context.Context, session domain.Session) error {
	row := sessionTokenRow{
		SessionID:  session.SessionID,
		JTI:        session.JTI,
		Tier:       int(session.Tier),
		UserID:     session.UserID,
		DeviceID:   session.DeviceID,
		IssuedAt:   session.IssuedAt,
		ExpiresAt:  session.ExpiresAt,
		LastUsedAt: session.LastUsedAt,
		UsageCount: session.UsageCount,
		Revoked:    session.Revoked,
	}
	return s.db.WithContext(ctx).
		Where("jti = ?", session.JTI).
		Assign(row).
		FirstOrCreate(&sessionTokenRow{}).Error
}

func (s *Store) Revoke(ctx context.Context, jti string) error {
	return s.db.WithContext(ctx).Model(&sessionTokenRow{}).
		Where("jti = ?", jti).
		Update("revoked", true).Error
}

func toSession(row sessionTokenRow) domain.Session {
	return domain.Session{
		SessionID:  row.SessionID,
		JTI:        row.JTI,
		Tier:       domain.IdentityTier(row.Tier),
		UserID:     row.UserID,
		DeviceID:   row.DeviceID,
		IssuedAt:   row.IssuedAt,
		ExpiresAt:  row.ExpiresAt,
		LastUsedAt: row.LastUsedAt,
		UsageCount: row.UsageCount,
		Revoked:    row.Revoked,
	}
}

// --- identity.DeviceStore ---

func (s *Store) LookupDevice(ctx context.Context, deviceID string) (string, bool, error) {
	var row deviceRow
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("relstore: lookup device %s: %w", deviceID, err)
	}
	return row.UserID, row.UserID != "", nil
}

func (s *Store) BindDevice(ctx context.Context, deviceID, userID string) error {
	return s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Assign(deviceRow{DeviceID: deviceID, UserID: userID}).
		FirstOrCreate(&deviceRow{}).Error
}

// RegisterDevice records a device with no user bound yet; an existing row
// is left untouched so registration never clears a binding.
func (s *Store) RegisterDevice(ctx context.Context, deviceID string) error {
	return s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Attrs(deviceRow{DeviceID: deviceID}).
		FirstOrCreate(&deviceRow{}).Error
}

// --- userdata.AbandonedStore ---

func (s *Store) FindUnrestoredCart(ctx context.Context, userID string) (domain.AbandonedCart, bool, error) {
	var row abandonedCartRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND restored = ?", userID, false).
		Order("created_at DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return domain.AbandonedCart{}, false, nil
	}
	if err != nil {
		return domain.AbandonedCart{}, false, fmt.Errorf("relstore: find abandoned cart for %s: %w", userID, err)
	}
	cart, err := toAbandonedCart(row)
	if err != nil {
		return domain.AbandonedCart{}, false, err
	}
	return cart, true, nil
}

func (s *Store) FindUnrestoredBooking(ctx context.Context, userID string) (domain.AbandonedBooking, bool, error) {
	var row abandonedBookingRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND restored = ?", userID, false).
		Order("created_at DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return domain.AbandonedBooking{}, false, nil
	}
	if err != nil {
		return domain.AbandonedBooking{}, false, fmt.Errorf("relstore: find abandoned booking for %s: %w", userID, err)
	}
	booking, err := toAbandonedBooking(row)
	if err != nil {
		return domain.AbandonedBooking{}, false, err
	}
	return booking, true, nil
}

func (s *Store) UpsertCart(ctx context.Context, cart domain.AbandonedCart) error {
	snapshot, err := json.Marshal(cart.Snapshot)
	if err != nil {
		return fmt.Errorf("relstore: marshal cart snapshot: %w", err)
	}
	row := abandonedCartRow{
		ID:                cart.ID,
		UserID:            cart.UserID,
		DeviceID:          cart.DeviceID,
		SnapshotJSON:      string(snapshot),
		CreatedAt:         cart.CreatedAt,
		ExpiresAt:         cart.ExpiresAt,
		Restored:          cart.Restored,
		LastStepCompleted: cart.LastStepCompleted,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) UpsertBooking(ctx context.Context, booking domain.AbandonedBooking) error {
	details, err := json.Marshal(booking.BookingDetails)
	if err != nil {
		return fmt.Errorf("relstore: marshal booking details: %w", err)
	}
	row := abandonedBookingRow{
		ID:                 booking.ID,
		UserID:             booking.UserID,
		DeviceID:           booking.DeviceID,
		BookingDetailsJSON: string(details),
		CreatedAt:          booking.CreatedAt,
		ExpiresAt:          booking.ExpiresAt,
		Restored:           booking.Restored,
		LastStepCompleted:  booking.LastStepCompleted,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) MarkCartRestored(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&abandonedCartRow{}).
		Where("id = ?", id).
		Update("restored", true).Error
}

func toAbandonedCart(row abandonedCartRow) (domain.AbandonedCart, error) {
	var cart domain.Cart
	if err := json.Unmarshal([]byte(row.SnapshotJSON), &cart); err != nil {
		return domain.AbandonedCart{}, fmt.Errorf("relstore: unmarshal cart snapshot %s: %w", row.ID, err)
	}
	return domain.AbandonedCart{
		ID:                row.ID,
		UserID:            row.UserID,
		DeviceID:          row.DeviceID,
		Snapshot:          cart,
		CreatedAt:         row.CreatedAt,
		ExpiresAt:         row.ExpiresAt,
		Restored:          row.Restored,
		LastStepCompleted: row.LastStepCompleted,
	}, nil
}

func toAbandonedBooking(row abandonedBookingRow) (domain.AbandonedBooking, error) {
	var details map[string]interface{}
	if err := json.Unmarshal([]byte(row.BookingDetailsJSON), &details); err != nil {
		return domain.AbandonedBooking{}, fmt.Errorf("relstore: unmarshal booking details %s: %w", row.ID, err)
	}
	return domain.AbandonedBooking{
		ID:                row.ID,
		UserID:            row.UserID,
		DeviceID:          row.DeviceID,
		BookingDetails:    details,
		CreatedAt:         row.CreatedAt,
		ExpiresAt:         row.ExpiresAt,
		Restored:          row.Restored,
		LastStepCompleted: row.LastStepCompleted,
	}, nil
}
