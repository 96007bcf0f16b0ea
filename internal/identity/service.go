// Package identity implements the three-tier recognition model
// (anonymous, device-recognised, JWT-authenticated), JWT issue/validate/
// renew with sliding-window extension, and device binding. The database
// revocation ledger has precedence over the JWT's own signature validity:
// a revoked jti is rejected no matter how well-formed the token is.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
)

// DefaultLifetime and RenewalThreshold are the session-token defaults: a
// token lives 30 days and is silently renewed once it validates with less
// than 7 days remaining.
const (
	DefaultLifetime  = 30 * 24 * time.Hour
	RenewalThreshold = 7 * 24 * time.Hour
)

// sessionClaims is the session-token payload.
type sessionClaims struct {
	JTI      string `json:"jti"`
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

// Ledger is the revocation-ledger port (backed by relstore's
// session_tokens table in production).
type Ledger interface {
	Lookup(ctx context.Context, jti string) (domain.Session, bool, error)
	Upsert(ctx context.Context, session domain.Session) error
	Revoke(ctx context.Context, jti string) error
}

// DeviceStore is the device-binding port (relstore's devices table).
// RegisterDevice records a device with no user yet so a later
// authentication can bind it.
type DeviceStore interface {
	LookupDevice(ctx context.Context, deviceID string) (userID string, bound bool, err error)
	BindDevice(ctx context.Context, deviceID, userID string) error
	RegisterDevice(ctx context.Context, deviceID string) error
}

// EventPublisher is the slice of the domain event publisher the identity
// service needs.
type EventPublisher interface {
	PublishSessionIssued(ctx context.Context, sessionID, userID string)
	PublishSessionRevoked(ctx context.Context, sessionID string)
}

// Service resolves identity tiers and owns the session-token lifecycle.
type Service struct {
	ledger   Ledger
	devices  DeviceStore
	events   EventPublisher
	secret   []byte
	lifetime time.Duration
	renewAt  time.Duration
	now      func() time.Time
}

func NewService(ledger Ledger, devices DeviceStore, events EventPublisher, secret string) *Service {
	return &Service{
		ledger:   ledger,
		devices:  devices,
		events:   events,
		secret:   []byte(secret),
		lifetime: DefaultLifetime,
		renewAt:  RenewalThreshold,
		now:      time.Now,
	}
}

// SetLifetimes overrides the token lifetime and renewal threshold.
func (s *Service) SetLifetimes(lifetime, renewalThreshold time.Duration) {
	if lifetime > 0 {
		s.lifetime = lifetime
	}
	if renewalThreshold > 0 {
		s.renewAt = renewalThreshold
	}
}

// Resolution is the outcome of tier resolution.
type Resolution struct {
	Tier     domain.IdentityTier
	UserID   string
	DeviceID string
	Token    string // the (possibly renewed) session token, set only at Tier 3
}

// Resolve walks the tier priority order: valid session token, then bound
// device, then bare device (registered for later binding), then anonymous.
func (s *Service) Resolve(ctx context.Context, sessionToken, deviceID string) (Resolution, error) {
	if sessionToken != "" {
		res, err := s.validateAndMaybeRenew(ctx, sessionToken)
		if err == nil {
			return res, nil
		}
		log.Debug().Err(err).Msg("session_token_rejected_falling_back_to_device_tier")
	}

	if deviceID != "" {
		userID, bound, err := s.devices.LookupDevice(ctx, deviceID)
		if err != nil {
			return Resolution{}, fmt.Errorf("identity: lookup device %s: %w", deviceID, err)
		}
		if bound {
			return Resolution{Tier: domain.TierDeviceRecognised, UserID: userID, DeviceID: deviceID}, nil
		}
		if err := s.devices.RegisterDevice(ctx, deviceID); err != nil {
			log.Warn().Err(err).Str("device_id", deviceID).Msg("device_registration_failed")
		}
		return Resolution{Tier: domain.TierAnonymous, DeviceID: deviceID}, nil
	}

	return Resolution{Tier: domain.TierAnonymous}, nil
}

// validateAndMaybeRenew decodes claims, checks the revocation ledger
// (which takes precedence over signature validity), and applies the
// sliding-window renewal. The old JWT stays valid until its original
// expiry; subsequent calls receive the renewed one.
func (s *Service) validateAndMaybeRenew(ctx context.Context, tokenString string) (Resolution, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})

	// A parse/signature error doesn't end the check: the ledger is
	// consulted regardless so an already-revoked jti is reported
	// consistently, but we need a jti to look up — if claims didn't even
	// decode, there is nothing to check.
	if err != nil && claims.JTI == "" {
		return Resolution{}, domain.Wrap(domain.ErrInvalidToken, "could not parse session token", err)
	}

	record, found, lookupErr := s.ledger.Lookup(ctx, claims.JTI)
	if lookupErr != nil {
		return Resolution{}, fmt.Errorf("identity: ledger lookup: %w", lookupErr)
	}
	if !found || record.Revoked {
		return Resolution{}, domain.NewError(domain.ErrTokenRevoked, "session token revoked or unknown")
	}
	if err != nil || !token.Valid {
		return Resolution{}, domain.Wrap(domain.ErrInvalidToken, "session token signature invalid", err)
	}
	now := s.now()
	if now.After(record.ExpiresAt) {
		return Resolution{}, domain.NewError(domain.ErrTokenExpired, "session token expired")
	}

	record.LastUsedAt = now
	record.UsageCount++

	renewedToken := tokenString
	if record.ExpiresAt.Sub(now) < s.renewAt {
		record.ExpiresAt = now.Add(s.lifetime)
		signed, signErr := s.sign(claims.JTI, record.UserID, record.DeviceID, now, record.ExpiresAt)
		if signErr != nil {
			return Resolution{}, fmt.Errorf("identity: renew sign: %w", signErr)
		}
		renewedToken = signed
		log.Info().Str("jti", claims.JTI).Time("new_exp", record.ExpiresAt).Msg("session_renewed")
	}

	if err := s.ledger.Upsert(ctx, record); err != nil {
		return Resolution{}, fmt.Errorf("identity: persist renewal: %w", err)
	}

	return Resolution{Tier: domain.TierJWTAuthenticated, UserID: record.UserID, DeviceID: record.DeviceID, Token: renewedToken}, nil
}

// Issue is the authentication flow's final step: bind the device to the
// user, issue a fresh JWT, persist the ledger row, return the token.
func (s *Service) Issue(ctx context.Context, userID, deviceID string) (string, error) {
	if deviceID != "" {
		if err := s.devices.BindDevice(ctx, deviceID, userID); err != nil {
			return "", fmt.Errorf("identity: bind device %s: %w", deviceID, err)
		}
	}

	jti := uuid.New().String()
	now := s.now()
	exp := now.Add(s.lifetime)

	signed, err := s.sign(jti, userID, deviceID, now, exp)
	if err != nil {
		return "", fmt.Errorf("identity: sign: %w", err)
	}

	session := domain.Session{
		SessionID: uuid.New().String(),
		JTI:       jti,
		Tier:      domain.TierJWTAuthenticated,
		UserID:    userID,
		DeviceID:  deviceID,
		IssuedAt:  now,
		ExpiresAt: exp,
		LastUsedAt: now,
		UsageCount: 0,
	}
	if err := s.ledger.Upsert(ctx, session); err != nil {
		return "", fmt.Errorf("identity: persist session: %w", err)
	}

	if s.events != nil {
		s.events.PublishSessionIssued(ctx, session.SessionID, userID)
	}
	return signed, nil
}

func (s *Service) sign(jti, userID, deviceID string, iat, exp time.Time) (string, error) {
	claims := sessionClaims{
		JTI:      jti,
		UserID:   userID,
		DeviceID: deviceID,
		Type:     "session",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Revoke marks a session's jti revoked in the ledger; the JWT is rejected
// from then on regardless of remaining signature validity.
func (s *Service) Revoke(ctx context.Context, jti string) error {
	if err := s.ledger.Revoke(ctx, jti); err != nil {
		return fmt.Errorf("identity: revoke %s: %w", jti, err)
	}
	if s.events != nil {
		s.events.PublishSessionRevoked(ctx, jti)
	}
	return nil
}
