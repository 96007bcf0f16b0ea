package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/clock"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
)

// Account is one validated provider account: immutable after construction,
// owning exactly one tracker per model tier.
type Account struct {
	AccountID     int
	APIKey        string
	BufferPercent int

	primary *Tracker
	mini    *Tracker
}

// TrackerFor returns the tracker owned by this account for the given tier.
func (a *Account) TrackerFor(tier domain.ModelTier) *Tracker {
	if tier == domain.TierMini {
		return a.mini
	}
	return a.primary
}

// AccountSpec is the raw configuration for one account, as read from the
// ACCOUNT_{i}_* environment surface.
type AccountSpec struct {
	AccountID       int
	APIKey          string
	PrimaryRPM      int
	PrimaryTPM      int
	MiniRPM         int
	MiniTPM         int
	BufferPercent   int
	CooldownSeconds int
}

// Prober is the credit-validation probe port: a minimal completion against
// the cheapest model (max_tokens=1), used only at startup.
type Prober interface {
	Probe(ctx context.Context, apiKey string) error
}

// RateLimitError is returned by a Prober when the provider replied with a
// rate-limit/quota error; Body carries the raw message so the pool can
// classify it by substring.
type RateLimitError struct {
	Body string
}

func (e *RateLimitError) Error() string { return e.Body }

// AuthError is returned by a Prober on an authentication failure.
type AuthError struct {
	Body string
}

func (e *AuthError) Error() string { return e.Body }

// noCreditSubstrings distinguishes an exhausted account from a transient
// rate limit: any of these in the error body means the account has no
// usable credits and is excluded from the pool.
var noCreditSubstrings = []string{"quota", "billing", "insufficient_quota", "exceeded"}

func looksLikeNoCredits(body string) bool {
	lower := strings.ToLower(body)
	for _, s := range noCreditSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Pool is the validated set of provider accounts the scheduler draws from.
type Pool struct {
	clock    clock.Clock
	accounts []*Account
	mu       sync.RWMutex
}

// WarmupResult describes the outcome of probing one configured account,
// for logging and for tests asserting on startup behaviour.
type WarmupResult struct {
	AccountID int
	Included  bool
	Reason    string // "invalid_key", "no_credits", "ok", "transient_rate_limit", "other_api_error"
}

// Warmup runs the startup credit-validation probe over every configured
// spec, concurrently (probes are independent, so startup latency is the
// slowest probe, not the sum), and builds the pool from whichever accounts
// should be included. If nothing survives probing, it probes a single
// fallback key; if that also fails, it returns an error and the caller
// aborts startup.
func Warmup(ctx context.Context, specs []AccountSpec, fallback *AccountSpec, prober Prober, clk clock.Clock) (*Pool, []WarmupResult, error) {
	results := make([]WarmupResult, len(specs))
	included := make([]*AccountSpec, len(specs))

	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec AccountSpec) {
			defer wg.Done()
			res := probeOne(ctx, spec.AccountID, spec.APIKey, prober)
			results[i] = res
			if res.Included {
				included[i] = &spec
			}
		}(i, spec)
	}
	wg.Wait()

	pool := &Pool{clock: clk}
	for i, spec := range included {
		if spec == nil {
			continue
		}
		pool.accounts = append(pool.accounts, newAccount(*spec, clk))
		log.Info().
			Int("account_number", spec.AccountID).
			Str("reason", results[i].Reason).
			Msg("account_loaded")
	}

	log.Info().
		Int("validated", len(pool.accounts)).
		Int("total_configured", len(specs)).
		Msg("account_validation_complete")

	if len(pool.accounts) == 0 {
		if fallback == nil {
			return nil, results, fmt.Errorf("no LLM accounts configured")
		}
		res := probeOne(ctx, fallback.AccountID, fallback.APIKey, prober)
		results = append(results, res)
		if !res.Included {
			return nil, results, fmt.Errorf("fallback account also has no usable credits: %s", res.Reason)
		}
		pool.accounts = append(pool.accounts, newAccount(*fallback, clk))
		log.Warn().Msg("no_account_keys_found_using_fallback")
	}

	return pool, results, nil
}

func probeOne(ctx context.Context, accountID int, apiKey string, prober Prober) WarmupResult {
	err := prober.Probe(ctx, apiKey)
	if err == nil {
		return WarmupResult{AccountID: accountID, Included: true, Reason: "ok"}
	}

	var authErr *AuthError
	if isAuthError(err, &authErr) {
		log.Warn().Int("account_number", accountID).Str("reason", authErr.Error()).Msg("account_skipped_invalid_key")
		return WarmupResult{AccountID: accountID, Included: false, Reason: "invalid_key"}
	}

	var rlErr *RateLimitError
	if isRateLimitError(err, &rlErr) {
		if looksLikeNoCredits(rlErr.Body) {
			log.Warn().Int("account_number", accountID).Str("reason", rlErr.Error()).Msg("account_skipped_no_credits")
			return WarmupResult{AccountID: accountID, Included: false, Reason: "no_credits"}
		}
		return WarmupResult{AccountID: accountID, Included: true, Reason: "transient_rate_limit"}
	}

	// An unclassified API error is not proof the key is bad; include the
	// account and let the scheduler's own error handling sort it out.
	log.Warn().Int("account_number", accountID).Err(err).Msg("api_key_validation_uncertain")
	return WarmupResult{AccountID: accountID, Included: true, Reason: "other_api_error"}
}

func isAuthError(err error, target **AuthError) bool {
	e, ok := err.(*AuthError)
	if ok {
		*target = e
	}
	return ok
}

func isRateLimitError(err error, target **RateLimitError) bool {
	e, ok := err.(*RateLimitError)
	if ok {
		*target = e
	}
	return ok
}

func newAccount(spec AccountSpec, clk clock.Clock) *Account {
	buffer := spec.BufferPercent
	if buffer <= 0 {
		buffer = 80
	}
	return &Account{
		AccountID:     spec.AccountID,
		APIKey:        spec.APIKey,
		BufferPercent: buffer,
		primary: NewTracker(TrackerConfig{
			ModelTier:       domain.TierPrimary,
			RPMLimit:        spec.PrimaryRPM,
			TPMLimit:        spec.PrimaryTPM,
			BufferPercent:   buffer,
			CooldownSeconds: spec.CooldownSeconds,
			ProviderName:    fmt.Sprintf("account_%d_primary", spec.AccountID),
		}, clk),
		mini: NewTracker(TrackerConfig{
			ModelTier:       domain.TierMini,
			RPMLimit:        spec.MiniRPM,
			TPMLimit:        spec.MiniTPM,
			BufferPercent:   buffer,
			CooldownSeconds: spec.CooldownSeconds,
			ProviderName:    fmt.Sprintf("account_%d_mini", spec.AccountID),
		}, clk),
	}
}

// Accounts returns a snapshot slice of the pool's accounts. The pool is
// immutable after Warmup, so no locking is required for reads of the
// slice itself; the mutex guards against future dynamic reconfiguration.
func (p *Pool) Accounts() []*Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Account, len(p.accounts))
	copy(out, p.accounts)
	return out
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.accounts)
}
