package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/clock"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/ratelimit"
)

// SchedulerConfig carries the account-selection tuning knobs.
type SchedulerConfig struct {
	FindAccountTimeout time.Duration // default 30s
	PollInterval       time.Duration // default 5s
}

// Scheduler spreads completion calls across the account pool: round-robin
// selection from a shared cursor, with a polling retry loop bounded by a
// hard deadline. It owns no state of its own beyond the cursor; all budget
// bookkeeping lives in the pool's trackers.
type Scheduler struct {
	pool     *ratelimit.Pool
	provider Provider
	clock    clock.Clock
	cfg      SchedulerConfig

	mu     sync.Mutex
	cursor int
}

// NewScheduler builds a Scheduler over an already-warmed account pool.
func NewScheduler(pool *ratelimit.Pool, provider Provider, clk clock.Clock, cfg SchedulerConfig) *Scheduler {
	if cfg.FindAccountTimeout <= 0 {
		cfg.FindAccountTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Scheduler{pool: pool, provider: provider, clock: clk, cfg: cfg}
}

// CapacityExhaustedError is returned when account selection times out with
// every account still over its buffer. Snapshots carries the per-account
// utilisation at the moment the deadline expired.
type CapacityExhaustedError struct {
	Snapshots []ratelimit.UsageStats
}

func (e *CapacityExhaustedError) Error() string {
	return fmt.Sprintf("llm: capacity exhausted across %d accounts", len(e.Snapshots))
}

// findAccount scans round robin from the shared cursor, polling until an
// account can handle the estimate or the deadline elapses. Concurrent
// dispatches may re-read the same cursor and probe the same account in the
// same tick; CanHandle is re-checked per dispatch, so losers keep scanning.
func (s *Scheduler) findAccount(ctx context.Context, tier domain.ModelTier, estimatedTokens int) (*ratelimit.Account, error) {
	deadline := s.clock.Now().Add(s.cfg.FindAccountTimeout)

	for {
		accounts := s.pool.Accounts()
		if len(accounts) == 0 {
			return nil, &CapacityExhaustedError{}
		}

		s.mu.Lock()
		start := s.cursor
		s.mu.Unlock()

		var snapshots []ratelimit.UsageStats
		n := len(accounts)
		for i := 0; i < n; i++ {
			idx := (start + i) % n
			account := accounts[idx]
			tracker := account.TrackerFor(tier)
			ok, stats := tracker.CanHandle(estimatedTokens)
			snapshots = append(snapshots, stats)
			if ok {
				s.mu.Lock()
				s.cursor = (idx + 1) % n
				s.mu.Unlock()
				return account, nil
			}
		}

		if !s.clock.Now().Before(deadline) {
			return nil, &CapacityExhaustedError{Snapshots: snapshots}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// Ainvoke schedules and dispatches a plain completion. The token estimate
// is charged to the chosen tracker only on success; provider-side errors
// surface to the caller without a second dispatch.
func (s *Scheduler) Ainvoke(ctx context.Context, messages []Message, tier domain.ModelTier, temperature float64) (string, error) {
	estimated := estimateTokens(messages)

	account, err := s.findAccount(ctx, tier, estimated)
	if err != nil {
		return "", err
	}

	resp, err := s.provider.Complete(ctx, account.APIKey, messages, temperature)
	if err != nil {
		log.Warn().Int("account_number", account.AccountID).Err(err).Msg("llm_call_failed")
		return "", err
	}

	account.TrackerFor(tier).RecordRequest(estimated)
	return resp, nil
}

// AinvokeStructured schedules identically to Ainvoke, then constrains the
// response to schema via function-calling. Deserialisation failures are the
// caller's to handle — the classifier keeps a deterministic fallback.
func (s *Scheduler) AinvokeStructured(ctx context.Context, messages []Message, tier domain.ModelTier, schemaName string, schema map[string]interface{}) ([]byte, error) {
	estimated := structuredDefaultEstimate
	if len(messages) > 0 {
		estimated = estimateTokens(messages)
	}

	account, err := s.findAccount(ctx, tier, estimated)
	if err != nil {
		return nil, err
	}

	raw, err := s.provider.CompleteStructured(ctx, account.APIKey, messages, schemaName, schema)
	if err != nil {
		log.Warn().Int("account_number", account.AccountID).Err(err).Msg("llm_structured_call_failed")
		return nil, err
	}

	account.TrackerFor(tier).RecordRequest(estimated)
	return raw, nil
}
