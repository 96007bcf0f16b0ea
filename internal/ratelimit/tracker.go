// Package ratelimit implements the per-account, per-model rate-budget
// tracking and the account pool that owns those trackers. Every budget is a
// 60-second sliding window with a proactive buffer threshold: the tracker
// enters cooldown before the provider's hard limit is reached, so upstream
// rate-limit replies stay the exception rather than the steady state.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/clock"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
)

// CooldownState is the tracker's two-state machine.
type CooldownState string

const (
	Available CooldownState = "available"
	Cooling   CooldownState = "cooling"
)

const slidingWindow = 60 * time.Second

// cooldownExtension is applied when a cooldown expires but utilisation is
// still at or above the buffer threshold.
const cooldownExtension = 30 * time.Second

// TrackerConfig carries the static limits a Tracker enforces.
type TrackerConfig struct {
	ModelTier       domain.ModelTier
	RPMLimit        int
	TPMLimit        int
	BufferPercent   int    // 1-99, default 80
	CooldownSeconds int    // default 60
	ProviderName    string // for logging only
}

// UsageStats is the advisory snapshot returned by CanHandle and Usage.
type UsageStats struct {
	Provider        string
	ModelTier       domain.ModelTier
	CurrentRPM      int
	RPMLimit        int
	RPMThreshold    int
	RPMUtilPercent  float64
	CurrentTPM      int
	TPMLimit        int
	TPMThreshold    int
	TPMUtilPercent  float64
	EstimatedTokens int
	CanHandle       bool
	WouldExceedRPM  bool
	WouldExceedTPM  bool
	CooldownState   CooldownState
	CooldownUntil   time.Time
}

// Tracker tracks one model tier's RPM and TPM budgets for one account. It
// is owned exclusively by that account; nothing else may mutate it. All
// methods are safe for concurrent use — the scheduler probes trackers from
// arbitrarily many dispatching goroutines.
type Tracker struct {
	cfg   TrackerConfig
	clock clock.Clock

	mu       sync.Mutex
	requests *clock.Window // weight = tokens; count gives RPM, sum gives TPM

	state         CooldownState
	cooldownUntil time.Time
}

// NewTracker constructs a Tracker with defaults applied (buffer 80%,
// cooldown 60s) when the caller leaves them zero.
func NewTracker(cfg TrackerConfig, clk clock.Clock) *Tracker {
	if cfg.BufferPercent <= 0 {
		cfg.BufferPercent = 80
	}
	if cfg.CooldownSeconds <= 0 {
		cfg.CooldownSeconds = 60
	}
	t := &Tracker{
		cfg:      cfg,
		clock:    clk,
		requests: clock.NewWindow(clk),
		state:    Available,
	}
	log.Info().
		Str("provider", cfg.ProviderName).
		Str("model_tier", string(cfg.ModelTier)).
		Int("rpm_limit", cfg.RPMLimit).
		Int("tpm_limit", cfg.TPMLimit).
		Int("buffer_percent", cfg.BufferPercent).
		Msg("model_tracker_initialized")
	return t
}

// checkCooldownExpired advances the cooling -> available transition, or
// extends the cooldown when utilisation is still at capacity. Cooldown
// state only moves when queried — there is no background timer waking
// trackers up. Callers must hold t.mu.
func (t *Tracker) checkCooldownExpired() {
	if t.state != Cooling {
		return
	}
	now := t.clock.Now()
	if now.Before(t.cooldownUntil) {
		return
	}

	rpm := t.requests.CountWithin(slidingWindow)
	tpm := t.requests.SumWithin(slidingWindow)
	rpmUtil := percent(rpm, t.cfg.RPMLimit)
	tpmUtil := percent(tpm, t.cfg.TPMLimit)

	if rpmUtil < float64(t.cfg.BufferPercent) && tpmUtil < float64(t.cfg.BufferPercent) {
		t.state = Available
		t.cooldownUntil = time.Time{}
		log.Info().
			Str("provider", t.cfg.ProviderName).
			Float64("rpm_utilization", rpmUtil).
			Float64("tpm_utilization", tpmUtil).
			Msg("cooldown_expired_released")
		return
	}

	t.cooldownUntil = now.Add(cooldownExtension)
	log.Warn().
		Str("provider", t.cfg.ProviderName).
		Float64("rpm_utilization", rpmUtil).
		Float64("tpm_utilization", tpmUtil).
		Time("extended_until", t.cooldownUntil).
		Msg("cooldown_extended_still_at_capacity")
}

// snapshot computes the current usage numbers without regard to cooldown
// state — shared by CanHandle (which then applies the cooldown gate) and
// Usage (which reports regardless of it). Callers must hold t.mu.
func (t *Tracker) snapshot(estimatedTokens int) UsageStats {
	rpm := t.requests.CountWithin(slidingWindow)
	tpm := t.requests.SumWithin(slidingWindow)

	rpmThreshold := float64(t.cfg.RPMLimit) * float64(t.cfg.BufferPercent) / 100
	tpmThreshold := float64(t.cfg.TPMLimit) * float64(t.cfg.BufferPercent) / 100

	wouldExceedRPM := float64(rpm+1) > rpmThreshold
	wouldExceedTPM := float64(tpm+estimatedTokens) > tpmThreshold

	return UsageStats{
		Provider:        t.cfg.ProviderName,
		ModelTier:       t.cfg.ModelTier,
		CurrentRPM:      rpm,
		RPMLimit:        t.cfg.RPMLimit,
		RPMThreshold:    int(rpmThreshold),
		RPMUtilPercent:  percent(rpm, t.cfg.RPMLimit),
		CurrentTPM:      tpm,
		TPMLimit:        t.cfg.TPMLimit,
		TPMThreshold:    int(tpmThreshold),
		TPMUtilPercent:  percent(tpm, t.cfg.TPMLimit),
		EstimatedTokens: estimatedTokens,
		WouldExceedRPM:  wouldExceedRPM,
		WouldExceedTPM:  wouldExceedTPM,
		CooldownState:   t.state,
		CooldownUntil:   t.cooldownUntil,
	}
}

// CanHandle reports whether one more request of estimatedTokens would stay
// under both buffer thresholds. Advisory only: it never records anything,
// and a true result is no promise — concurrent dispatchers re-check.
func (t *Tracker) CanHandle(estimatedTokens int) (bool, UsageStats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkCooldownExpired()

	if t.state == Cooling {
		stats := t.snapshot(estimatedTokens)
		stats.CanHandle = false
		return false, stats
	}

	stats := t.snapshot(estimatedTokens)
	stats.CanHandle = !stats.WouldExceedRPM && !stats.WouldExceedTPM
	return stats.CanHandle, stats
}

// RecordRequest appends the token charge and may trip the tracker into
// cooldown. Must be called exactly once per successful LLM call.
func (t *Tracker) RecordRequest(actualTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests.Add(actualTokens)

	rpm := t.requests.CountWithin(slidingWindow)
	tpm := t.requests.SumWithin(slidingWindow)
	rpmUtil := percent(rpm, t.cfg.RPMLimit)
	tpmUtil := percent(tpm, t.cfg.TPMLimit)

	if rpmUtil >= float64(t.cfg.BufferPercent) || tpmUtil >= float64(t.cfg.BufferPercent) {
		t.state = Cooling
		t.cooldownUntil = t.clock.Now().Add(time.Duration(t.cfg.CooldownSeconds) * time.Second)
		log.Warn().
			Str("provider", t.cfg.ProviderName).
			Str("model_tier", string(t.cfg.ModelTier)).
			Float64("rpm_utilization", rpmUtil).
			Float64("tpm_utilization", tpmUtil).
			Time("cooldown_until", t.cooldownUntil).
			Msg("cooldown_triggered")
		return
	}

	log.Debug().
		Str("provider", t.cfg.ProviderName).
		Int("tokens", actualTokens).
		Float64("rpm_utilization", rpmUtil).
		Float64("tpm_utilization", tpmUtil).
		Msg("request_recorded")
}

// Usage returns the current usage snapshot, applying the same
// cooldown-expiry check CanHandle does.
func (t *Tracker) Usage() UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkCooldownExpired()
	return t.snapshot(0)
}

func percent(n, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(n) / float64(limit) * 100
}
