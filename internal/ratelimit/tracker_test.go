package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestTracker(fc *fakeClock) *Tracker {
	return NewTracker(TrackerConfig{
		ModelTier:       domain.TierPrimary,
		RPMLimit:        10,
		TPMLimit:        1000,
		BufferPercent:   80,
		CooldownSeconds: 60,
		ProviderName:    "test",
	}, fc)
}

func TestTracker_CanHandle_BelowBuffer(t *testing.T) {
	// Arrange
	fc := &fakeClock{now: time.Unix(0, 0)}
	tr := newTestTracker(fc)

	// Act
	ok, stats := tr.CanHandle(50)

	// Assert
	assert.True(t, ok)
	assert.True(t, stats.CanHandle)
	assert.Equal(t, Available, stats.CooldownState)
}

func TestTracker_RecordRequest_TripsCooldownAtBuffer(t *testing.T) {
	// Arrange
	fc := &fakeClock{now: time.Unix(0, 0)}
	tr := newTestTracker(fc)

	// Act: 8 requests of 1 token each = 80% of RPM limit (10), hits the 80% buffer
	for i := 0; i < 8; i++ {
		tr.RecordRequest(1)
	}

	// Assert
	ok, stats := tr.CanHandle(1)
	assert.False(t, ok)
	assert.Equal(t, Cooling, stats.CooldownState)
}

func TestTracker_CanHandle_RejectsWhenCooling(t *testing.T) {
	// Arrange
	fc := &fakeClock{now: time.Unix(0, 0)}
	tr := newTestTracker(fc)
	for i := 0; i < 9; i++ {
		tr.RecordRequest(1)
	}

	// Act
	ok, stats := tr.CanHandle(1)

	// Assert
	assert.False(t, ok)
	assert.Equal(t, Cooling, stats.CooldownState)
	// usage numbers are still fully populated even while cooling
	assert.Equal(t, 9, stats.CurrentRPM)
}

func TestTracker_CooldownExpires_WhenUtilizationDrops(t *testing.T) {
	// Arrange
	fc := &fakeClock{now: time.Unix(0, 0)}
	tr := newTestTracker(fc)
	for i := 0; i < 9; i++ {
		tr.RecordRequest(1)
	}
	_, stats := tr.CanHandle(1)
	assert.Equal(t, Cooling, stats.CooldownState)

	// Act: advance past both the cooldown window and the sliding window so
	// utilization has actually dropped, then re-query
	fc.advance(61 * time.Second)
	ok, stats := tr.CanHandle(1)

	// Assert
	assert.True(t, ok)
	assert.Equal(t, Available, stats.CooldownState)
}

func TestTracker_CooldownExtends_WhenStillAtCapacity(t *testing.T) {
	// Arrange: cooldown is 60s and the sliding window is also 60s, so the
	// burst that tripped the cooldown is still inside the window at the
	// moment the cooldown expires
	fc := &fakeClock{now: time.Unix(0, 0)}
	tr := newTestTracker(fc)
	for i := 0; i < 9; i++ {
		tr.RecordRequest(1)
	}

	// Act: advance exactly to cooldown expiry, but the sliding window still
	// contains the same 9 requests (61s > 60s is required to clear them,
	// cooldown is exactly 60s)
	fc.advance(60 * time.Second)
	_, stats := tr.CanHandle(1)

	// Assert: still cooling, extended by 30s
	assert.Equal(t, Cooling, stats.CooldownState)
}

func TestTracker_Usage_ReportsLiveNumbersWhileCooling(t *testing.T) {
	// Arrange
	fc := &fakeClock{now: time.Unix(0, 0)}
	tr := newTestTracker(fc)
	for i := 0; i < 9; i++ {
		tr.RecordRequest(10)
	}

	// Act
	stats := tr.Usage()

	// Assert: Usage must never report zeroed numbers just because the
	// tracker is cooling
	assert.Equal(t, Cooling, stats.CooldownState)
	assert.Equal(t, 9, stats.CurrentRPM)
	assert.Equal(t, 90, stats.CurrentTPM)
}

func TestTracker_RecordRequest_TPMTripsCooldownIndependently(t *testing.T) {
	// Arrange
	fc := &fakeClock{now: time.Unix(0, 0)}
	tr := newTestTracker(fc)

	// Act: one huge request exceeds the 80% TPM buffer (800) while RPM is fine
	tr.RecordRequest(900)

	// Assert
	_, stats := tr.CanHandle(1)
	assert.Equal(t, Cooling, stats.CooldownState)
	assert.True(t, stats.TPMUtilPercent >= 80)
}
