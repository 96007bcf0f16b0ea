package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/clock"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
	"github.com/vamsi-chittoor-constient/chatbot-core/internal/ratelimit"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Complete(ctx context.Context, apiKey string, messages []Message, temperature float64) (string, error) {
	args := m.Called(ctx, apiKey, messages, temperature)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) CompleteStructured(ctx context.Context, apiKey string, messages []Message, schemaName string, schema map[string]interface{}) ([]byte, error) {
	args := m.Called(ctx, apiKey, messages, schemaName, schema)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func onePoolOneAccount(t *testing.T, fc *fakeClock) *ratelimit.Pool {
	t.Helper()
	prober := new(fakeAlwaysOkProber)
	pool, _, err := ratelimit.Warmup(context.Background(), []ratelimit.AccountSpec{
		{AccountID: 1, APIKey: "key-1", PrimaryRPM: 10, PrimaryTPM: 10000, MiniRPM: 10, MiniTPM: 10000, BufferPercent: 80},
	}, nil, prober, fc)
	assert.NoError(t, err)
	return pool
}

type fakeAlwaysOkProber struct{}

func (fakeAlwaysOkProber) Probe(ctx context.Context, apiKey string) error { return nil }

func TestScheduler_Ainvoke_Success(t *testing.T) {
	// Arrange
	fc := &fakeClock{now: time.Unix(0, 0)}
	pool := onePoolOneAccount(t, fc)
	provider := new(MockProvider)
	provider.On("Complete", mock.Anything, "key-1", mock.Anything, 0.7).Return("hello", nil)
	scheduler := NewScheduler(pool, provider, fc, SchedulerConfig{})

	// Act
	resp, err := scheduler.Ainvoke(context.Background(), []Message{{Role: "user", Content: "hi"}}, domain.TierPrimary, 0.7)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "hello", resp)
	provider.AssertExpectations(t)
}

func TestScheduler_Ainvoke_ProviderErrorDoesNotRecord(t *testing.T) {
	// Arrange
	fc := &fakeClock{now: time.Unix(0, 0)}
	pool := onePoolOneAccount(t, fc)
	provider := new(MockProvider)
	provider.On("Complete", mock.Anything, "key-1", mock.Anything, 0.0).Return("", &RateLimitedError{Body: "slow down"})
	scheduler := NewScheduler(pool, provider, fc, SchedulerConfig{})

	account := pool.Accounts()[0]
	before := account.TrackerFor(domain.TierPrimary).Usage().CurrentRPM

	// Act
	_, err := scheduler.Ainvoke(context.Background(), []Message{{Role: "user", Content: "hi"}}, domain.TierPrimary, 0.0)

	// Assert
	assert.Error(t, err)
	after := account.TrackerFor(domain.TierPrimary).Usage().CurrentRPM
	assert.Equal(t, before, after)
}

func TestScheduler_FindAccount_RotatesRoundRobin(t *testing.T) {
	// Arrange
	fc := &fakeClock{now: time.Unix(0, 0)}
	prober := fakeAlwaysOkProber{}
	pool, _, err := ratelimit.Warmup(context.Background(), []ratelimit.AccountSpec{
		{AccountID: 1, APIKey: "key-1", PrimaryRPM: 10, PrimaryTPM: 10000, MiniRPM: 10, MiniTPM: 10000, BufferPercent: 80},
		{AccountID: 2, APIKey: "key-2", PrimaryRPM: 10, PrimaryTPM: 10000, MiniRPM: 10, MiniTPM: 10000, BufferPercent: 80},
	}, nil, prober, fc)
	assert.NoError(t, err)

	provider := new(MockProvider)
	provider.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("ok", nil)
	scheduler := NewScheduler(pool, provider, fc, SchedulerConfig{})

	// Act
	first, err1 := scheduler.findAccount(context.Background(), domain.TierPrimary, 10)
	second, err2 := scheduler.findAccount(context.Background(), domain.TierPrimary, 10)

	// Assert
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.NotEqual(t, first.AccountID, second.AccountID)
}

func TestScheduler_FindAccount_TimesOutWhenAllCooling(t *testing.T) {
	// Arrange: uses the real clock so the find_account deadline actually
	// elapses in wall time; a fake clock that never advances on its own
	// would make this loop forever.
	rc := clock.Real{}
	prober := fakeAlwaysOkProber{}
	pool, _, err := ratelimit.Warmup(context.Background(), []ratelimit.AccountSpec{
		{AccountID: 1, APIKey: "key-1", PrimaryRPM: 1, PrimaryTPM: 10, MiniRPM: 1, MiniTPM: 10, BufferPercent: 1},
	}, nil, prober, rc)
	assert.NoError(t, err)
	pool.Accounts()[0].TrackerFor(domain.TierPrimary).RecordRequest(10)

	provider := new(MockProvider)
	scheduler := NewScheduler(pool, provider, rc, SchedulerConfig{FindAccountTimeout: 5 * time.Millisecond, PollInterval: 2 * time.Millisecond})

	// Act
	_, err = scheduler.findAccount(context.Background(), domain.TierPrimary, 10)

	// Assert
	assert.Error(t, err)
	var capErr *CapacityExhaustedError
	assert.True(t, errors.As(err, &capErr))
}
