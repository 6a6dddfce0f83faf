package scheduler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/smallbiznis/lanes/internal/clock"
	"github.com/smallbiznis/lanes/internal/config"
	paymentdomain "github.com/smallbiznis/lanes/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type webhookMock struct {
	mock.Mock
}

func (m *webhookMock) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	return m.Called(ctx, provider, payload, headers).Error(0)
}

func (m *webhookMock) ReplayPending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Int(0), args.Error(1)
}

var _ paymentdomain.WebhookService = (*webhookMock)(nil)

type fakeLocker struct {
	held     bool
	err      error
	released []string
}

func (l *fakeLocker) TryLock(_ context.Context, _ string, _ time.Duration) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	return "tok", true, nil
}

func (l *fakeLocker) Release(_ context.Context, key, token string) error {
	l.released = append(l.released, key+"="+token)
	return nil
}

func newScheduler(t *testing.T, hooks *webhookMock, locker Locker) (*Scheduler, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	sched, err := New(Params{
		Log:      zap.NewNop(),
		Cfg:      config.Config{Scheduler: config.SchedulerConfig{Interval: time.Minute, RetryAfter: 2 * time.Minute, BatchSize: 10}},
		Clock:    clk,
		Webhooks: hooks,
		Locker:   locker,
	})
	require.NoError(t, err)
	return sched, clk
}

func TestRunOnceReplaysOlderThanRetryWindow(t *testing.T) {
	hooks := &webhookMock{}
	locker := &fakeLocker{}
	sched, clk := newScheduler(t, hooks, locker)

	cutoff := clk.Now().Add(-2 * time.Minute)
	hooks.On("ReplayPending", mock.Anything, cutoff, 10).Return(3, nil).Once()

	n, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{lockWebhookKey + "=tok"}, locker.released)
	hooks.AssertExpectations(t)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	hooks := &webhookMock{}
	sched, _ := newScheduler(t, hooks, &fakeLocker{held: true})

	n, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	hooks.AssertNotCalled(t, "ReplayPending", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnceSurfacesErrors(t *testing.T) {
	hooks := &webhookMock{}
	sched, _ := newScheduler(t, hooks, &fakeLocker{err: errors.New("redis down")})
	_, err := sched.RunOnce(context.Background())
	assert.EqualError(t, err, "redis down")

	hooks = &webhookMock{}
	sched, _ = newScheduler(t, hooks, nil)
	hooks.On("ReplayPending", mock.Anything, mock.Anything, 10).Return(1, errors.New("db gone")).Once()
	n, err := sched.RunOnce(context.Background())
	assert.EqualError(t, err, "db gone")
	assert.Equal(t, 1, n)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStartStop(t *testing.T) {
	hooks := &webhookMock{}
	hooks.On("ReplayPending", mock.Anything, mock.Anything, mock.Anything).Return(0, nil).Maybe()
	sched, _ := newScheduler(t, hooks, nil)
	require.NoError(t, sched.Start())
	require.NoError(t, sched.Stop())
	assert.NoError(t, sched.Stop())
}
