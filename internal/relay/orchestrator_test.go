// ABOUTME: Tests for run polling: budgets, spacing, rate limiting and timeouts
// ABOUTME: Uses a recording sleeper so no test waits on real time

package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-relay/internal/assistant"
)

func newTestOrchestrator(t *testing.T, cfg PollConfig) (*Orchestrator, *timedBackend, *timeline, string) {
	t.Helper()
	backend, tl := newTimedBackend()
	threadID, err := backend.CreateThread(context.Background())
	require.NoError(t, err)
	return NewOrchestrator(backend, cfg, tl.sleeper(), nil), backend, tl, threadID
}

func TestOrchestrator_CompletedOnFirstPoll(t *testing.T) {
	cfg := DefaultPollConfig()
	o, backend, tl, threadID := newTestOrchestrator(t, cfg)
	backend.Statuses = []assistant.RunStatus{assistant.RunStatusCompleted}

	res, err := o.Run(context.Background(), threadID)
	require.NoError(t, err)

	assert.Equal(t, assistant.RunStatusCompleted, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 1, backend.Calls().GetRun)
	assert.Equal(t, 1, backend.Calls().CreateRun)
	assert.Equal(t, []time.Duration{cfg.InitialDelay, cfg.Interval}, tl.sleeps())
}

func TestOrchestrator_NeverTerminal(t *testing.T) {
	cfg := DefaultPollConfig()
	o, backend, tl, threadID := newTestOrchestrator(t, cfg)
	backend.Statuses = []assistant.RunStatus{assistant.RunStatusInProgress}

	res, err := o.Run(context.Background(), threadID)
	require.NoError(t, err)

	assert.Equal(t, cfg.MaxAttempts, backend.Calls().GetRun)
	assert.Equal(t, cfg.MaxAttempts, res.Attempts)
	assert.True(t, res.TimedOut)
	assert.Equal(t, assistant.RunStatusInProgress, res.Status)

	// Consecutive polls are separated by at least one full interval
	var sinceLastPoll time.Duration
	polls := 0
	for _, e := range tl.all() {
		switch e.kind {
		case "sleep":
			sinceLastPoll += e.sleep
		case "poll":
			if polls > 0 {
				assert.GreaterOrEqual(t, sinceLastPoll, cfg.Interval)
			}
			polls++
			sinceLastPoll = 0
		}
	}
	assert.Equal(t, cfg.MaxAttempts, polls)
}

func TestOrchestrator_InitialDelayBeforeFirstPoll(t *testing.T) {
	cfg := DefaultPollConfig()
	o, backend, tl, threadID := newTestOrchestrator(t, cfg)
	backend.Statuses = []assistant.RunStatus{assistant.RunStatusCompleted}

	_, err := o.Run(context.Background(), threadID)
	require.NoError(t, err)

	events := tl.all()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, event{kind: "sleep", sleep: cfg.InitialDelay}, events[0])
	assert.Equal(t, event{kind: "sleep", sleep: cfg.Interval}, events[1])
	assert.Equal(t, "poll", events[2].kind)
}

func TestOrchestrator_StopsAtFirstTerminalStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []assistant.RunStatus
		want     assistant.RunStatus
		polls    int
	}{
		{"completed after queue", []assistant.RunStatus{"queued", "in_progress", "completed"}, assistant.RunStatusCompleted, 3},
		{"failed", []assistant.RunStatus{"in_progress", "failed"}, assistant.RunStatusFailed, 2},
		{"expired", []assistant.RunStatus{"expired"}, assistant.RunStatusExpired, 1},
		{"cancelling then cancelled", []assistant.RunStatus{"cancelling", "cancelled"}, assistant.RunStatusCancelled, 2},
		{"requires action", []assistant.RunStatus{"requires_action"}, assistant.RunStatusRequiresAction, 1},
		{"unknown status is terminal", []assistant.RunStatus{"in_progress", "incomplete"}, "incomplete", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, backend, _, threadID := newTestOrchestrator(t, DefaultPollConfig())
			backend.Statuses = tt.statuses

			res, err := o.Run(context.Background(), threadID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.polls, backend.Calls().GetRun)
			assert.False(t, res.TimedOut)
		})
	}
}

func TestOrchestrator_FailedCarriesLastError(t *testing.T) {
	o, backend, _, threadID := newTestOrchestrator(t, DefaultPollConfig())
	backend.Statuses = []assistant.RunStatus{assistant.RunStatusFailed}
	backend.LastError = &assistant.RunError{Code: "rate_limit_exceeded", Message: "quota"}

	res, err := o.Run(context.Background(), threadID)
	require.NoError(t, err)
	require.NotNil(t, res.LastError)
	assert.Equal(t, "rate_limit_exceeded", res.LastError.Code)
}

func TestOrchestrator_TransientPollErrorsAreTolerated(t *testing.T) {
	o, backend, _, threadID := newTestOrchestrator(t, DefaultPollConfig())
	backend.GetRunErrors = []error{serverErr(), &assistant.TransportError{Op: "get run", Err: errors.New("reset")}}
	backend.Statuses = []assistant.RunStatus{assistant.RunStatusCompleted}

	res, err := o.Run(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, assistant.RunStatusCompleted, res.Status)
	assert.Equal(t, 3, res.Attempts)
}

func TestOrchestrator_PollErrorsExhaustBudget(t *testing.T) {
	cfg := DefaultPollConfig()
	cfg.MaxAttempts = 3
	o, backend, _, threadID := newTestOrchestrator(t, cfg)
	backend.GetRunErrors = []error{serverErr(), serverErr(), serverErr(), serverErr()}

	res, err := o.Run(context.Background(), threadID)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, assistant.RunStatusQueued, res.Status, "last observed status is the one CreateRun returned")
	assert.Equal(t, 3, backend.Calls().GetRun)
}

func TestOrchestrator_RateLimitCooldown(t *testing.T) {
	cfg := DefaultPollConfig()
	o, backend, tl, threadID := newTestOrchestrator(t, cfg)
	backend.GetRunErrors = []error{rateLimitErr(), rateLimitErr()}
	backend.Statuses = []assistant.RunStatus{assistant.RunStatusCompleted}

	res, err := o.Run(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, assistant.RunStatusCompleted, res.Status)
	assert.Equal(t, 3, res.Attempts)

	assert.Equal(t, []time.Duration{
		cfg.InitialDelay,
		cfg.Interval, cfg.RateLimitCooldown,
		cfg.Interval, cfg.RateLimitCooldown,
		cfg.Interval,
	}, tl.sleeps())
}

func TestOrchestrator_RateLimitCountsAsAttempt(t *testing.T) {
	cfg := DefaultPollConfig()
	cfg.MaxAttempts = 2
	cfg.RateLimitCountsAsAttempt = true
	o, backend, _, threadID := newTestOrchestrator(t, cfg)
	backend.GetRunErrors = []error{rateLimitErr(), rateLimitErr(), rateLimitErr()}
	backend.Statuses = []assistant.RunStatus{assistant.RunStatusCompleted}

	res, err := o.Run(context.Background(), threadID)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, 2, backend.Calls().GetRun)
}

func TestOrchestrator_RateLimitRefundsAttempt(t *testing.T) {
	cfg := DefaultPollConfig()
	cfg.MaxAttempts = 2
	cfg.RateLimitCountsAsAttempt = false
	o, backend, _, threadID := newTestOrchestrator(t, cfg)
	backend.GetRunErrors = []error{rateLimitErr(), rateLimitErr()}
	backend.Statuses = []assistant.RunStatus{assistant.RunStatusCompleted}

	res, err := o.Run(context.Background(), threadID)
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.Equal(t, assistant.RunStatusCompleted, res.Status)
	assert.Equal(t, 3, backend.Calls().GetRun)
}

func TestOrchestrator_RateLimitRefundsAreCapped(t *testing.T) {
	cfg := DefaultPollConfig()
	cfg.MaxAttempts = 2
	cfg.RateLimitCountsAsAttempt = false
	o, backend, _, threadID := newTestOrchestrator(t, cfg)
	for i := 0; i < 50; i++ {
		backend.GetRunErrors = append(backend.GetRunErrors, rateLimitErr())
	}

	res, err := o.Run(context.Background(), threadID)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, 4, backend.Calls().GetRun, "budget plus at most budget refunds")
}

func TestOrchestrator_CreateRunError(t *testing.T) {
	o, backend, tl, threadID := newTestOrchestrator(t, DefaultPollConfig())
	backend.CreateRunErr = serverErr()

	_, err := o.Run(context.Background(), threadID)
	require.Error(t, err)

	var se *assistant.StatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, 0, backend.Calls().GetRun)
	assert.Empty(t, tl.all(), "no waiting when the run was never created")
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	backend := assistant.NewMockBackend()
	backend.Statuses = []assistant.RunStatus{assistant.RunStatusInProgress}
	threadID, err := backend.CreateThread(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	polls := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		if backend.Calls().GetRun >= 2 {
			cancel()
		}
		polls = backend.Calls().GetRun
		return ctx.Err()
	}

	o := NewOrchestrator(backend, DefaultPollConfig(), sleep, nil)
	_, err = o.Run(ctx, threadID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, polls)
}

// slowBackend never answers GetRun before the caller gives up.
type slowBackend struct {
	*assistant.MockBackend
}

func (b *slowBackend) GetRun(ctx context.Context, threadID, runID string) (*assistant.Run, error) {
	<-ctx.Done()
	return nil, &assistant.TransportError{Op: "get run", Err: ctx.Err()}
}

func TestOrchestrator_PollTimeout(t *testing.T) {
	backend := &slowBackend{MockBackend: assistant.NewMockBackend()}
	threadID, err := backend.CreateThread(context.Background())
	require.NoError(t, err)

	cfg := DefaultPollConfig()
	cfg.MaxAttempts = 2
	cfg.PollTimeout = 10 * time.Millisecond
	noSleep := func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	o := NewOrchestrator(backend, cfg, noSleep, nil)
	res, err := o.Run(context.Background(), threadID)
	require.NoError(t, err, "a slow poll is an attempt, not an abort")
	assert.True(t, res.TimedOut)
	assert.Equal(t, 2, res.Attempts)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
	assert.NoError(t, SleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}
