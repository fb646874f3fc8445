// ABOUTME: Run orchestration: start a run and poll it to a terminal status
// ABOUTME: Bounded by an attempt budget with a cooldown on rate limiting

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/assistant-relay/internal/assistant"
)

// PollConfig is the polling budget for one run.
type PollConfig struct {
	InitialDelay      time.Duration
	Interval          time.Duration
	MaxAttempts       int
	RateLimitCooldown time.Duration
	PollTimeout       time.Duration // per GetRun call; 0 means no extra limit
	// RateLimitCountsAsAttempt charges a rate-limited poll against MaxAttempts.
	// When false the attempt is refunded, at most MaxAttempts times per run.
	RateLimitCountsAsAttempt bool
}

// DefaultPollConfig returns the standard budget: about 47 seconds end to end.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialDelay:             2 * time.Second,
		Interval:                 3 * time.Second,
		MaxAttempts:              15,
		RateLimitCooldown:        5 * time.Second,
		PollTimeout:              10 * time.Second,
		RateLimitCountsAsAttempt: true,
	}
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunStarter is the slice of assistant.Backend the orchestrator needs.
type RunStarter interface {
	CreateRun(ctx context.Context, threadID string) (*assistant.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*assistant.Run, error)
}

// Result is the last observation of a run.
type Result struct {
	RunID     string
	Status    assistant.RunStatus
	LastError *assistant.RunError
	Attempts  int  // GetRun calls made
	TimedOut  bool // budget exhausted while the run was still non-terminal
}

// Orchestrator starts runs and waits for them.
type Orchestrator struct {
	backend RunStarter
	cfg     PollConfig
	sleep   Sleeper
	logger  *slog.Logger
}

// NewOrchestrator creates an orchestrator. A nil sleep uses SleepContext.
func NewOrchestrator(backend RunStarter, cfg PollConfig, sleep Sleeper, logger *slog.Logger) *Orchestrator {
	if sleep == nil {
		sleep = SleepContext
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Orchestrator{
		backend: backend,
		cfg:     cfg,
		sleep:   sleep,
		logger:  logger.With("component", "orchestrator"),
	}
}

// Run starts a run on the thread and polls until it is terminal or the budget
// is spent. A CreateRun failure is returned as an error; poll failures are
// logged and count against the budget. Only ctx cancellation interrupts polling.
func (o *Orchestrator) Run(ctx context.Context, threadID string) (Result, error) {
	run, err := o.backend.CreateRun(ctx, threadID)
	if err != nil {
		return Result{}, fmt.Errorf("creating run: %w", err)
	}

	res := Result{RunID: run.ID, Status: run.Status, LastError: run.LastError}
	log := o.logger.With("thread_id", threadID, "run_id", run.ID)
	log.Debug("run created", "status", run.Status)

	if err := o.sleep(ctx, o.cfg.InitialDelay); err != nil {
		return res, err
	}

	budget := o.cfg.MaxAttempts
	refunds := 0
	charged := 0

	for !res.Status.Terminal() && charged < budget {
		charged++

		if err := o.sleep(ctx, o.cfg.Interval); err != nil {
			return res, err
		}

		res.Attempts++
		polled, err := o.poll(ctx, threadID, run.ID)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if !assistant.IsRateLimited(err) {
				log.Warn("polling run failed", "attempt", charged, "max_attempts", budget, "error", err)
				continue
			}

			log.Warn("rate limited while polling run", "attempt", charged, "cooldown", o.cfg.RateLimitCooldown)
			if err := o.sleep(ctx, o.cfg.RateLimitCooldown); err != nil {
				return res, err
			}
			if !o.cfg.RateLimitCountsAsAttempt && refunds < budget {
				refunds++
				charged--
			}
			continue
		}

		res.Status = polled.Status
		res.LastError = polled.LastError
		log.Debug("run polled", "attempt", charged, "status", res.Status)
	}

	res.TimedOut = !res.Status.Terminal()
	if res.TimedOut {
		log.Warn("run did not finish within polling budget", "attempts", res.Attempts, "status", res.Status)
	}
	return res, nil
}

func (o *Orchestrator) poll(ctx context.Context, threadID, runID string) (*assistant.Run, error) {
	if o.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.PollTimeout)
		defer cancel()
	}
	return o.backend.GetRun(ctx, threadID, runID)
}
