// ABOUTME: Thread provisioning: reuse the user's live thread or create one
// ABOUTME: Check-then-create is serialized per user when configured

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/assistant-relay/internal/session"
)

// ThreadCreator is the slice of assistant.Backend the provisioner needs.
type ThreadCreator interface {
	CreateThread(ctx context.Context) (string, error)
}

// ProvisionOptions tune the provisioner.
type ProvisionOptions struct {
	TTL        time.Duration
	SlidingTTL bool
	// Serialize guards check-then-create with a per-user lock inside this process.
	Serialize bool
}

// Provisioner resolves the conversation thread for a user.
type Provisioner struct {
	store   session.Store
	threads ThreadCreator
	opts    ProvisionOptions
	locks   *keyedMutex
	logger  *slog.Logger
}

// NewProvisioner creates a provisioner. A non-positive TTL means session.DefaultTTL.
func NewProvisioner(store session.Store, threads ThreadCreator, opts ProvisionOptions, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = session.DefaultTTL
	}
	p := &Provisioner{
		store:   store,
		threads: threads,
		opts:    opts,
		logger:  logger.With("component", "provisioner"),
	}
	if opts.Serialize {
		p.locks = newKeyedMutex()
	}
	return p
}

// Provision returns the user's live thread, or creates one and records a new
// session with the full TTL. isNew reports which happened. Thread creation is
// attempted once; a store outage is an error, never a missing session.
func (p *Provisioner) Provision(ctx context.Context, userID string) (threadID string, isNew bool, err error) {
	if p.locks != nil {
		unlock := p.locks.Lock(userID)
		defer unlock()
	}

	threadID, err = p.store.Get(ctx, userID)
	switch {
	case err == nil:
		if p.opts.SlidingTTL {
			p.touch(ctx, userID)
		}
		return threadID, false, nil
	case !errors.Is(err, session.ErrNotFound):
		return "", false, fmt.Errorf("looking up session: %w", err)
	}

	threadID, err = p.threads.CreateThread(ctx)
	if err != nil {
		return "", false, fmt.Errorf("creating thread: %w", err)
	}

	if err := p.store.Put(ctx, userID, threadID, p.opts.TTL); err != nil {
		return "", false, fmt.Errorf("saving session for thread %s: %w", threadID, err)
	}

	p.logger.Info("new session", "user_id", userID, "thread_id", threadID, "ttl", p.opts.TTL)
	return threadID, true, nil
}

func (p *Provisioner) touch(ctx context.Context, userID string) {
	err := p.store.Touch(ctx, userID, p.opts.TTL)
	if err != nil {
		// The thread id is already in hand; a failed refresh only shortens the session
		p.logger.Warn("refreshing session ttl failed", "user_id", userID, "error", err)
	}
}
