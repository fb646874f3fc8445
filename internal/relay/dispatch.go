// ABOUTME: Background dispatch of inbound messages, detached from the request that carried them
// ABOUTME: Tracks in-flight work so shutdown can drain it

package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Dispatcher runs each accepted message on its own goroutine. Work survives
// the end of the inbound request and is cancelled only when base is.
type Dispatcher struct {
	base   context.Context
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher whose work lives until base is cancelled.
func NewDispatcher(base context.Context, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		base:   base,
		logger: logger.With("component", "dispatcher"),
	}
}

// Dispatch hands in to r in the background. reqCtx values are kept but its
// cancellation is not.
func (d *Dispatcher) Dispatch(reqCtx context.Context, r *Relay, in Inbound) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(reqCtx))
	stop := context.AfterFunc(d.base, cancel)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer stop()

		if err := r.Handle(ctx, in); err != nil {
			d.logger.Warn("message refused", "user_id", in.UserID, "error", err)
		}
	}()
}

// Intake binds a relay to this dispatcher for use by a frontend.
func (d *Dispatcher) Intake(r *Relay) *Intake {
	return &Intake{relay: r, dispatcher: d}
}

// Wait blocks until all dispatched messages finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("in-flight messages did not finish before drain timeout")
	}
}

// Intake is what a frontend sees: a readiness check and a fire-and-forget submit.
type Intake struct {
	relay      *Relay
	dispatcher *Dispatcher
}

// Check reports ErrConfigurationMissing when the relay cannot process messages.
func (i *Intake) Check() error {
	return i.relay.Check()
}

// Accept dispatches in for background processing.
func (i *Intake) Accept(ctx context.Context, in Inbound) {
	i.dispatcher.Dispatch(ctx, i.relay, in)
}
