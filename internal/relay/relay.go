// ABOUTME: Relay ties provisioning, submission, polling and translation into one flow
// ABOUTME: Every accepted message produces exactly one final reply to the user

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/assistant-relay/internal/assistant"
	"github.com/2389/assistant-relay/internal/session"
)

// ErrConfigurationMissing means the assistant credentials are not configured.
var ErrConfigurationMissing = errors.New("assistant configuration missing")

// Inbound is a text message received from a messaging frontend.
type Inbound struct {
	UserID    string
	Text      string
	MessageID string // frontend message id, for logs
}

// Deliverer sends text back to a user on the frontend the message came from.
type Deliverer interface {
	Send(ctx context.Context, userID, text string) error
}

// InterimSender is implemented by deliverers that treat texts sent before the
// final reply differently, such as keeping a typing indicator on.
type InterimSender interface {
	SendInterim(ctx context.Context, userID, text string) error
}

// Config holds everything one Relay needs besides its collaborators.
type Config struct {
	Frontend    string // label for logs and metrics
	APIKey      string
	AssistantID string

	Session        ProvisionOptions
	Polling        PollConfig
	WelcomeEnabled bool
	WelcomeGap     time.Duration
	Messages       Messages

	Sleep  Sleeper      // nil means SleepContext
	Meter  metric.Meter // nil means the global meter provider
	Tracer trace.Tracer // nil means the global tracer provider
}

// Check reports ErrConfigurationMissing when credentials are absent.
func (c Config) Check() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if c.AssistantID == "" {
		missing = append(missing, "assistant_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(missing, ", "))
	}
	return nil
}

// Relay processes inbound messages for one frontend.
type Relay struct {
	cfg          Config
	provisioner  *Provisioner
	submitter    *Submitter
	orchestrator *Orchestrator
	extractor    *Extractor
	translator   *Translator
	deliverer    Deliverer
	sleep        Sleeper
	metrics      *metrics
	tracer       trace.Tracer
	logger       *slog.Logger
}

// New wires a relay from its collaborators.
func New(cfg Config, store session.Store, backend assistant.Backend, deliverer Deliverer, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(meterName)
	}
	logger = logger.With("frontend", cfg.Frontend)

	return &Relay{
		cfg:          cfg,
		provisioner:  NewProvisioner(store, backend, cfg.Session, logger),
		submitter:    NewSubmitter(backend),
		orchestrator: NewOrchestrator(backend, cfg.Polling, cfg.Sleep, logger),
		extractor:    NewExtractor(backend),
		translator:   NewTranslator(cfg.Messages),
		deliverer:    deliverer,
		sleep:        cfg.Sleep,
		metrics:      newMetrics(cfg.Meter, cfg.Frontend),
		tracer:       cfg.Tracer,
		logger:       logger.With("component", "relay"),
	}
}

// Check reports whether the relay can process messages at all.
func (r *Relay) Check() error {
	return r.cfg.Check()
}

// Handle processes one inbound message to completion. It returns an error only
// when the message is refused up front (missing configuration, empty text),
// in which case nothing was sent. Once accepted, every failure is logged and
// the user receives exactly one final text.
func (r *Relay) Handle(ctx context.Context, in Inbound) error {
	if err := r.cfg.Check(); err != nil {
		return err
	}
	if strings.TrimSpace(in.Text) == "" {
		return ErrEmptyMessage
	}

	requestID := uuid.NewString()
	ctx, span := r.tracer.Start(ctx, "relay.handle", trace.WithAttributes(
		attribute.String("relay.frontend", r.cfg.Frontend),
		attribute.String("relay.request_id", requestID),
	))
	defer span.End()

	start := time.Now()
	log := r.logger.With("request_id", requestID, "user_id", in.UserID)
	if in.MessageID != "" {
		log = log.With("message_id", in.MessageID)
	}
	log.Info("message received", "text", truncate(in.Text, 100))

	reply, outcome := r.process(ctx, log, in)
	if ctx.Err() != nil {
		log.Warn("message abandoned at shutdown", "error", ctx.Err())
		span.SetStatus(codes.Error, "abandoned")
		return nil
	}

	span.SetAttributes(attribute.String("relay.outcome", outcome))
	if outcome == outcomeError {
		span.SetStatus(codes.Error, outcome)
	}
	r.metrics.recordOutcome(ctx, outcome)
	r.deliver(ctx, log, in.UserID, reply)
	log.Info("message handled", "outcome", outcome, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// process runs the pipeline and returns the final text and its outcome label.
func (r *Relay) process(ctx context.Context, log *slog.Logger, in Inbound) (string, string) {
	msgs := r.translator.Messages()

	threadID, isNew, err := r.provisioner.Provision(ctx, in.UserID)
	if err != nil {
		log.Error("provisioning thread failed", "error", err)
		return msgs.UnexpectedError, outcomeError
	}
	log = log.With("thread_id", threadID)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("relay.thread_id", threadID),
		attribute.Bool("relay.new_session", isNew),
	)

	if isNew {
		r.metrics.recordThreadCreated(ctx)
		if r.cfg.WelcomeEnabled {
			r.welcome(ctx, log, in.UserID, msgs)
		}
	}

	if err := r.submitter.Submit(ctx, threadID, in.Text); err != nil {
		log.Error("submitting message failed", "error", err)
		return msgs.UnexpectedError, outcomeError
	}

	res, err := r.orchestrator.Run(ctx, threadID)
	if err != nil {
		log.Error("running assistant failed", "run_id", res.RunID, "error", err)
		return msgs.UnexpectedError, outcomeError
	}
	r.metrics.recordPolls(ctx, res.Attempts)
	log = log.With("run_id", res.RunID)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("relay.run_id", res.RunID),
		attribute.String("relay.run_status", string(res.Status)),
		attribute.Int("relay.polls", res.Attempts),
	)

	out := Outcome{Status: res.Status, TimedOut: res.TimedOut}
	if res.LastError != nil {
		out.ErrorCode = res.LastError.Code
	}

	label := string(res.Status)
	switch {
	case res.TimedOut:
		label = outcomePollTimeout
	case res.Status == assistant.RunStatusCompleted:
		label = outcomeCompleted
		text, err := r.extractor.Extract(ctx, threadID, res.RunID)
		if err != nil {
			log.Warn("extracting reply failed", "error", err)
			label = outcomeNoReply
		}
		out.Text = text
	default:
		log.Warn("run ended without a reply", "status", res.Status, "error_code", out.ErrorCode)
	}

	return r.translator.Translate(out), label
}

func (r *Relay) welcome(ctx context.Context, log *slog.Logger, userID string, msgs Messages) {
	r.deliverInterim(ctx, log, userID, msgs.Welcome)
	if err := r.sleep(ctx, r.cfg.WelcomeGap); err != nil {
		return
	}
	r.deliverInterim(ctx, log, userID, msgs.Disclosure)
}

func (r *Relay) deliverInterim(ctx context.Context, log *slog.Logger, userID, text string) {
	is, ok := r.deliverer.(InterimSender)
	if !ok {
		r.deliver(ctx, log, userID, text)
		return
	}
	if err := is.SendInterim(ctx, userID, text); err != nil {
		log.Error("delivering interim message failed", "error", err)
	}
}

func (r *Relay) deliver(ctx context.Context, log *slog.Logger, userID, text string) {
	if err := r.deliverer.Send(ctx, userID, text); err != nil {
		log.Error("delivering reply failed", "error", err)
	}
}

// truncate shortens s to at most n runes, adding an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
