// ABOUTME: HTTP handler for the WhatsApp webhook: verification handshake and message intake
// ABOUTME: Accepted text messages are handed to the relay and acknowledged immediately

package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/assistant-relay/internal/relay"
	"github.com/2389/assistant-relay/internal/ttlcache"
)

const (
	maxBodyBytes     = 1 << 20
	defaultSeenTTL   = 24 * time.Hour
	defaultSeenLimit = 10000
)

// Intake accepts inbound messages for background processing.
type Intake interface {
	Check() error
	Accept(ctx context.Context, in relay.Inbound)
}

// Checker reports whether a collaborator is configured well enough to use.
type Checker interface {
	Check() error
}

// HandlerConfig configures the webhook handler.
type HandlerConfig struct {
	VerifyToken string
	AppSecret   string        // enables X-Hub-Signature-256 checks when set
	SeenTTL     time.Duration // how long a message id is remembered
	SeenLimit   int
}

// Handler serves GET and POST on the webhook path.
type Handler struct {
	cfg    HandlerConfig
	intake Intake
	sender Checker
	seen   *ttlcache.Cache[struct{}]
	logger *slog.Logger
}

// NewHandler creates a webhook handler. sender is checked alongside intake
// before a message is accepted, since a reply could not be delivered without it.
func NewHandler(cfg HandlerConfig, intake Intake, sender Checker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = defaultSeenTTL
	}
	if cfg.SeenLimit <= 0 {
		cfg.SeenLimit = defaultSeenLimit
	}
	return &Handler{
		cfg:    cfg,
		intake: intake,
		sender: sender,
		seen:   ttlcache.New[struct{}](cfg.SeenLimit, time.Minute),
		logger: logger.With("component", "whatsapp-webhook"),
	}
}

// Close releases the duplicate-suppression cache.
func (h *Handler) Close() {
	h.seen.Close()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerify(w, r)
	case http.MethodPost:
		h.handleNotification(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if h.cfg.VerifyToken == "" {
		h.logger.Error("webhook verification attempted without a verify token configured")
		http.Error(w, "verify token not configured", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" || token == "" {
		http.Error(w, "missing hub.mode or hub.verify_token", http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || token != h.cfg.VerifyToken {
		h.logger.Warn("webhook verification rejected", "mode", mode)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	h.logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	if h.cfg.AppSecret != "" {
		if err := VerifySignature(h.cfg.AppSecret, body, r.Header.Get(SignatureHeader)); err != nil {
			h.logger.Warn("rejected webhook with bad signature", "error", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		h.logger.Warn("malformed webhook body", "error", err)
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	if n.IsPing() {
		h.logger.Info("webhook test notification received", "object", n.Object)
		w.WriteHeader(http.StatusOK)
		return
	}

	msg, ok := n.FirstMessage()
	if !ok {
		// delivery statuses and other field updates
		w.WriteHeader(http.StatusOK)
		return
	}

	text := msg.TextBody()
	if text == "" || msg.From == "" {
		h.logger.Debug("ignoring non-text or empty message", "message_id", msg.ID, "type", msg.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.ready(); err != nil {
		h.logger.Error("cannot process message", "message_id", msg.ID, "error", err)
		http.Error(w, "relay not configured", http.StatusInternalServerError)
		return
	}

	if msg.ID != "" && h.seen.CheckAndMark(msg.ID, h.cfg.SeenTTL) {
		h.logger.Info("duplicate message ignored", "message_id", msg.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.intake.Accept(r.Context(), relay.Inbound{UserID: msg.From, Text: text, MessageID: msg.ID})
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) ready() error {
	var errs []error
	if err := h.intake.Check(); err != nil {
		errs = append(errs, err)
	}
	if h.sender != nil {
		if err := h.sender.Check(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
