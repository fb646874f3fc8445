// ABOUTME: Gateway orchestrator that wires the session store, assistant backend and frontends
// ABOUTME: Manages the HTTP server, Matrix bridge, Tailscale node and graceful drain

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/assistant-relay/internal/assistant"
	"github.com/2389/assistant-relay/internal/auth"
	"github.com/2389/assistant-relay/internal/config"
	"github.com/2389/assistant-relay/internal/matrix"
	"github.com/2389/assistant-relay/internal/relay"
	"github.com/2389/assistant-relay/internal/session"
	"github.com/2389/assistant-relay/internal/whatsapp"
)

// Frontend names, also used as session key namespaces.
const (
	FrontendWhatsApp = "whatsapp"
	FrontendMatrix   = "matrix"
)

// Gateway orchestrates the assistant-relay server components.
type Gateway struct {
	config      *config.Config
	store       session.Store
	backend     assistant.Backend
	dispatcher  *relay.Dispatcher
	cancelWork  context.CancelFunc
	relays      map[string]*relay.Relay
	sessions    map[string]session.Store
	webhook     *whatsapp.Handler
	bridge      *matrix.Bridge
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// deps lets tests substitute the store, backend and relay sleeper.
type deps struct {
	store   session.Store
	backend assistant.Backend
	sleep   relay.Sleeper
}

// New creates a gateway from configuration, opening the session store.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	store, err := session.Open(ctx, session.Options{
		Backend:     cfg.Session.Backend,
		MaxEntries:  cfg.Session.MaxEntries,
		SQLitePath:  cfg.Session.SQLitePath,
		PostgresDSN: cfg.Session.PostgresDSN,
		RedisURL:    cfg.Session.RedisURL,
	})
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	backend := assistant.NewOpenAIBackend(assistant.OpenAIConfig{
		APIKey:       cfg.Assistant.APIKey,
		AssistantID:  cfg.Assistant.AssistantID,
		Organization: cfg.Assistant.Organization,
		Project:      cfg.Assistant.Project,
		BaseURL:      cfg.Assistant.BaseURL,
		CallTimeout:  cfg.Assistant.CallTimeout,
	})

	gw, err := newGateway(cfg, deps{store: store, backend: backend}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return gw, nil
}

func newGateway(cfg *config.Config, d deps, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	workCtx, cancelWork := context.WithCancel(context.Background())
	gw := &Gateway{
		config:     cfg,
		store:      d.store,
		backend:    d.backend,
		dispatcher: relay.NewDispatcher(workCtx, logger),
		cancelWork: cancelWork,
		relays:     make(map[string]*relay.Relay),
		sessions:   make(map[string]session.Store),
		logger:     logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	if cfg.WhatsApp.Enabled {
		client := whatsapp.NewClient(whatsapp.ClientConfig{
			GraphURL:      cfg.WhatsApp.GraphURL,
			APIVersion:    cfg.WhatsApp.APIVersion,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			AccessToken:   cfg.WhatsApp.AccessToken,
			Timeout:       cfg.WhatsApp.SendTimeout,
		}, logger)
		r := gw.addRelay(FrontendWhatsApp, client, d, logger)

		gw.webhook = whatsapp.NewHandler(whatsapp.HandlerConfig{
			VerifyToken: cfg.WhatsApp.VerifyToken,
			AppSecret:   cfg.WhatsApp.AppSecret,
		}, gw.dispatcher.Intake(r), client, logger)
		mux.Handle("/webhook", gw.webhook)
		if cfg.WhatsApp.AppSecret == "" {
			gw.logger.Warn("whatsapp.app_secret not set - webhook signatures are not verified")
		}
	}

	if cfg.Matrix.Enabled {
		bridge, err := matrix.NewBridge(matrix.Config{
			Homeserver:      cfg.Matrix.Homeserver,
			UserID:          cfg.Matrix.UserID,
			AccessToken:     cfg.Matrix.AccessToken,
			AllowedUsers:    cfg.Matrix.AllowedUsers,
			AllowedRooms:    cfg.Matrix.AllowedRooms,
			RenderMarkdown:  cfg.Matrix.RenderMarkdown,
			TypingIndicator: true,
		}, logger)
		if err != nil {
			cancelWork()
			return nil, err
		}
		r := gw.addRelay(FrontendMatrix, bridge, d, logger)
		bridge.SetIntake(gw.dispatcher.Intake(r))
		gw.bridge = bridge
	}

	if len(gw.relays) == 0 {
		gw.logger.Warn("no frontend enabled - only health endpoints are served")
	}

	if cfg.Auth.JWTSecret != "" {
		verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), TokenIssuer)
		mux.Handle("GET /api/sessions/{user_id}", auth.Middleware(verifier)(http.HandlerFunc(gw.handleGetSession)))
		gw.logger.Info("admin API enabled")
	} else {
		gw.logger.Info("admin API disabled - no auth.jwt_secret configured")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// TokenIssuer is the "iss" claim of admin API tokens.
const TokenIssuer = "assistant-relay"

// addRelay builds the relay for one frontend over its namespace of the store.
// Without frontend namespaces the frontends share one key space; WhatsApp
// phone numbers and Matrix room ids ("!...") cannot collide.
func (g *Gateway) addRelay(frontend string, deliverer relay.Deliverer, d deps, logger *slog.Logger) *relay.Relay {
	cfg := g.config
	prefix := cfg.Session.KeyPrefix
	if boolValue(cfg.Session.FrontendNamespaces, true) {
		prefix += frontend + ":"
	}
	store := session.Namespace(d.store, prefix)
	g.sessions[frontend] = store

	r := relay.New(relay.Config{
		Frontend:    frontend,
		APIKey:      cfg.Assistant.APIKey,
		AssistantID: cfg.Assistant.AssistantID,
		Session: relay.ProvisionOptions{
			TTL:        cfg.Session.TTL,
			SlidingTTL: cfg.Session.SlidingTTL,
			Serialize:  boolValue(cfg.Relay.SerializeProvisioning, true),
		},
		Polling: relay.PollConfig{
			InitialDelay:             cfg.Relay.Polling.InitialDelay,
			Interval:                 cfg.Relay.Polling.Interval,
			MaxAttempts:              cfg.Relay.Polling.MaxAttempts,
			RateLimitCooldown:        cfg.Relay.Polling.RateLimitCooldown,
			PollTimeout:              cfg.Relay.Polling.PollTimeout,
			RateLimitCountsAsAttempt: boolValue(cfg.Relay.Polling.RateLimitCountsAsAttempt, true),
		},
		WelcomeEnabled: boolValue(cfg.Relay.WelcomeEnabled, true),
		WelcomeGap:     cfg.Relay.WelcomeGap,
		Messages:       messagesFromConfig(cfg.Messages),
		Sleep:          d.sleep,
	}, store, d.backend, deliverer, logger)

	g.relays[frontend] = r
	return r
}

func messagesFromConfig(m config.MessagesConfig) relay.Messages {
	return relay.Messages{
		Welcome:         m.Welcome,
		Disclosure:      m.Disclosure,
		Fallback:        m.Fallback,
		Failed:          m.Failed,
		Expired:         m.Expired,
		Cancelled:       m.Cancelled,
		RequiresAction:  m.RequiresAction,
		PollTimeout:     m.PollTimeout,
		UnexpectedError: m.UnexpectedError,
	}
}

func boolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Handler returns the HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the servers and blocks until ctx is cancelled or a server fails,
// then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	for name, r := range g.relays {
		if err := r.Check(); err != nil {
			g.logger.Warn("relay cannot process messages until configured", "frontend", name, "error", err)
		}
	}

	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	bridgeCtx, stopBridge := context.WithCancel(ctx)
	defer stopBridge()
	if g.bridge != nil {
		go func() {
			if err := g.bridge.Run(bridgeCtx); err != nil {
				errCh <- err
			}
		}()
	}

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}
	stopBridge()

	drainCtx, cancel := context.WithTimeout(context.Background(), g.config.Server.DrainTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(drainCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "assistant-relay", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}

func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	var ln net.Listener
	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		ln, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale: %w", err)
	}
	return ln, nil
}

func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
	if g.config.Tailscale.Funnel && dnsName != "" {
		g.logger.Info("webhook URL", "url", "https://"+trimDot(dnsName)+"/webhook")
	}
}

func trimDot(s string) string {
	if n := len(s); n > 0 && s[n-1] == '.' {
		return s[:n-1]
	}
	return s
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting messages, waits for in-flight ones until ctx is
// done, cancels the rest and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if err := g.dispatcher.Wait(ctx); err != nil {
		g.logger.Warn("abandoning in-flight messages", "error", err)
	}
	g.cancelWork()
	// abandoned work unwinds quickly once cancelled
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = g.dispatcher.Wait(waitCtx)

	if g.webhook != nil {
		g.webhook.Close()
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "session store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
