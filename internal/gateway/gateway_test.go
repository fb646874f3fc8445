// ABOUTME: Tests for the gateway: webhook to reply end to end, health, admin API and lifecycle
// ABOUTME: Uses the in-memory store, the mock assistant backend and a fake Graph API

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-relay/internal/assistant"
	"github.com/2389/assistant-relay/internal/auth"
	"github.com/2389/assistant-relay/internal/config"
	"github.com/2389/assistant-relay/internal/relay"
	"github.com/2389/assistant-relay/internal/session"
)

const testJWTSecret = "test-jwt-secret"

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGraph stands in for the WhatsApp Graph API and records sent texts.
type fakeGraph struct {
	mu   sync.Mutex
	sent []graphMessage
}

type graphMessage struct {
	To   string
	Body string
}

func (f *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To   string `json:"to"`
		Text struct {
			Body string `json:"body"`
		} `json:"text"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.sent = append(f.sent, graphMessage{To: req.To, Body: req.Text.Body})
	f.mu.Unlock()
	w.Write([]byte(`{"messages":[{"id":"wamid.out"}]}`))
}

func (f *fakeGraph) messages() []graphMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]graphMessage(nil), f.sent...)
}

// testConfig creates a config with the WhatsApp frontend pointed at graphURL.
func testConfig(graphURL string) *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{HTTPAddr: "127.0.0.1:0", DrainTimeout: 5 * time.Second},
		Session: config.SessionConfig{Backend: "memory", TTL: 12 * time.Hour, MaxEntries: 100},
		Assistant: config.AssistantConfig{
			APIKey:      "sk-test",
			AssistantID: "asst_test",
		},
		Relay: config.RelayConfig{
			WelcomeGap: time.Millisecond,
			Polling: config.PollingConfig{
				InitialDelay:      time.Millisecond,
				Interval:          time.Millisecond,
				MaxAttempts:       15,
				RateLimitCooldown: time.Millisecond,
				PollTimeout:       time.Second,
			},
		},
		WhatsApp: config.WhatsAppConfig{
			Enabled:       true,
			VerifyToken:   "verify-me",
			AccessToken:   "EAAG-token",
			PhoneNumberID: "1234",
			GraphURL:      graphURL,
			APIVersion:    "v18.0",
			SendTimeout:   5 * time.Second,
		},
		Auth: config.AuthConfig{JWTSecret: testJWTSecret},
	}
}

type fixture struct {
	gw      *Gateway
	server  *httptest.Server
	graph   *fakeGraph
	backend *assistant.MockBackend
	store   *session.MemoryStore
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	store := session.NewMemoryStore(100)
	f := newFixtureOn(t, store, mutate)
	f.store = store
	return f
}

// newFixtureOn builds a gateway over an arbitrary session store.
func newFixtureOn(t *testing.T, store session.Store, mutate func(*config.Config)) *fixture {
	t.Helper()

	graph := &fakeGraph{}
	graphSrv := httptest.NewServer(graph)
	t.Cleanup(graphSrv.Close)

	cfg := testConfig(graphSrv.URL)
	if mutate != nil {
		mutate(cfg)
	}

	backend := assistant.NewMockBackend()
	noSleep := relay.Sleeper(func(ctx context.Context, d time.Duration) error { return ctx.Err() })

	gw, err := newGateway(cfg, deps{store: store, backend: backend, sleep: noSleep}, testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})

	return &fixture{gw: gw, server: srv, graph: graph, backend: backend}
}

func (f *fixture) postWebhook(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.server.URL+"/webhook", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func webhookBody(from, id, text string) string {
	return `{"object":"whatsapp_business_account","entry":[{"id":"WABA","changes":[{"field":"messages","value":{
		"messaging_product":"whatsapp","metadata":{"phone_number_id":"1234"},
		"messages":[{"from":"` + from + `","id":"` + id + `","timestamp":"1700000000","type":"text","text":{"body":"` + text + `"}}]}}]}]}`
}

func TestGateway_WebhookToReply(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.ThreadIDs = []string{"th_abc"}
	f.backend.Reply = "Olá! Como posso ajudar?"

	resp := f.postWebhook(t, webhookBody("5511999999999", "wamid.1", "Oi"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return len(f.graph.messages()) == 3 }, 5*time.Second, 5*time.Millisecond)

	msgs := relay.DefaultMessages()
	sent := f.graph.messages()
	assert.Equal(t, []graphMessage{
		{To: "5511999999999", Body: msgs.Welcome},
		{To: "5511999999999", Body: msgs.Disclosure},
		{To: "5511999999999", Body: "Olá! Como posso ajudar?"},
	}, sent)

	// sessions live under the frontend namespace
	threadID, err := f.store.Get(context.Background(), "whatsapp:5511999999999")
	require.NoError(t, err)
	assert.Equal(t, "th_abc", threadID)
}

func TestGateway_SecondMessageReusesThread(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.ThreadIDs = []string{"th_abc", "th_unused"}
	f.backend.Reply = "answer"

	f.postWebhook(t, webhookBody("551100", "wamid.1", "first"))
	require.Eventually(t, func() bool { return len(f.graph.messages()) == 3 }, 5*time.Second, 5*time.Millisecond)

	f.postWebhook(t, webhookBody("551100", "wamid.2", "second"))
	require.Eventually(t, func() bool { return len(f.graph.messages()) == 4 }, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, f.backend.Calls().CreateThread)
	assert.Len(t, f.backend.Messages("th_abc"), 4, "two user messages and two replies")
}

func TestGateway_WebhookVerify(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.server.URL + "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "42", string(body))
}

func TestGateway_WebhookWithoutCredentials(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Assistant.APIKey = "" })

	resp := f.postWebhook(t, webhookBody("551100", "wamid.1", "Oi"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, assistant.MockCalls{}, f.backend.Calls())
}

func TestGateway_Health(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()

	var ready ReadyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, map[string]string{"whatsapp": "ok"}, ready.Frontends)
}

func TestGateway_NotReadyWithoutAssistant(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Assistant.AssistantID = "" })

	resp, err := http.Get(f.server.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()

	var ready ReadyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, ready.Frontends["whatsapp"], "assistant_id")
}

func TestGateway_SessionAPI(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Put(context.Background(), "whatsapp:551100", "th_live", time.Hour))

	token, err := auth.NewJWTVerifier([]byte(testJWTSecret), TokenIssuer).Generate("ops", time.Hour)
	require.NoError(t, err)

	get := func(path, bearer string) (*http.Response, map[string]any) {
		req, _ := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp, body
	}

	resp, body := get("/api/sessions/551100", token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "th_live", body["thread_id"])
	assert.Equal(t, "whatsapp", body["frontend"])
	assert.NotEmpty(t, body["expires_at"])

	resp, _ = get("/api/sessions/unknown", token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get("/api/sessions/551100?frontend=matrix", token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get("/api/sessions/551100", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_SessionAPIDisabledWithoutSecret(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Auth.JWTSecret = "" })

	resp, err := http.Get(f.server.URL + "/api/sessions/551100")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateway_KeyPrefix(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Session.KeyPrefix = "prod:" })
	f.backend.ThreadIDs = []string{"th_abc"}
	f.backend.Reply = "answer"

	f.postWebhook(t, webhookBody("551100", "wamid.1", "Oi"))
	require.Eventually(t, func() bool { return len(f.graph.messages()) == 3 }, 5*time.Second, 5*time.Millisecond)

	threadID, err := f.store.Get(context.Background(), "prod:whatsapp:551100")
	require.NoError(t, err)
	assert.Equal(t, "th_abc", threadID)
}

func TestGateway_BareKeysReuseExistingRedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	store := session.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	// a session written earlier under the bare sender number
	require.NoError(t, mr.Set("551100", "th_legacy"))
	mr.SetTTL("551100", time.Hour)

	f := newFixtureOn(t, store, func(c *config.Config) { c.Session.FrontendNamespaces = boolPtr(false) })
	f.backend.Reply = "answer"
	f.backend.AppendMessage(assistant.Message{
		ID:       "msg_earlier",
		ThreadID: "th_legacy",
		Role:     assistant.RoleUser,
		Content:  []assistant.ContentPart{{Type: assistant.ContentTypeText, Text: "Oi"}},
	})

	f.postWebhook(t, webhookBody("551100", "wamid.1", "Oi de novo"))
	require.Eventually(t, func() bool { return len(f.graph.messages()) == 1 }, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, "answer", f.graph.messages()[0].Body, "no welcome pair for an existing session")
	assert.Equal(t, 0, f.backend.Calls().CreateThread)
	assert.False(t, mr.Exists("whatsapp:551100"))
}

func TestGateway_BareKeysNewSession(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Session.KeyPrefix = "prod:"
		c.Session.FrontendNamespaces = boolPtr(false)
	})
	f.backend.ThreadIDs = []string{"th_abc"}
	f.backend.Reply = "answer"

	f.postWebhook(t, webhookBody("551100", "wamid.1", "Oi"))
	require.Eventually(t, func() bool { return len(f.graph.messages()) == 3 }, 5*time.Second, 5*time.Millisecond)

	threadID, err := f.store.Get(context.Background(), "prod:551100")
	require.NoError(t, err)
	assert.Equal(t, "th_abc", threadID)
}

func boolPtr(b bool) *bool { return &b }

// freeAddr finds an available loopback address.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestGateway_RunAndShutdown(t *testing.T) {
	addr := freeAddr(t)
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Server.HTTPAddr = addr

	gw, err := newGateway(cfg, deps{store: session.NewMemoryStore(10), backend: assistant.NewMockBackend()}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGateway_NoFrontends(t *testing.T) {
	cfg := testConfig("")
	cfg.WhatsApp.Enabled = false

	gw, err := newGateway(cfg, deps{store: session.NewMemoryStore(10), backend: assistant.NewMockBackend()}, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.Empty(t, gw.relays)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}
