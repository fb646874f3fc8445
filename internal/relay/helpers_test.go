// ABOUTME: Shared fakes for relay tests
// ABOUTME: Recording sleeper, deliverer, session store and an event timeline

package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/2389/assistant-relay/internal/assistant"
	"github.com/2389/assistant-relay/internal/session"
)

// event is one entry on a test timeline: a sleep of some duration or a poll.
type event struct {
	kind  string // "sleep" or "poll"
	sleep time.Duration
}

// timeline records sleeps and polls in the order they happen.
type timeline struct {
	mu     sync.Mutex
	events []event
}

func (tl *timeline) add(e event) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.events = append(tl.events, e)
}

func (tl *timeline) all() []event {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	out := make([]event, len(tl.events))
	copy(out, tl.events)
	return out
}

func (tl *timeline) sleeps() []time.Duration {
	var out []time.Duration
	for _, e := range tl.all() {
		if e.kind == "sleep" {
			out = append(out, e.sleep)
		}
	}
	return out
}

// sleeper returns a Sleeper that records instead of waiting.
func (tl *timeline) sleeper() Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		tl.add(event{kind: "sleep", sleep: d})
		return ctx.Err()
	}
}

// timedBackend records every GetRun on a timeline.
type timedBackend struct {
	*assistant.MockBackend
	tl *timeline
}

func (b *timedBackend) GetRun(ctx context.Context, threadID, runID string) (*assistant.Run, error) {
	b.tl.add(event{kind: "poll"})
	return b.MockBackend.GetRun(ctx, threadID, runID)
}

func newTimedBackend() (*timedBackend, *timeline) {
	tl := &timeline{}
	return &timedBackend{MockBackend: assistant.NewMockBackend(), tl: tl}, tl
}

// sentMessage is one Deliverer.Send call.
type sentMessage struct {
	UserID string
	Text   string
}

type recordingDeliverer struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (d *recordingDeliverer) Send(ctx context.Context, userID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentMessage{UserID: userID, Text: text})
	return d.err
}

func (d *recordingDeliverer) texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.sent))
	for _, m := range d.sent {
		out = append(out, m.Text)
	}
	return out
}

// interimDeliverer records final replies and interim messages separately.
type interimDeliverer struct {
	recordingDeliverer
	interim []string
}

func (d *interimDeliverer) SendInterim(ctx context.Context, userID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interim = append(d.interim, text)
	return nil
}

// putCall is one Store.Put call.
type putCall struct {
	UserID   string
	ThreadID string
	TTL      time.Duration
}

// recordingStore wraps a memory store, records writes and can simulate an outage.
type recordingStore struct {
	*session.MemoryStore
	mu      sync.Mutex
	puts    []putCall
	touches int
	down    bool
}

func newRecordingStore(t *testing.T) *recordingStore {
	t.Helper()
	s := &recordingStore{MemoryStore: session.NewMemoryStore(100)}
	t.Cleanup(func() { s.MemoryStore.Close() })
	return s
}

var errStoreDown = errors.New("connection refused")

func (s *recordingStore) Get(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	down := s.down
	s.mu.Unlock()
	if down {
		return "", errors.Join(session.ErrUnavailable, errStoreDown)
	}
	return s.MemoryStore.Get(ctx, userID)
}

func (s *recordingStore) Put(ctx context.Context, userID, threadID string, ttl time.Duration) error {
	s.mu.Lock()
	s.puts = append(s.puts, putCall{UserID: userID, ThreadID: threadID, TTL: ttl})
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, userID, threadID, ttl)
}

func (s *recordingStore) Touch(ctx context.Context, userID string, ttl time.Duration) error {
	s.mu.Lock()
	s.touches++
	s.mu.Unlock()
	return s.MemoryStore.Touch(ctx, userID, ttl)
}

func (s *recordingStore) putCalls() []putCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]putCall, len(s.puts))
	copy(out, s.puts)
	return out
}

func rateLimitErr() error {
	return &assistant.StatusError{Op: "get run", StatusCode: 429, Code: "rate_limit_exceeded", Message: "slow down"}
}

func serverErr() error {
	return &assistant.StatusError{Op: "get run", StatusCode: 500, Message: "internal"}
}
