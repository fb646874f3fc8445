// ABOUTME: In-memory Backend implementation for testing
// ABOUTME: Scripts run statuses, replies and failures without a network

package assistant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockBackend is a scriptable in-memory Backend. Configure the exported
// fields before handing it to code under test; read results with the accessors.
type MockBackend struct {
	// ThreadIDs are handed out by CreateThread in order; afterwards ids are generated.
	ThreadIDs []string
	// RunID is returned by CreateRun; empty means generated.
	RunID string
	// Statuses are returned by successive successful GetRun calls; the last one repeats.
	// Empty means the run completes on the first poll.
	Statuses []RunStatus
	// LastError is attached to runs that reach failed.
	LastError *RunError
	// Reply is appended as the assistant message when the run completes.
	Reply string
	// ReplyParts overrides Reply with arbitrary content parts.
	ReplyParts []ContentPart
	// NoReply suppresses the assistant message on completion.
	NoReply bool

	CreateThreadErr error
	AddMessageErr   error
	CreateRunErr    error
	ListMessagesErr error
	// GetRunErrors are returned, in order, by the first GetRun calls before any status.
	GetRunErrors []error

	mu        sync.Mutex
	threads   map[string][]Message
	runs      map[string]*Run
	statusIdx int
	calls     MockCalls
}

// MockCalls counts calls per operation.
type MockCalls struct {
	CreateThread int
	AddMessage   int
	CreateRun    int
	GetRun       int
	ListMessages int
}

// NewMockBackend creates an empty MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		threads: make(map[string][]Message),
		runs:    make(map[string]*Run),
	}
}

func (m *MockBackend) CreateThread(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.CreateThread++
	if m.CreateThreadErr != nil {
		return "", m.CreateThreadErr
	}

	var id string
	if len(m.ThreadIDs) > 0 {
		id, m.ThreadIDs = m.ThreadIDs[0], m.ThreadIDs[1:]
	} else {
		id = "thread_" + uuid.NewString()
	}
	m.threads[id] = nil
	return id, nil
}

func (m *MockBackend) AddMessage(ctx context.Context, threadID string, role Role, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.AddMessage++
	if m.AddMessageErr != nil {
		return m.AddMessageErr
	}
	if _, ok := m.threads[threadID]; !ok {
		return &StatusError{Op: "add message", StatusCode: 404, Message: fmt.Sprintf("no thread %s", threadID)}
	}

	m.threads[threadID] = append(m.threads[threadID], Message{
		ID:        "msg_" + uuid.NewString(),
		ThreadID:  threadID,
		Role:      role,
		Content:   []ContentPart{{Type: ContentTypeText, Text: text}},
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *MockBackend) CreateRun(ctx context.Context, threadID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.CreateRun++
	if m.CreateRunErr != nil {
		return nil, m.CreateRunErr
	}
	if _, ok := m.threads[threadID]; !ok {
		return nil, &StatusError{Op: "create run", StatusCode: 404, Message: fmt.Sprintf("no thread %s", threadID)}
	}

	id := m.RunID
	if id == "" {
		id = "run_" + uuid.NewString()
	}
	run := &Run{ID: id, ThreadID: threadID, Status: RunStatusQueued}
	m.runs[id] = run

	out := *run
	return &out, nil
}

func (m *MockBackend) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.GetRun++

	if len(m.GetRunErrors) > 0 {
		err := m.GetRunErrors[0]
		m.GetRunErrors = m.GetRunErrors[1:]
		return nil, err
	}

	run, ok := m.runs[runID]
	if !ok || run.ThreadID != threadID {
		return nil, &StatusError{Op: "get run", StatusCode: 404, Message: fmt.Sprintf("no run %s", runID)}
	}

	status := RunStatusCompleted
	if len(m.Statuses) > 0 {
		i := m.statusIdx
		if i >= len(m.Statuses) {
			i = len(m.Statuses) - 1
		}
		status = m.Statuses[i]
		m.statusIdx++
	}

	if status != run.Status {
		run.Status = status
		switch status {
		case RunStatusCompleted:
			m.appendReplyLocked(run)
		case RunStatusFailed:
			run.LastError = m.LastError
		}
	}

	out := *run
	return &out, nil
}

func (m *MockBackend) appendReplyLocked(run *Run) {
	if m.NoReply {
		return
	}
	parts := m.ReplyParts
	if parts == nil {
		parts = []ContentPart{{Type: ContentTypeText, Text: m.Reply}}
	}
	m.threads[run.ThreadID] = append(m.threads[run.ThreadID], Message{
		ID:        "msg_" + uuid.NewString(),
		ThreadID:  run.ThreadID,
		Role:      RoleAssistant,
		RunID:     run.ID,
		Content:   parts,
		CreatedAt: time.Now().UTC(),
	})
}

func (m *MockBackend) ListMessages(ctx context.Context, threadID string, order Order) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.ListMessages++
	if m.ListMessagesErr != nil {
		return nil, m.ListMessagesErr
	}

	msgs := m.threads[threadID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	if order == OrderDesc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// AppendMessage injects a message directly into a thread, bypassing call counters.
func (m *MockBackend) AppendMessage(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[msg.ThreadID] = append(m.threads[msg.ThreadID], msg)
}

// Calls returns a snapshot of call counters.
func (m *MockBackend) Calls() MockCalls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Messages returns the thread's messages in insertion order.
func (m *MockBackend) Messages(threadID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.threads[threadID]))
	copy(out, m.threads[threadID])
	return out
}
