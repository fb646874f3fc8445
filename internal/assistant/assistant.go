// ABOUTME: Thread/run model of the hosted assistant and the Backend contract
// ABOUTME: Everything above this package speaks these types, never the vendor SDK

package assistant

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusExpired        RunStatus = "expired"
)

// Terminal reports whether polling should stop at this status. Only queued,
// in_progress and cancelling keep a run alive; any status the backend adds
// later is treated as terminal.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusQueued, RunStatusInProgress, RunStatusCancelling:
		return false
	default:
		return true
	}
}

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentTypeText marks a plain text content part.
const ContentTypeText = "text"

// RunError describes why a run failed.
type RunError struct {
	Code    string
	Message string
}

// Run is one invocation of the assistant over a thread.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	LastError *RunError
}

// ContentPart is one element of a message body.
type ContentPart struct {
	Type string
	Text string // set when Type is ContentTypeText
}

// Message is an entry in a thread. Messages are appended, never edited.
type Message struct {
	ID        string
	ThreadID  string
	Role      Role
	RunID     string // empty for messages not produced by a run
	Content   []ContentPart
	CreatedAt time.Time
}

// Order selects the listing direction of ListMessages.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Backend is the hosted thread/run service. Implementations return
// *TransportError for network failures and *StatusError when the service
// answers with an error status.
type Backend interface {
	// CreateThread creates an empty thread and returns its id.
	CreateThread(ctx context.Context) (string, error)

	// AddMessage appends a message with the given role to the thread.
	AddMessage(ctx context.Context, threadID string, role Role, text string) error

	// CreateRun starts the configured assistant on the thread.
	CreateRun(ctx context.Context, threadID string) (*Run, error)

	// GetRun fetches the current state of a run.
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)

	// ListMessages lists the thread's most recent messages in the given order.
	ListMessages(ctx context.Context, threadID string, order Order) ([]Message, error)
}
