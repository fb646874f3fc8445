// ABOUTME: Message submission into a conversation thread
// ABOUTME: Rejects empty text before touching the backend

package relay

import (
	"context"
	"errors"
	"strings"

	"github.com/2389/assistant-relay/internal/assistant"
)

// ErrEmptyMessage is returned for text that is empty after trimming.
var ErrEmptyMessage = errors.New("empty message")

// MessageAdder is the slice of assistant.Backend the submitter needs.
type MessageAdder interface {
	AddMessage(ctx context.Context, threadID string, role assistant.Role, text string) error
}

// Submitter appends user messages to threads.
type Submitter struct {
	backend MessageAdder
}

// NewSubmitter creates a submitter.
func NewSubmitter(backend MessageAdder) *Submitter {
	return &Submitter{backend: backend}
}

// Submit appends text as a user message. Backend errors are returned as-is.
func (s *Submitter) Submit(ctx context.Context, threadID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return s.backend.AddMessage(ctx, threadID, assistant.RoleUser, text)
}
