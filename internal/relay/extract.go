// ABOUTME: Reply extraction for a completed run
// ABOUTME: Finds the newest assistant text message produced by that run

package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/assistant-relay/internal/assistant"
)

// ErrNoAssistantReply means a run completed without a text reply attributed to it.
var ErrNoAssistantReply = errors.New("no assistant reply for run")

// MessageLister is the slice of assistant.Backend the extractor needs.
type MessageLister interface {
	ListMessages(ctx context.Context, threadID string, order assistant.Order) ([]assistant.Message, error)
}

// Extractor reads run replies.
type Extractor struct {
	backend MessageLister
}

// NewExtractor creates an extractor.
func NewExtractor(backend MessageLister) *Extractor {
	return &Extractor{backend: backend}
}

// Extract returns the text of the newest assistant message whose run is runID.
// The message's first content part must be text.
func (e *Extractor) Extract(ctx context.Context, threadID, runID string) (string, error) {
	msgs, err := e.backend.ListMessages(ctx, threadID, assistant.OrderDesc)
	if err != nil {
		return "", fmt.Errorf("listing messages: %w", err)
	}

	for _, m := range msgs {
		if m.Role != assistant.RoleAssistant || m.RunID != runID {
			continue
		}
		if len(m.Content) == 0 || m.Content[0].Type != assistant.ContentTypeText {
			return "", fmt.Errorf("%w: message %s has no leading text part", ErrNoAssistantReply, m.ID)
		}
		return m.Content[0].Text, nil
	}

	return "", fmt.Errorf("%w: run %s", ErrNoAssistantReply, runID)
}
