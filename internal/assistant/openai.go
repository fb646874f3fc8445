// ABOUTME: OpenAI Assistants v2 implementation of Backend using go-openai
// ABOUTME: Translates SDK types and errors into the package's own model

package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds credentials and endpoint settings for OpenAIBackend.
type OpenAIConfig struct {
	APIKey       string
	AssistantID  string
	Organization string
	Project      string
	BaseURL      string        // defaults to the public API
	CallTimeout  time.Duration // per HTTP call; 0 means no client-side limit
}

// OpenAIBackend talks to the OpenAI Assistants API.
type OpenAIBackend struct {
	client      *openai.Client
	assistantID string
}

// NewOpenAIBackend builds a backend bound to one assistant.
func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.OrgID = cfg.Organization
	clientCfg.AssistantVersion = "v2"
	clientCfg.HTTPClient = &http.Client{
		Timeout:   cfg.CallTimeout,
		Transport: &projectTransport{project: cfg.Project, base: http.DefaultTransport},
	}

	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(clientCfg),
		assistantID: cfg.AssistantID,
	}
}

// projectTransport adds the OpenAI-Project header, which the SDK config has no field for.
type projectTransport struct {
	project string
	base    http.RoundTripper
}

func (t *projectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.project == "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("OpenAI-Project", t.project)
	return t.base.RoundTrip(req)
}

func (b *OpenAIBackend) CreateThread(ctx context.Context) (string, error) {
	thread, err := b.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", translateError("create thread", err)
	}
	return thread.ID, nil
}

func (b *OpenAIBackend) AddMessage(ctx context.Context, threadID string, role Role, text string) error {
	_, err := b.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    string(role),
		Content: text,
	})
	if err != nil {
		return translateError("add message", err)
	}
	return nil
}

func (b *OpenAIBackend) CreateRun(ctx context.Context, threadID string) (*Run, error) {
	run, err := b.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: b.assistantID})
	if err != nil {
		return nil, translateError("create run", err)
	}
	return fromOpenAIRun(run), nil
}

func (b *OpenAIBackend) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	run, err := b.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, translateError("get run", err)
	}
	return fromOpenAIRun(run), nil
}

func (b *OpenAIBackend) ListMessages(ctx context.Context, threadID string, order Order) ([]Message, error) {
	o := string(order)
	list, err := b.client.ListMessage(ctx, threadID, nil, &o, nil, nil, nil)
	if err != nil {
		return nil, translateError("list messages", err)
	}

	msgs := make([]Message, 0, len(list.Messages))
	for _, m := range list.Messages {
		msgs = append(msgs, fromOpenAIMessage(m))
	}
	return msgs, nil
}

func fromOpenAIRun(r openai.Run) *Run {
	run := &Run{
		ID:       r.ID,
		ThreadID: r.ThreadID,
		Status:   RunStatus(r.Status),
	}
	if r.LastError != nil {
		run.LastError = &RunError{
			Code:    string(r.LastError.Code),
			Message: r.LastError.Message,
		}
	}
	return run
}

func fromOpenAIMessage(m openai.Message) Message {
	msg := Message{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Role:      Role(m.Role),
		CreatedAt: time.Unix(int64(m.CreatedAt), 0).UTC(),
	}
	if m.RunID != nil {
		msg.RunID = *m.RunID
	}
	for _, c := range m.Content {
		part := ContentPart{Type: c.Type}
		if c.Text != nil {
			part.Text = c.Text.Value
		}
		msg.Content = append(msg.Content, part)
	}
	return msg
}

// translateError maps SDK errors onto StatusError or TransportError.
func translateError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		se := &StatusError{
			Op:         op,
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
		}
		if apiErr.Code != nil {
			se.Code = fmt.Sprint(apiErr.Code)
		}
		return se
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &StatusError{
			Op:         op,
			StatusCode: reqErr.HTTPStatusCode,
			Message:    msg,
		}
	}

	return &TransportError{Op: op, Err: err}
}
