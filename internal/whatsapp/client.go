// ABOUTME: Graph API client that sends text replies to WhatsApp users
// ABOUTME: Implements relay.Deliverer

package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured means the access token or phone number id is missing.
var ErrNotConfigured = errors.New("whatsapp sender not configured")

// ClientConfig configures the Graph API client.
type ClientConfig struct {
	GraphURL      string // e.g. https://graph.facebook.com
	APIVersion    string // e.g. v18.0
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
}

// APIError is a non-2xx Graph API response.
type APIError struct {
	StatusCode int
	Code       int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph api: status %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
}

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a client. A zero timeout means 15 seconds.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v18.0"
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "whatsapp-client"),
	}
}

// Check reports ErrNotConfigured when credentials are missing.
func (c *Client) Check() error {
	var missing []string
	if c.cfg.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if c.cfg.PhoneNumberID == "" {
		missing = append(missing, "phone_number_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             sendText `json:"text"`
}

type sendText struct {
	Body string `json:"body"`
}

type graphErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send delivers text to the WhatsApp user identified by their phone number.
func (c *Client) Send(ctx context.Context, to, text string) error {
	if err := c.Check(); err != nil {
		return err
	}

	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             sendText{Body: text},
	})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var ge graphErrorBody
		if json.Unmarshal(body, &ge) == nil {
			apiErr.Code = ge.Error.Code
			apiErr.Type = ge.Error.Type
			apiErr.Message = ge.Error.Message
		}
		return apiErr
	}

	c.logger.Debug("message sent", "to", to, "bytes", len(text))
	return nil
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(c.cfg.GraphURL, "/"), c.cfg.APIVersion, c.cfg.PhoneNumberID)
}
