// ABOUTME: Matrix bridge: syncs as a bot, relays text messages and sends replies
// ABOUTME: Implements relay.Deliverer and relay.InterimSender with the room id as the conversation key

package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/assistant-relay/internal/relay"
)

const (
	typingTimeout  = 30 * time.Second
	networkTimeout = 10 * time.Second
	sendTimeout    = 30 * time.Second
)

// Intake accepts inbound messages for background processing.
type Intake interface {
	Check() error
	Accept(ctx context.Context, in relay.Inbound)
}

// Config configures the bridge.
type Config struct {
	Homeserver      string
	UserID          string
	AccessToken     string
	AllowedUsers    []string // empty allows everyone
	AllowedRooms    []string // empty allows every joined room
	RenderMarkdown  bool
	TypingIndicator bool
}

// Bridge connects a Matrix account to a relay.
type Bridge struct {
	cfg    Config
	client *mautrix.Client
	intake Intake
	md     goldmark.Markdown
	logger *slog.Logger
	start  time.Time
}

// NewBridge creates a bridge. Call SetIntake before Run.
func NewBridge(cfg Config, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Bridge{
		cfg:    cfg,
		client: client,
		md:     goldmark.New(),
		logger: logger.With("component", "matrix-bridge"),
		start:  time.Now(),
	}, nil
}

// SetIntake sets where accepted messages go. The relay needs the bridge as its
// deliverer, so the two are wired in two steps.
func (b *Bridge) SetIntake(intake Intake) {
	b.intake = intake
}

// Run syncs until ctx is cancelled or the sync fails.
func (b *Bridge) Run(ctx context.Context) error {
	if b.intake == nil {
		return errors.New("matrix bridge has no intake")
	}

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	b.logger.Info("starting matrix bridge", "homeserver", b.cfg.Homeserver, "user_id", b.cfg.UserID)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.client.StopSync()
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	text, ok := b.accept(evt)
	if !ok {
		return
	}

	if err := b.intake.Check(); err != nil {
		b.logger.Error("cannot process message", "room", evt.RoomID, "error", err)
		return
	}

	b.logger.Info("received message", "room", evt.RoomID, "sender", evt.Sender, "event_id", evt.ID)

	if b.cfg.TypingIndicator {
		b.setTyping(evt.RoomID, true)
	}
	b.intake.Accept(ctx, relay.Inbound{
		UserID:    evt.RoomID.String(),
		Text:      text,
		MessageID: evt.ID.String(),
	})
}

// accept decides whether evt is a message to relay and returns its text.
func (b *Bridge) accept(evt *event.Event) (string, bool) {
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return "", false
	}
	// the first sync replays room history
	if evt.Timestamp > 0 && time.UnixMilli(evt.Timestamp).Before(b.start) {
		return "", false
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return "", false
	}
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return "", false
	}

	if !allowed(b.cfg.AllowedRooms, evt.RoomID.String()) {
		b.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID)
		return "", false
	}
	if !allowed(b.cfg.AllowedUsers, evt.Sender.String()) {
		b.logger.Debug("ignoring message from non-allowed user", "sender", evt.Sender)
		return "", false
	}

	text := strings.TrimSpace(content.Body)
	return text, text != ""
}

func allowed(list []string, v string) bool {
	return len(list) == 0 || slices.Contains(list, v)
}

// Send posts the final reply to the room identified by roomID and clears
// the typing indicator.
func (b *Bridge) Send(ctx context.Context, roomID, text string) error {
	room := id.RoomID(roomID)
	err := b.send(ctx, room, text)
	if b.cfg.TypingIndicator {
		b.setTyping(room, false)
	}
	return err
}

// SendInterim posts a message that precedes the final reply. The typing
// indicator is re-asserted since the reply is still being prepared.
func (b *Bridge) SendInterim(ctx context.Context, roomID, text string) error {
	room := id.RoomID(roomID)
	err := b.send(ctx, room, text)
	if b.cfg.TypingIndicator {
		b.setTyping(room, true)
	}
	return err
}

func (b *Bridge) send(ctx context.Context, room id.RoomID, text string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if _, err := b.client.SendMessageEvent(ctx, room, event.EventMessage, b.render(text)); err != nil {
		return fmt.Errorf("sending to %s: %w", room, err)
	}
	return nil
}

// render builds the message content, with an HTML body when Markdown
// rendering is on and changes the output.
func (b *Bridge) render(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: text}
	if !b.cfg.RenderMarkdown {
		return content
	}

	var buf bytes.Buffer
	if err := b.md.Convert([]byte(text), &buf); err != nil {
		b.logger.Debug("markdown rendering failed", "error", err)
		return content
	}
	html := strings.TrimSpace(buf.String())
	if html == "<p>"+text+"</p>" {
		return content
	}
	content.Format = event.FormatHTML
	content.FormattedBody = html
	return content
}

func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.client.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID, "error", err)
	}
}
