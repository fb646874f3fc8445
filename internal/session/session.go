// ABOUTME: Session store interface mapping a user to a live assistant thread
// ABOUTME: Defines the Session model, sentinel errors and key namespacing

package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is how long a session lives after it is written.
const DefaultTTL = 12 * time.Hour

// ErrNotFound is returned when no live session exists for a user
var ErrNotFound = errors.New("session not found")

// ErrUnavailable wraps every backend failure. It must never be read as "no session".
var ErrUnavailable = errors.New("session store unavailable")

// ErrInvalidSession is returned when Put receives an empty key, thread or non-positive TTL
var ErrInvalidSession = errors.New("invalid session")

// Session binds a user to the conversation thread that carries their history.
type Session struct {
	UserID    string
	ThreadID  string
	CreatedAt time.Time // zero when the backend does not record it
	ExpiresAt time.Time
}

// Store persists sessions with expiry. Implementations are safe for concurrent
// use and perform every call against the backend; there is no read-through cache.
type Store interface {
	// Get returns the thread of the live session for userID, or ErrNotFound.
	Get(ctx context.Context, userID string) (string, error)

	// Lookup returns the full live session for userID, or ErrNotFound.
	Lookup(ctx context.Context, userID string) (*Session, error)

	// Put installs or overwrites the session with an expiry ttl from now.
	Put(ctx context.Context, userID, threadID string, ttl time.Duration) error

	// Touch moves the expiry of a live session to ttl from now.
	Touch(ctx context.Context, userID string, ttl time.Duration) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func validatePut(userID, threadID string, ttl time.Duration) error {
	switch {
	case userID == "":
		return fmt.Errorf("%w: empty user id", ErrInvalidSession)
	case threadID == "":
		return fmt.Errorf("%w: empty thread id", ErrInvalidSession)
	case ttl <= 0:
		return fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalidSession, ttl)
	}
	return nil
}

// namespaced prefixes every key so several frontends can share one backend.
type namespaced struct {
	Store
	prefix string
}

// Namespace returns a view of s whose keys are prefixed with prefix.
// Closing the view does not close s.
func Namespace(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &namespaced{Store: s, prefix: prefix}
}

func (n *namespaced) Get(ctx context.Context, userID string) (string, error) {
	return n.Store.Get(ctx, n.prefix+userID)
}

func (n *namespaced) Lookup(ctx context.Context, userID string) (*Session, error) {
	sess, err := n.Store.Lookup(ctx, n.prefix+userID)
	if err != nil {
		return nil, err
	}
	sess.UserID = userID
	return sess, nil
}

func (n *namespaced) Put(ctx context.Context, userID, threadID string, ttl time.Duration) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidSession)
	}
	return n.Store.Put(ctx, n.prefix+userID, threadID, ttl)
}

func (n *namespaced) Touch(ctx context.Context, userID string, ttl time.Duration) error {
	return n.Store.Touch(ctx, n.prefix+userID, ttl)
}

func (n *namespaced) Close() error { return nil }
