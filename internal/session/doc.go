// Package session stores the mapping from a messaging user to the assistant
// thread that holds their conversation.
//
// # Lifecycle
//
// A session is written once when a user's first message provisions a thread,
// read on every later message, and disappears when its TTL (12h by default)
// lapses. There is no explicit delete. With sliding expiration enabled the
// relay calls Touch on every reuse.
//
// # Backends
//
//   - MemoryStore: bounded in-process map; lost on restart
//   - SQLiteStore: modernc.org/sqlite, single host
//   - PostgresStore: pgx stdlib driver, shared between instances
//   - RedisStore: go-redis with native key expiry
//
// Backend failures are wrapped in ErrUnavailable. Callers must treat them as
// errors and never as a missing session, otherwise an outage would silently
// start a new conversation for every user.
//
// # Namespacing
//
// Namespace prefixes keys so the WhatsApp and Matrix frontends can share one
// backend without their user ids colliding.
package session
