// Package ttlcache provides a bounded, thread-safe map whose entries expire
// after a per-entry time to live. It backs the in-memory session store and
// the duplicate-delivery filter of the webhook frontends.
package ttlcache
