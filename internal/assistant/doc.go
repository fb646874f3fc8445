// Package assistant models the hosted conversational-AI backend as threads,
// messages and runs, and adapts the OpenAI Assistants v2 API to that model.
//
// A thread accumulates messages. Submitting a user message does not produce a
// reply by itself: the caller starts a run, polls it until it reaches a
// terminal status, then reads the assistant message the run appended.
//
// Errors come in two shapes. TransportError means no response arrived.
// StatusError carries the HTTP status; RateLimited reports a 429.
//
// MockBackend is an in-memory Backend for tests of code built on top of this
// package.
package assistant
