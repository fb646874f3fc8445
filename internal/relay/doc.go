// Package relay turns one inbound user message into exactly one reply from
// the hosted assistant.
//
// # Flow
//
// For every message Relay.Handle runs, in order:
//
//  1. Provisioner: look up the user's session; create a thread and a session
//     with the full TTL when none is live
//  2. Welcome and disclosure texts, only for a brand-new session
//  3. Submitter: append the text to the thread as a user message
//  4. Orchestrator: start a run, wait InitialDelay, then poll every Interval
//     until the run is terminal or MaxAttempts polls were made
//  5. Extractor: for completed runs, read the newest assistant message of that run
//  6. Translator: map the outcome to the final text
//
// Failures before a run exists (session outage, thread creation, submission,
// run creation) send the UnexpectedError text. Poll failures are retried
// within the budget; a 429 additionally waits RateLimitCooldown.
//
// # Concurrency
//
// Dispatcher runs each message on its own goroutine with a context detached
// from the inbound HTTP request, and Wait drains in-flight work at shutdown.
// Provisioning for a single user is serialized in-process when
// ProvisionOptions.Serialize is set, so simultaneous first messages share one
// thread. Separate processes can still race; the last Put wins.
package relay
