// Package gateway runs the assistant-relay server.
//
// # Overview
//
// The gateway owns every long-lived component: the session store, the
// assistant backend, one relay per enabled frontend, the dispatcher that runs
// accepted messages in the background, the HTTP server and, when enabled, the
// Matrix bridge and the Tailscale node.
//
// Sessions for different frontends share one store under separate key
// namespaces ("whatsapp:", "matrix:"), optionally behind session.key_prefix.
//
// # HTTP Endpoints
//
//   - GET /webhook - WhatsApp subscription handshake
//   - POST /webhook - WhatsApp message notifications
//   - GET /health - Liveness check
//   - GET /health/ready - Session store reachable and relay configured
//   - GET /api/sessions/{user_id}?frontend=whatsapp - Live session lookup (JWT)
//
// The admin API is only mounted when auth.jwt_secret is set.
//
// # Listeners
//
// Without Tailscale the HTTP server listens on server.http_addr. With
// tailscale.enabled a tsnet node is started; tailscale.funnel exposes the
// server publicly on :443, which is what Meta needs to reach the webhook.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is cancelled
//
// On shutdown the HTTP server stops accepting, in-flight messages get up to
// server.drain_timeout to finish, and whatever remains is cancelled without
// replying.
package gateway
