// Package auth protects the relay's admin API with bearer tokens.
//
// Tokens are HS256-signed JWTs whose "sub" claim names the operator. They
// are minted with the token subcommand using the configured auth.jwt_secret:
//
//	assistant-relay token --subject ops --ttl 720h
//
// Middleware rejects requests without a valid token with 401 and a JSON
// error body, and stores the verified subject in the request context.
package auth
