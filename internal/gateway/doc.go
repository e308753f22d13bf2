// Package gateway runs the talent-horizon messaging HTTP server.
//
// # Overview
//
// The Gateway owns the store handle, the conversation service and the HTTP
// server. It is created once at startup and torn down on shutdown:
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// # Routes
//
//	POST  /api/conversations                 start (or reuse) a conversation
//	GET   /api/conversations                 caller's conversations, newest activity first
//	GET   /api/conversations/{id}            detail; marks incoming messages read
//	POST  /api/conversations/{id}/messages   send a message
//	POST  /api/conversations/{id}/read       mark all incoming messages read
//	PATCH /api/conversations/{id}/context    merge context keys
//	POST  /api/messages/{id}/read            mark one message read
//	GET   /api/unread                        unread total across conversations
//	GET   /api/identities/search?q=          find people to message
//	GET   /health, /health/ready             liveness, store ping
//
// # Authentication
//
// With auth.jwt_secret set, API routes require "Authorization: Bearer <jwt>"
// whose subject is the caller's identity id. Without a secret the gateway
// trusts the identity header (X-Identity-ID by default) set by an upstream
// session layer, and logs a warning at startup.
//
// # Errors
//
// Errors are returned as {"error": "..."}:
//
//	validation          400
//	not authorized      403
//	not found           404
//	store unavailable   503 "internal error"
//	anything else       500 "internal error"
//
// Unauthenticated requests get 401.
//
// # Idempotency
//
// POST routes accept an Idempotency-Key header. A completed request replayed
// with the same key by the same caller on the same path returns the recorded
// response with "Idempotent-Replayed: true". A replay that arrives while the
// first request is still running gets 409. Failed (5xx) requests are not
// recorded.
package gateway
