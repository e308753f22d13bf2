// Package auth resolves the identity behind an API request.
//
// # Authentication Methods
//
// Token issuance for end users belongs to the platform's account system.
// This package only consumes the result, in one of two ways:
//
//   - JWT Tokens: callers send "Authorization: Bearer <token>". Tokens are
//     HS256-signed with the configured auth.jwt_secret (at least
//     MinSecretLength bytes) and carry the identity id in the sub claim.
//
//   - Trusted Header: when no secret is configured the gateway expects an
//     upstream proxy to authenticate the user and forward the identity id in
//     a header (X-Identity-ID by default).
//
// Either way the id must resolve to a stored Identity, otherwise the request
// is rejected with 401.
//
// # Context Propagation
//
//	authCtx := auth.FromContext(r.Context())
//	authCtx.IdentityID // the caller
//
// # Token Management
//
// Operators can mint tokens for testing with the CLI:
//
//	talent-horizon token --identity 5 --ttl 1h
package auth
