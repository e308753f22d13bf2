// Package dedupe remembers recently completed requests so that a client
// retrying a POST with the same Idempotency-Key gets the original response
// back instead of creating a second conversation or message.
package dedupe
