// Package store provides persistent storage for conversations, messages and
// the identity references they point at.
//
// # Architecture
//
// The store package splits its surface into three interfaces:
//
//   - ConversationStore: canonical-pair lookup, listing, context merge
//   - MessageStore: append, ordered listing, read state, unread counts
//   - IdentityStore: participant resolution and recipient search
//
// Store composes them and adds StartConversation, which finds or creates a
// conversation and appends its opening message in one transaction.
//
// SQLStore implements Store over database/sql for both supported engines.
// The differences between them (placeholder style, JSON merge, LIKE
// operator, timestamp encoding, unique-violation detection) are captured by
// a small dialect value.
//
// # Data Models
//
//   - Identity: a platform account as seen by messaging (role, display name)
//   - Conversation: one row per unordered participant pair, stored as the
//     canonical pair (participant_a_id < participant_b_id)
//   - Message: immutable apart from the one-way is_read transition
//   - Context: string key/value metadata merged into a conversation
//
// # Backends
//
// SQLite (modernc.org/sqlite) is the default. Writes are serialized through
// a single connection and the schema is created in place:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// PostgreSQL goes through the pgx stdlib driver, with the schema versioned
// by goose migrations embedded from internal/store/migrations.
//
// # Concurrency
//
// Two callers racing to create the same pair both end up with the one row:
// the loser's insert fails the unique index, is reported internally as
// ErrDuplicateConversation, and the row is re-selected. Message ids come
// from the database, so (created_at, id) is a stable total order.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrInvalidPair: both participants are the same identity
//   - ErrEmptyContent: message content is blank after trimming
//   - ErrNotParticipant: caller is not part of the conversation
//   - ErrOwnMessage: a sender tried to mark their own message read
//
// # Testing
//
// Use NewMockStore() for unit tests that do not need SQL, and set Err to
// inject persistence failures. Use NewSQLiteStore(":memory:") or a temp
// file for integration tests.
package store
