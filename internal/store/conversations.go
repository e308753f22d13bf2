// ABOUTME: Conversation persistence: canonical pair lookup, create-race retry, context merge
// ABOUTME: One row per unordered participant pair is enforced by a unique index

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const conversationColumns = `id, participant_a_id, participant_b_id, context, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var raw []byte
	err := row.Scan(
		&conv.ID,
		&conv.ParticipantAID,
		&conv.ParticipantBID,
		&raw,
		dbTime{&conv.CreatedAt},
		dbTime{&conv.UpdatedAt},
	)
	if err != nil {
		return nil, err
	}

	conv.Context, err = decodeContext(raw)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func encodeContext(c Context) (string, error) {
	if c == nil {
		c = Context{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding context: %w", err)
	}
	return string(data), nil
}

func decodeContext(raw []byte) (Context, error) {
	c := Context{}
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decoding context: %w", err)
	}
	return c, nil
}

// FindOrCreateConversation returns the conversation for the unordered pair
// (x, y), creating it when absent. A non-empty context is stored on a new row
// and merged into an existing one.
func (s *SQLStore) FindOrCreateConversation(ctx context.Context, x, y int64, c Context) (*Conversation, error) {
	if x == y {
		return nil, ErrInvalidPair
	}

	var conv *Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		conv, err = s.findOrCreate(ctx, tx, x, y, c, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// findOrCreate looks the pair up, inserts on miss, and re-selects when the
// insert loses a race against a concurrent creator.
func (s *SQLStore) findOrCreate(ctx context.Context, tx *sql.Tx, x, y int64, c Context, now time.Time) (*Conversation, error) {
	a, b := CanonicalPair(x, y)

	conv, err := s.getConversationByPair(ctx, tx, a, b)
	if err == nil {
		return s.mergeIfNeeded(ctx, tx, conv, c)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	conv, err = s.insertConversation(ctx, tx, a, b, c, now)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrDuplicateConversation) {
		return nil, err
	}

	s.logger.Debug("conversation create raced, re-selecting", "participant_a", a, "participant_b", b)
	conv, err = s.getConversationByPair(ctx, tx, a, b)
	if err != nil {
		return nil, fmt.Errorf("re-selecting conversation after conflict: %w", err)
	}
	return s.mergeIfNeeded(ctx, tx, conv, c)
}

func (s *SQLStore) mergeIfNeeded(ctx context.Context, q dbtx, conv *Conversation, c Context) (*Conversation, error) {
	if len(c) == 0 {
		return conv, nil
	}
	if err := s.mergeContext(ctx, q, conv.ID, c); err != nil {
		return nil, err
	}
	conv.Context = conv.Context.Merge(c)
	return conv, nil
}

// insertConversation inserts a canonical pair. On dialects that abort the
// transaction after a failed statement, the insert runs under a savepoint so
// a unique violation can be rolled back and the caller can keep going.
func (s *SQLStore) insertConversation(ctx context.Context, tx *sql.Tx, a, b int64, c Context, now time.Time) (*Conversation, error) {
	contextJSON, err := encodeContext(c)
	if err != nil {
		return nil, err
	}

	if s.dialect.savepoints {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT conversation_insert"); err != nil {
			return nil, fmt.Errorf("creating savepoint: %w", err)
		}
	}

	conv := &Conversation{
		ParticipantAID: a,
		ParticipantBID: b,
		Context:        c.Clone(),
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}

	err = s.queryRow(ctx, tx, `
		INSERT INTO conversations (participant_a_id, participant_b_id, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, a, b, contextJSON, s.ts(now), s.ts(now)).Scan(&conv.ID)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			if s.dialect.savepoints {
				if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT conversation_insert"); rbErr != nil {
					return nil, fmt.Errorf("rolling back savepoint: %w", rbErr)
				}
			}
			return nil, ErrDuplicateConversation
		}
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	if s.dialect.savepoints {
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT conversation_insert"); err != nil {
			return nil, fmt.Errorf("releasing savepoint: %w", err)
		}
	}

	s.logger.Debug("created conversation", "id", conv.ID, "participant_a", a, "participant_b", b)
	return conv, nil
}

func (s *SQLStore) getConversationByPair(ctx context.Context, q dbtx, a, b int64) (*Conversation, error) {
	row := s.queryRow(ctx, q, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_a_id = ? AND participant_b_id = ?
	`, a, b)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by pair: %w", err)
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	return s.getConversation(ctx, s.db, id)
}

func (s *SQLStore) getConversation(ctx context.Context, q dbtx, id int64) (*Conversation, error) {
	row := s.queryRow(ctx, q, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = ?
	`, id)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ListConversationsForParticipant returns every conversation involving
// identityID, most recently active first.
func (s *SQLStore) ListConversationsForParticipant(ctx context.Context, identityID int64) ([]*Conversation, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_a_id = ? OR participant_b_id = ?
		ORDER BY updated_at DESC, id DESC
	`, identityID, identityID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

// UpdateConversationContext merges c into the stored context. Keys absent
// from c are left untouched.
func (s *SQLStore) UpdateConversationContext(ctx context.Context, id int64, c Context) (*Conversation, error) {
	if len(c) > 0 {
		if err := s.mergeContext(ctx, s.db, id, c); err != nil {
			return nil, err
		}
	}
	return s.getConversation(ctx, s.db, id)
}

// mergeContext merges in a single statement so concurrent updates to
// different keys cannot drop each other.
func (s *SQLStore) mergeContext(ctx context.Context, q dbtx, id int64, c Context) error {
	patch, err := encodeContext(c)
	if err != nil {
		return err
	}

	result, err := s.exec(ctx, q, `
		UPDATE conversations
		SET context = `+s.dialect.mergeContext+`
		WHERE id = ?
	`, patch, id)
	if err != nil {
		return fmt.Errorf("merging conversation context: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
