// ABOUTME: Message persistence: atomic append with conversation bump, ordered listing, read state
// ABOUTME: Messages are immutable apart from the one-way is_read transition

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const messageColumns = `id, conversation_id, sender_id, content, is_read, read_at, created_at`

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&msg.IsRead,
		nullTime{&msg.ReadAt},
		dbTime{&msg.CreatedAt},
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// AppendMessage stores a message and bumps the conversation's updated_at in
// the same transaction.
func (s *SQLStore) AppendMessage(ctx context.Context, conversationID, senderID int64, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	var msg *Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		msg, err = s.appendTx(ctx, tx, conversationID, senderID, content, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLStore) appendTx(ctx context.Context, tx *sql.Tx, conversationID, senderID int64, content string, now time.Time) (*Message, error) {
	var a, b int64
	err := s.queryRow(ctx, tx, `
		SELECT participant_a_id, participant_b_id
		FROM conversations
		WHERE id = ?
	`, conversationID).Scan(&a, &b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation participants: %w", err)
	}
	if senderID != a && senderID != b {
		return nil, ErrNotParticipant
	}

	msg := &Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now.UTC(),
	}

	err = s.queryRow(ctx, tx, `
		INSERT INTO messages (conversation_id, sender_id, content, is_read, created_at)
		VALUES (?, ?, ?, FALSE, ?)
		RETURNING id
	`, conversationID, senderID, content, s.ts(now)).Scan(&msg.ID)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	// Never move updated_at backwards if clocks disagree between writers.
	_, err = s.exec(ctx, tx, `
		UPDATE conversations
		SET updated_at = CASE WHEN updated_at < ? THEN ? ELSE updated_at END
		WHERE id = ?
	`, s.ts(now), s.ts(now), conversationID)
	if err != nil {
		return nil, fmt.Errorf("bumping conversation updated_at: %w", err)
	}

	s.logger.Debug("appended message", "id", msg.ID, "conversation_id", conversationID, "sender_id", senderID)
	return msg, nil
}

// ListMessages returns a conversation's messages ordered by (created_at, id).
func (s *SQLStore) ListMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// LatestMessage returns the last message of a conversation, or ErrNotFound
// when it has none.
func (s *SQLStore) LatestMessage(ctx context.Context, conversationID int64) (*Message, error) {
	row := s.queryRow(ctx, s.db, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, conversationID)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest message: %w", err)
	}
	return msg, nil
}

// MarkAllRead flips every unread message not sent by readerID and returns
// how many changed. Calling it again changes nothing.
func (s *SQLStore) MarkAllRead(ctx context.Context, conversationID, readerID int64) (int64, error) {
	result, err := s.exec(ctx, s.db, `
		UPDATE messages
		SET is_read = TRUE, read_at = ?
		WHERE conversation_id = ? AND sender_id <> ? AND is_read = FALSE
	`, s.ts(s.now()), conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// MarkMessageRead marks one message read on behalf of its recipient. It
// returns false when the message was already read.
func (s *SQLStore) MarkMessageRead(ctx context.Context, messageID, readerID int64) (bool, error) {
	var marked bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var senderID, a, b int64
		var isRead bool
		err := s.queryRow(ctx, tx, `
			SELECT m.sender_id, m.is_read, c.participant_a_id, c.participant_b_id
			FROM messages m
			JOIN conversations c ON c.id = m.conversation_id
			WHERE m.id = ?
		`, messageID).Scan(&senderID, &isRead, &a, &b)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("querying message: %w", err)
		}

		if readerID != a && readerID != b {
			return ErrNotParticipant
		}
		if readerID == senderID {
			return ErrOwnMessage
		}
		if isRead {
			return nil
		}

		result, err := s.exec(ctx, tx, `
			UPDATE messages
			SET is_read = TRUE, read_at = ?
			WHERE id = ? AND is_read = FALSE
		`, s.ts(s.now()), messageID)
		if err != nil {
			return fmt.Errorf("marking message read: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		marked = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return marked, nil
}

// UnreadCount counts messages in the conversation that readerID has not read
// and did not send.
func (s *SQLStore) UnreadCount(ctx context.Context, conversationID, readerID int64) (int64, error) {
	var n int64
	err := s.queryRow(ctx, s.db, `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = ? AND sender_id <> ? AND is_read = FALSE
	`, conversationID, readerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return n, nil
}

// TotalUnread counts unread messages addressed to readerID across all of
// their conversations.
func (s *SQLStore) TotalUnread(ctx context.Context, readerID int64) (int64, error) {
	var n int64
	err := s.queryRow(ctx, s.db, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.participant_a_id = ? OR c.participant_b_id = ?)
			AND m.sender_id <> ?
			AND m.is_read = FALSE
	`, readerID, readerID, readerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting total unread messages: %w", err)
	}
	return n, nil
}

// StartConversation finds or creates the pair's conversation, merges the
// supplied context, fills in absent defaults and appends the opening message
// in one transaction.
func (s *SQLStore) StartConversation(ctx context.Context, p StartParams) (*Conversation, *Message, error) {
	if p.InitiatorID == p.RecipientID {
		return nil, nil, ErrInvalidPair
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, nil, ErrEmptyContent
	}

	var conv *Conversation
	var msg *Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()

		var err error
		conv, err = s.findOrCreate(ctx, tx, p.InitiatorID, p.RecipientID, p.Context, now)
		if err != nil {
			return err
		}

		if missing := conv.Context.Missing(p.Defaults); len(missing) > 0 {
			if err := s.mergeContext(ctx, tx, conv.ID, missing); err != nil {
				return err
			}
			conv.Context = conv.Context.Merge(missing)
		}

		msg, err = s.appendTx(ctx, tx, conv.ID, p.InitiatorID, p.Content, now)
		if err != nil {
			return err
		}
		if msg.CreatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = msg.CreatedAt
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return conv, msg, nil
}
