// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without a database and to inject persistence failures

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	identities    map[int64]*Identity
	conversations map[int64]*Conversation
	pairIndex     map[[2]int64]int64  // canonical pair -> conversation ID
	messages      map[int64][]*Message // keyed by conversation ID
	nextConvID    int64
	nextMsgID     int64
	now           func() time.Time

	// Err, when set, is returned by every operation.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		identities:    make(map[int64]*Identity),
		conversations: make(map[int64]*Conversation),
		pairIndex:     make(map[[2]int64]int64),
		messages:      make(map[int64][]*Message),
		now:           time.Now,
	}
}

// SetErr sets the failure returned by every subsequent call.
func (m *MockStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

func copyConversation(c *Conversation) *Conversation {
	out := *c
	out.Context = c.Context.Clone()
	return &out
}

func copyMessage(msg *Message) *Message {
	out := *msg
	if msg.ReadAt != nil {
		t := *msg.ReadAt
		out.ReadAt = &t
	}
	return &out
}

// FindOrCreateConversation returns the pair's conversation, creating it on miss.
func (m *MockStore) FindOrCreateConversation(ctx context.Context, x, y int64, c Context) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if x == y {
		return nil, ErrInvalidPair
	}
	return copyConversation(m.findOrCreateLocked(x, y, c, m.now().UTC())), nil
}

func (m *MockStore) findOrCreateLocked(x, y int64, c Context, now time.Time) *Conversation {
	a, b := CanonicalPair(x, y)
	if id, ok := m.pairIndex[[2]int64{a, b}]; ok {
		conv := m.conversations[id]
		conv.Context = conv.Context.Merge(c)
		return conv
	}

	m.nextConvID++
	conv := &Conversation{
		ID:             m.nextConvID,
		ParticipantAID: a,
		ParticipantBID: b,
		Context:        c.Clone(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.conversations[conv.ID] = conv
	m.pairIndex[[2]int64{a, b}] = conv.ID
	return conv
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

// ListConversationsForParticipant returns conversations newest-activity first.
func (m *MockStore) ListConversationsForParticipant(ctx context.Context, identityID int64) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var result []*Conversation
	for _, conv := range m.conversations {
		if conv.HasParticipant(identityID) {
			result = append(result, copyConversation(conv))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// UpdateConversationContext merges c into the stored context.
func (m *MockStore) UpdateConversationContext(ctx context.Context, id int64, c Context) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	conv.Context = conv.Context.Merge(c)
	return copyConversation(conv), nil
}

// AppendMessage stores a message and bumps the conversation.
func (m *MockStore) AppendMessage(ctx context.Context, conversationID, senderID int64, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	msg, err := m.appendLocked(conversationID, senderID, content, m.now().UTC())
	if err != nil {
		return nil, err
	}
	return copyMessage(msg), nil
}

func (m *MockStore) appendLocked(conversationID, senderID int64, content string, now time.Time) (*Message, error) {
	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}

	m.nextMsgID++
	msg := &Message{
		ID:             m.nextMsgID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	if now.After(conv.UpdatedAt) {
		conv.UpdatedAt = now
	}
	return msg, nil
}

// ListMessages returns messages ordered by (created_at, id).
func (m *MockStore) ListMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	result := make([]*Message, 0, len(m.messages[conversationID]))
	for _, msg := range m.messages[conversationID] {
		result = append(result, copyMessage(msg))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// LatestMessage returns the last message or ErrNotFound.
func (m *MockStore) LatestMessage(ctx context.Context, conversationID int64) (*Message, error) {
	msgs, err := m.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return msgs[len(msgs)-1], nil
}

// MarkAllRead flips unread messages not sent by readerID.
func (m *MockStore) MarkAllRead(ctx context.Context, conversationID, readerID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}

	now := m.now().UTC()
	var n int64
	for _, msg := range m.messages[conversationID] {
		if msg.SenderID != readerID && !msg.IsRead {
			msg.IsRead = true
			readAt := now
			msg.ReadAt = &readAt
			n++
		}
	}
	return n, nil
}

// MarkMessageRead marks one message read for its recipient.
func (m *MockStore) MarkMessageRead(ctx context.Context, messageID, readerID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}

	for convID, msgs := range m.messages {
		for _, msg := range msgs {
			if msg.ID != messageID {
				continue
			}
			if !m.conversations[convID].HasParticipant(readerID) {
				return false, ErrNotParticipant
			}
			if msg.SenderID == readerID {
				return false, ErrOwnMessage
			}
			if msg.IsRead {
				return false, nil
			}
			msg.IsRead = true
			readAt := m.now().UTC()
			msg.ReadAt = &readAt
			return true, nil
		}
	}
	return false, ErrNotFound
}

// UnreadCount counts messages readerID has not read and did not send.
func (m *MockStore) UnreadCount(ctx context.Context, conversationID, readerID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return 0, m.Err
	}

	var n int64
	for _, msg := range m.messages[conversationID] {
		if msg.SenderID != readerID && !msg.IsRead {
			n++
		}
	}
	return n, nil
}

// TotalUnread counts unread messages addressed to readerID everywhere.
func (m *MockStore) TotalUnread(ctx context.Context, readerID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return 0, m.Err
	}

	var n int64
	for convID, msgs := range m.messages {
		if !m.conversations[convID].HasParticipant(readerID) {
			continue
		}
		for _, msg := range msgs {
			if msg.SenderID != readerID && !msg.IsRead {
				n++
			}
		}
	}
	return n, nil
}

// StartConversation finds or creates the conversation and appends the first
// message atomically with respect to other MockStore calls.
func (m *MockStore) StartConversation(ctx context.Context, p StartParams) (*Conversation, *Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, nil, m.Err
	}
	if p.InitiatorID == p.RecipientID {
		return nil, nil, ErrInvalidPair
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, nil, ErrEmptyContent
	}

	now := m.now().UTC()
	conv := m.findOrCreateLocked(p.InitiatorID, p.RecipientID, p.Context, now)
	conv.Context = conv.Context.Merge(conv.Context.Missing(p.Defaults))
	msg, err := m.appendLocked(conv.ID, p.InitiatorID, p.Content, now)
	if err != nil {
		return nil, nil, err
	}
	return copyConversation(conv), copyMessage(msg), nil
}

// GetIdentity retrieves an identity by ID.
func (m *MockStore) GetIdentity(ctx context.Context, id int64) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	ident, ok := m.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *ident
	return &result, nil
}

// GetIdentityByEmail retrieves an identity by email, ignoring case.
func (m *MockStore) GetIdentityByEmail(ctx context.Context, email string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	for _, ident := range m.identities {
		if strings.EqualFold(ident.Email, strings.TrimSpace(email)) {
			result := *ident
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// SearchIdentities matches display name or email, case insensitively.
func (m *MockStore) SearchIdentities(ctx context.Context, query string, excludeID int64, limit int) ([]*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if limit <= 0 {
		limit = 10
	}

	q := strings.ToLower(strings.TrimSpace(query))
	results := []*Identity{}
	for _, ident := range m.identities {
		if ident.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(ident.DisplayName), q) || strings.Contains(strings.ToLower(ident.Email), q) {
			result := *ident
			results = append(results, &result)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].DisplayName != results[j].DisplayName {
			return results[i].DisplayName < results[j].DisplayName
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// UpsertIdentity inserts or replaces an identity.
func (m *MockStore) UpsertIdentity(ctx context.Context, ident *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	result := *ident
	if result.CreatedAt.IsZero() {
		result.CreatedAt = m.now().UTC()
	}
	m.identities[result.ID] = &result
	return nil
}

// Ping returns the injected error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Err
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface check
var _ Store = (*MockStore)(nil)
