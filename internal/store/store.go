// ABOUTME: Store interfaces and data types for conversations, messages, and identities
// ABOUTME: Defines the persistence contract shared by the SQL backends and the mock store

package store

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicateConversation is returned by the insert path when the canonical
	// pair already has a row. FindOrCreateConversation and StartConversation
	// absorb it by re-selecting; it never reaches their callers.
	ErrDuplicateConversation = errors.New("conversation already exists")

	ErrEmptyContent   = errors.New("message content is empty")
	ErrInvalidPair    = errors.New("a conversation needs two distinct participants")
	ErrNotParticipant = errors.New("identity is not a participant of the conversation")
	ErrOwnMessage     = errors.New("only the recipient can mark a message as read")
)

// Role is the job-board role of an identity.
type Role string

const (
	RoleJobSeeker Role = "job_seeker"
	RoleEmployer  Role = "employer"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleJobSeeker, RoleEmployer, RoleAdmin:
		return true
	}
	return false
}

// Identity is reference data about a platform user. The messaging core reads
// it but never changes it; rows are synced in by the owning system.
type Identity struct {
	ID          int64
	DisplayName string
	Email       string
	Role        Role
	IsVerified  bool
	AvatarURL   string
	CreatedAt   time.Time
}

// Context is free-form metadata attached to a conversation (job, company,
// application references, presentation overrides). Updates merge key by key.
type Context map[string]string

// Clone returns an independent copy of c. A nil Context clones to an empty one.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns a copy of c with every key of update applied on top.
func (c Context) Merge(update Context) Context {
	out := c.Clone()
	for k, v := range update {
		out[k] = v
	}
	return out
}

// Missing returns the entries of defaults whose keys c does not carry.
func (c Context) Missing(defaults Context) Context {
	out := Context{}
	for k, v := range defaults {
		if _, ok := c[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// Conversation is the single thread between two identities. ParticipantAID is
// always the lower id of the pair.
type Conversation struct {
	ID             int64
	ParticipantAID int64
	ParticipantBID int64
	Context        Context
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasParticipant reports whether identityID is one side of the conversation.
func (c *Conversation) HasParticipant(identityID int64) bool {
	return c.ParticipantAID == identityID || c.ParticipantBID == identityID
}

// OtherParticipant returns the id of the side that is not identityID.
func (c *Conversation) OtherParticipant(identityID int64) int64 {
	if c.ParticipantAID == identityID {
		return c.ParticipantBID
	}
	return c.ParticipantAID
}

// Message is one entry in a conversation. Only IsRead/ReadAt ever change
// after the row is written.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Content        string
	IsRead         bool
	ReadAt         *time.Time
	CreatedAt      time.Time
}

// StartParams describes a conversation start: find-or-create the pair, merge
// the context and append the first message as one unit of work.
type StartParams struct {
	InitiatorID int64
	RecipientID int64
	Content     string
	Context     Context

	// Defaults are written only for keys the conversation does not
	// already carry, so derived values never clobber recorded ones.
	Defaults Context
}

// CanonicalPair orders two identity ids so that the lower id comes first.
func CanonicalPair(x, y int64) (a, b int64) {
	if x < y {
		return x, y
	}
	return y, x
}

// ConversationStore persists conversations and enforces one row per
// unordered participant pair.
type ConversationStore interface {
	FindOrCreateConversation(ctx context.Context, x, y int64, c Context) (*Conversation, error)
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListConversationsForParticipant(ctx context.Context, identityID int64) ([]*Conversation, error)
	UpdateConversationContext(ctx context.Context, id int64, c Context) (*Conversation, error)
}

// MessageStore persists messages in (created_at, id) order and tracks read state.
type MessageStore interface {
	AppendMessage(ctx context.Context, conversationID, senderID int64, content string) (*Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]*Message, error)
	LatestMessage(ctx context.Context, conversationID int64) (*Message, error)
	MarkAllRead(ctx context.Context, conversationID, readerID int64) (int64, error)
	MarkMessageRead(ctx context.Context, messageID, readerID int64) (bool, error)
	UnreadCount(ctx context.Context, conversationID, readerID int64) (int64, error)
	TotalUnread(ctx context.Context, readerID int64) (int64, error)
}

// IdentityStore reads the identity reference data.
type IdentityStore interface {
	GetIdentity(ctx context.Context, id int64) (*Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*Identity, error)
	SearchIdentities(ctx context.Context, query string, excludeID int64, limit int) ([]*Identity, error)
	UpsertIdentity(ctx context.Context, identity *Identity) error
}

// Store is everything the messaging service needs from persistence.
type Store interface {
	ConversationStore
	MessageStore
	IdentityStore

	// StartConversation runs find-or-create, context merge and the first
	// append in a single transaction.
	StartConversation(ctx context.Context, p StartParams) (*Conversation, *Message, error)

	// Ping checks that the backing database is reachable.
	Ping(ctx context.Context) error

	Close() error
}
