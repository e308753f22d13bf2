// ABOUTME: Service holds the messaging rules: start, send, read state, and list/detail projections
// ABOUTME: Store errors are translated into the service's own error kinds so handlers can map them

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Godpassdev247/talent-horizon/internal/store"
)

// Error kinds returned by the service. Every error it returns matches exactly
// one of them under errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

const (
	// DefaultPreviewLength is the number of runes kept in a list preview.
	DefaultPreviewLength = 50
	// DefaultSearchLimit caps identity search results.
	DefaultSearchLimit = 10
	// MinSearchQueryLength is the shortest accepted search query, in runes.
	MinSearchQueryLength = 2

	unknownDisplayName = "User"
	previewEllipsis    = "..."
)

// Store is what the service needs from persistence.
type Store interface {
	store.ConversationStore
	store.MessageStore

	GetIdentity(ctx context.Context, id int64) (*store.Identity, error)
	SearchIdentities(ctx context.Context, query string, excludeID int64, limit int) ([]*store.Identity, error)
	StartConversation(ctx context.Context, p store.StartParams) (*store.Conversation, *store.Message, error)
}

// Service is the messaging core. It holds no conversation state between
// calls; every operation re-reads from the store.
type Service struct {
	store         Store
	logger        *slog.Logger
	previewLength int
	searchLimit   int
}

// Option configures a Service.
type Option func(*Service)

// WithPreviewLength sets how many runes of the last message a summary shows.
func WithPreviewLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.previewLength = n
		}
	}
}

// WithSearchLimit sets the maximum number of identity search results.
func WithSearchLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.searchLimit = n
		}
	}
}

// New creates a Service backed by st.
func New(st Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:         st,
		logger:        logger.With("component", "conversation"),
		previewLength: DefaultPreviewLength,
		searchLimit:   DefaultSearchLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRequest is the input of StartConversation.
type StartRequest struct {
	RecipientID int64
	Content     string
	Context     store.Context
}

// ParticipantView is how the viewer sees the other side of a conversation.
type ParticipantView struct {
	ID          int64
	DisplayName string
	Title       string
	Email       string
	Role        store.Role
	IsVerified  bool
	AvatarURL   string
}

// MessageView is a message relative to a viewer.
type MessageView struct {
	ID        int64
	SenderID  int64
	Content   string
	IsRead    bool
	IsMine    bool
	ReadAt    *time.Time
	CreatedAt time.Time
}

// ConversationView is the full conversation as returned to one participant.
type ConversationView struct {
	ID         int64
	Other      ParticipantView
	Context    store.Context
	CreatedAt  time.Time
	UpdatedAt  time.Time
	MarkedRead int64
	Messages   []MessageView
}

// ConversationSummary is one row of a participant's conversation list.
type ConversationSummary struct {
	ID              int64
	Other           ParticipantView
	Preview         string
	LastMessageTime *time.Time
	UnreadCount     int64
	Context         store.Context
	UpdatedAt       time.Time
}

// StartConversation opens (or reuses) the conversation between initiatorID
// and the recipient and posts the first message. Repeated starts against the
// same pair converge on one conversation and merge the supplied context.
func (s *Service) StartConversation(ctx context.Context, initiatorID int64, req StartRequest) (*store.Conversation, *store.Message, error) {
	if req.RecipientID <= 0 {
		return nil, nil, fmt.Errorf("%w: recipient_id is required", ErrValidation)
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, nil, fmt.Errorf("%w: message content is required", ErrValidation)
	}
	if req.RecipientID == initiatorID {
		return nil, nil, fmt.Errorf("%w: cannot start a conversation with yourself", ErrValidation)
	}

	initiator, err := s.store.GetIdentity(ctx, initiatorID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: unknown caller identity", ErrNotAuthorized)
	}
	if err != nil {
		return nil, nil, storeFailure("resolving initiator", err)
	}
	if _, err := s.store.GetIdentity(ctx, req.RecipientID); err != nil {
		return nil, nil, mapStoreError("resolving recipient", err, "recipient not found")
	}

	scoped, err := scopeContext(req.Context, initiatorID, req.RecipientID)
	if err != nil {
		return nil, nil, err
	}

	conv, msg, err := s.store.StartConversation(ctx, store.StartParams{
		InitiatorID: initiatorID,
		RecipientID: req.RecipientID,
		Content:     req.Content,
		Context:     scoped,
		Defaults:    store.Context{ContextSubject: deriveSubject(scoped, initiator.Role)},
	})
	if err != nil {
		return nil, nil, mapStoreError("starting conversation", err, "conversation not found")
	}

	s.logger.Info("conversation started",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"initiator_id", initiatorID,
		"recipient_id", req.RecipientID)
	return conv, msg, nil
}

// SendMessage appends content to a conversation the sender takes part in.
func (s *Service) SendMessage(ctx context.Context, senderID, conversationID int64, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content is required", ErrValidation)
	}

	msg, err := s.store.AppendMessage(ctx, conversationID, senderID, content)
	if err != nil {
		return nil, mapStoreError("appending message", err, "conversation not found")
	}

	s.logger.Debug("message sent", "conversation_id", conversationID, "message_id", msg.ID, "sender_id", senderID)
	return msg, nil
}

// GetConversationDetail returns the conversation with all of its messages.
// It marks everything addressed to the viewer as read, so pollers that only
// want a preview should use ListConversations instead.
func (s *Service) GetConversationDetail(ctx context.Context, conversationID, viewerID int64) (*ConversationView, error) {
	conv, err := s.authorize(ctx, conversationID, viewerID)
	if err != nil {
		return nil, err
	}

	marked, err := s.store.MarkAllRead(ctx, conversationID, viewerID)
	if err != nil {
		return nil, storeFailure("marking conversation read", err)
	}

	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, storeFailure("listing messages", err)
	}

	other, err := s.resolveOther(ctx, conv, viewerID)
	if err != nil {
		return nil, err
	}

	view := &ConversationView{
		ID:         conv.ID,
		Other:      other,
		Context:    conv.Context,
		CreatedAt:  conv.CreatedAt,
		UpdatedAt:  conv.UpdatedAt,
		MarkedRead: marked,
		Messages:   make([]MessageView, 0, len(msgs)),
	}
	for _, msg := range msgs {
		view.Messages = append(view.Messages, MessageView{
			ID:        msg.ID,
			SenderID:  msg.SenderID,
			Content:   msg.Content,
			IsRead:    msg.IsRead,
			IsMine:    msg.SenderID == viewerID,
			ReadAt:    msg.ReadAt,
			CreatedAt: msg.CreatedAt,
		})
	}
	return view, nil
}

// ListConversations returns the viewer's conversations, most recently
// active first. Listing never changes read state.
func (s *Service) ListConversations(ctx context.Context, viewerID int64) ([]ConversationSummary, error) {
	convs, err := s.store.ListConversationsForParticipant(ctx, viewerID)
	if err != nil {
		return nil, storeFailure("listing conversations", err)
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		other, err := s.resolveOther(ctx, conv, viewerID)
		if err != nil {
			return nil, err
		}

		unread, err := s.store.UnreadCount(ctx, conv.ID, viewerID)
		if err != nil {
			return nil, storeFailure("counting unread messages", err)
		}

		summary := ConversationSummary{
			ID:          conv.ID,
			Other:       other,
			UnreadCount: unread,
			Context:     conv.Context,
			UpdatedAt:   conv.UpdatedAt,
		}

		latest, err := s.store.LatestMessage(ctx, conv.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, storeFailure("loading latest message", err)
		default:
			summary.Preview = s.preview(latest, viewerID, other.DisplayName)
			createdAt := latest.CreatedAt
			summary.LastMessageTime = &createdAt
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// MarkConversationRead marks everything addressed to the viewer as read and
// returns how many messages changed.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, viewerID int64) (int64, error) {
	if _, err := s.authorize(ctx, conversationID, viewerID); err != nil {
		return 0, err
	}

	n, err := s.store.MarkAllRead(ctx, conversationID, viewerID)
	if err != nil {
		return 0, storeFailure("marking conversation read", err)
	}
	if n > 0 {
		s.logger.Debug("conversation marked read", "conversation_id", conversationID, "reader_id", viewerID, "count", n)
	}
	return n, nil
}

// MarkMessageRead marks one message read for its recipient. It reports
// false when the message had already been read.
func (s *Service) MarkMessageRead(ctx context.Context, messageID, viewerID int64) (bool, error) {
	marked, err := s.store.MarkMessageRead(ctx, messageID, viewerID)
	if err != nil {
		return false, mapStoreError("marking message read", err, "message not found")
	}
	return marked, nil
}

// UnreadTotal counts unread messages addressed to the viewer across every
// conversation.
func (s *Service) UnreadTotal(ctx context.Context, viewerID int64) (int64, error) {
	n, err := s.store.TotalUnread(ctx, viewerID)
	if err != nil {
		return 0, storeFailure("counting unread messages", err)
	}
	return n, nil
}

// UpdateContext merges c into the conversation's context on behalf of a
// participant. A participant may only set presentation overrides for their
// own side.
func (s *Service) UpdateContext(ctx context.Context, conversationID, viewerID int64, c store.Context) (*store.Conversation, error) {
	if len(c) == 0 {
		return nil, fmt.Errorf("%w: context is required", ErrValidation)
	}

	conv, err := s.authorize(ctx, conversationID, viewerID)
	if err != nil {
		return nil, err
	}

	scoped, err := scopeContext(c, viewerID, conv.OtherParticipant(viewerID))
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateConversationContext(ctx, conversationID, scoped)
	if err != nil {
		return nil, mapStoreError("updating context", err, "conversation not found")
	}
	return updated, nil
}

// SearchIdentities finds people the viewer could start a conversation with.
func (s *Service) SearchIdentities(ctx context.Context, viewerID int64, query string) ([]*store.Identity, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinSearchQueryLength {
		return nil, fmt.Errorf("%w: search query must be at least %d characters", ErrValidation, MinSearchQueryLength)
	}

	results, err := s.store.SearchIdentities(ctx, query, viewerID, s.searchLimit)
	if err != nil {
		return nil, storeFailure("searching identities", err)
	}
	return results, nil
}

// authorize loads the conversation and checks that viewerID takes part in it.
func (s *Service) authorize(ctx context.Context, conversationID, viewerID int64) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, mapStoreError("loading conversation", err, "conversation not found")
	}
	if !conv.HasParticipant(viewerID) {
		return nil, fmt.Errorf("%w: not a participant in this conversation", ErrNotAuthorized)
	}
	return conv, nil
}

// resolveOther builds the view of the participant who is not viewerID,
// applying any presentation override recorded for their side.
func (s *Service) resolveOther(ctx context.Context, conv *store.Conversation, viewerID int64) (ParticipantView, error) {
	otherID := conv.OtherParticipant(viewerID)
	view := ParticipantView{ID: otherID, DisplayName: unknownDisplayName}

	ident, err := s.store.GetIdentity(ctx, otherID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.logger.Warn("conversation participant has no identity record",
			"conversation_id", conv.ID,
			"identity_id", otherID)
	case err != nil:
		return ParticipantView{}, storeFailure("resolving participant", err)
	default:
		view.DisplayName = ident.DisplayName
		view.Email = ident.Email
		view.Role = ident.Role
		view.IsVerified = ident.IsVerified
		view.AvatarURL = ident.AvatarURL
	}

	applyOverrides(&view, conv)
	return view, nil
}

func (s *Service) preview(latest *store.Message, viewerID int64, otherName string) string {
	text := latest.Content
	if utf8.RuneCountInString(text) > s.previewLength {
		text = string([]rune(text)[:s.previewLength]) + previewEllipsis
	}
	if latest.SenderID != viewerID {
		text = otherName + ": " + text
	}
	return text
}

// storeFailure wraps an unexpected persistence error.
func storeFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// mapStoreError translates a store error into the service taxonomy.
// notFound is the message used when the store reports ErrNotFound.
func mapStoreError(op string, err error, notFound string) error {
	switch {
	case errors.Is(err, store.ErrEmptyContent):
		return fmt.Errorf("%w: message content is required", ErrValidation)
	case errors.Is(err, store.ErrInvalidPair):
		return fmt.Errorf("%w: cannot start a conversation with yourself", ErrValidation)
	case errors.Is(err, store.ErrNotParticipant):
		return fmt.Errorf("%w: not a participant in this conversation", ErrNotAuthorized)
	case errors.Is(err, store.ErrOwnMessage):
		return fmt.Errorf("%w: cannot mark your own message as read", ErrNotAuthorized)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, notFound)
	default:
		return storeFailure(op, err)
	}
}
