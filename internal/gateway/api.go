// ABOUTME: HTTP API handlers for conversations, messages, read state and identity search.
// ABOUTME: Translates JSON requests into conversation.Service calls and maps its errors to status codes.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Godpassdev247/talent-horizon/internal/auth"
	"github.com/Godpassdev247/talent-horizon/internal/conversation"
	"github.com/Godpassdev247/talent-horizon/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// StartConversationRequest is the JSON request body for POST /api/conversations.
type StartConversationRequest struct {
	RecipientID int64                      `json:"recipient_id"`
	Content     string                     `json:"content"`
	Context     map[string]json.RawMessage `json:"context,omitempty"`
}

// StartConversationResponse is the JSON response for POST /api/conversations.
type StartConversationResponse struct {
	ConversationID int64 `json:"conversation_id"`
	MessageID      int64 `json:"message_id"`
}

// SendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// UpdateContextRequest is the JSON request body for PATCH /api/conversations/{id}/context.
type UpdateContextRequest struct {
	Context map[string]json.RawMessage `json:"context"`
}

// ParticipantResponse describes the other side of a conversation.
type ParticipantResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Title      string `json:"title,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	IsVerified bool   `json:"is_verified"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

// MessageResponse is one message as seen by the caller.
type MessageResponse struct {
	ID             int64   `json:"id"`
	ConversationID int64   `json:"conversation_id,omitempty"`
	SenderID       int64   `json:"sender_id"`
	Content        string  `json:"content"`
	IsRead         bool    `json:"is_read"`
	IsMine         bool    `json:"is_mine"`
	ReadAt         *string `json:"read_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// ConversationSummaryResponse is one entry of GET /api/conversations.
type ConversationSummaryResponse struct {
	ID                 int64               `json:"id"`
	OtherParticipant   ParticipantResponse `json:"other_participant"`
	LastMessagePreview string              `json:"last_message_preview"`
	LastMessageTime    *string             `json:"last_message_time"`
	UnreadCount        int64               `json:"unread_count"`
	Context            store.Context       `json:"context"`
	UpdatedAt          string              `json:"updated_at"`
}

// ListConversationsResponse is the JSON response for GET /api/conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummaryResponse `json:"conversations"`
}

// ConversationResponse is a conversation header.
type ConversationResponse struct {
	ID               int64                `json:"id"`
	OtherParticipant *ParticipantResponse `json:"other_participant,omitempty"`
	Context          store.Context        `json:"context"`
	CreatedAt        string               `json:"created_at"`
	UpdatedAt        string               `json:"updated_at"`
}

// ConversationDetailResponse is the JSON response for GET /api/conversations/{id}.
type ConversationDetailResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Messages     []MessageResponse    `json:"messages"`
}

// SendMessageResponse is the JSON response for POST /api/conversations/{id}/messages.
type SendMessageResponse struct {
	Message MessageResponse `json:"message"`
}

// MarkReadResponse is the JSON response for POST /api/conversations/{id}/read.
type MarkReadResponse struct {
	MarkedCount int64 `json:"marked_count"`
}

// MarkMessageReadResponse is the JSON response for POST /api/messages/{id}/read.
type MarkMessageReadResponse struct {
	Marked bool `json:"marked"`
}

// UpdateContextResponse is the JSON response for PATCH /api/conversations/{id}/context.
type UpdateContextResponse struct {
	Conversation ConversationResponse `json:"conversation"`
}

// UnreadResponse is the JSON response for GET /api/unread.
type UnreadResponse struct {
	UnreadCount int64 `json:"unread_count"`
}

// IdentityResponse is one identity search hit.
type IdentityResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// SearchIdentitiesResponse is the JSON response for GET /api/identities/search.
type SearchIdentitiesResponse struct {
	Identities []IdentityResponse `json:"identities"`
}

// registerAPIRoutes mounts the messaging API behind authMiddleware. POST
// routes additionally honor Idempotency-Key.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	idempotent := idempotencyMiddleware(g.idempotency, g.logger)

	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(h)
	}
	protectPost := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(idempotent(h))
	}

	mux.Handle("POST /api/conversations", protectPost(g.handleStartConversation))
	mux.Handle("GET /api/conversations", protect(g.handleListConversations))
	mux.Handle("GET /api/conversations/{id}", protect(g.handleConversationDetail))
	mux.Handle("POST /api/conversations/{id}/messages", protectPost(g.handleSendMessage))
	mux.Handle("POST /api/conversations/{id}/read", protectPost(g.handleMarkConversationRead))
	mux.Handle("PATCH /api/conversations/{id}/context", protect(g.handleUpdateContext))
	mux.Handle("POST /api/messages/{id}/read", protectPost(g.handleMarkMessageRead))
	mux.Handle("GET /api/unread", protect(g.handleUnreadTotal))
	mux.Handle("GET /api/identities/search", protect(g.handleSearchIdentities))
}

// handleStartConversation handles POST /api/conversations.
func (g *Gateway) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req StartConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	convCtx, err := contextFromJSON(req.Context)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, msg, err := g.conversation.StartConversation(r.Context(), caller.IdentityID, conversation.StartRequest{
		RecipientID: req.RecipientID,
		Content:     req.Content,
		Context:     convCtx,
	})
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, StartConversationResponse{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
	})
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	summaries, err := g.conversation.ListConversations(r.Context(), caller.IdentityID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	response := ListConversationsResponse{
		Conversations: make([]ConversationSummaryResponse, len(summaries)),
	}
	for i, s := range summaries {
		response.Conversations[i] = ConversationSummaryResponse{
			ID:                 s.ID,
			OtherParticipant:   participantResponse(s.Other),
			LastMessagePreview: s.Preview,
			LastMessageTime:    formatOptionalTime(s.LastMessageTime),
			UnreadCount:        s.UnreadCount,
			Context:            nonNilContext(s.Context),
			UpdatedAt:          formatTime(s.UpdatedAt),
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleConversationDetail handles GET /api/conversations/{id}.
// Viewing a conversation marks the caller's incoming messages read.
func (g *Gateway) handleConversationDetail(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	convID, ok := pathID(w, r, "conversation")
	if !ok {
		return
	}

	view, err := g.conversation.GetConversationDetail(r.Context(), convID, caller.IdentityID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	other := participantResponse(view.Other)
	response := ConversationDetailResponse{
		Conversation: ConversationResponse{
			ID:               view.ID,
			OtherParticipant: &other,
			Context:          nonNilContext(view.Context),
			CreatedAt:        formatTime(view.CreatedAt),
			UpdatedAt:        formatTime(view.UpdatedAt),
		},
		Messages: make([]MessageResponse, len(view.Messages)),
	}
	for i, m := range view.Messages {
		response.Messages[i] = MessageResponse{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			IsRead:    m.IsRead,
			IsMine:    m.IsMine,
			ReadAt:    formatOptionalTime(m.ReadAt),
			CreatedAt: formatTime(m.CreatedAt),
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleSendMessage handles POST /api/conversations/{id}/messages.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	convID, ok := pathID(w, r, "conversation")
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := g.conversation.SendMessage(r.Context(), caller.IdentityID, convID, req.Content)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, SendMessageResponse{
		Message: MessageResponse{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			Content:        msg.Content,
			IsRead:         msg.IsRead,
			IsMine:         true,
			CreatedAt:      formatTime(msg.CreatedAt),
		},
	})
}

// handleMarkConversationRead handles POST /api/conversations/{id}/read.
func (g *Gateway) handleMarkConversationRead(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	convID, ok := pathID(w, r, "conversation")
	if !ok {
		return
	}

	n, err := g.conversation.MarkConversationRead(r.Context(), convID, caller.IdentityID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MarkReadResponse{MarkedCount: n})
}

// handleUpdateContext handles PATCH /api/conversations/{id}/context.
func (g *Gateway) handleUpdateContext(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	convID, ok := pathID(w, r, "conversation")
	if !ok {
		return
	}

	var req UpdateContextRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	convCtx, err := contextFromJSON(req.Context)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := g.conversation.UpdateContext(r.Context(), convID, caller.IdentityID, convCtx)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UpdateContextResponse{
		Conversation: ConversationResponse{
			ID:        conv.ID,
			Context:   nonNilContext(conv.Context),
			CreatedAt: formatTime(conv.CreatedAt),
			UpdatedAt: formatTime(conv.UpdatedAt),
		},
	})
}

// handleMarkMessageRead handles POST /api/messages/{id}/read.
func (g *Gateway) handleMarkMessageRead(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	msgID, ok := pathID(w, r, "message")
	if !ok {
		return
	}

	marked, err := g.conversation.MarkMessageRead(r.Context(), msgID, caller.IdentityID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MarkMessageReadResponse{Marked: marked})
}

// handleUnreadTotal handles GET /api/unread.
func (g *Gateway) handleUnreadTotal(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	n, err := g.conversation.UnreadTotal(r.Context(), caller.IdentityID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UnreadResponse{UnreadCount: n})
}

// handleSearchIdentities handles GET /api/identities/search?q=.
func (g *Gateway) handleSearchIdentities(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	results, err := g.conversation.SearchIdentities(r.Context(), caller.IdentityID, r.URL.Query().Get("q"))
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	response := SearchIdentitiesResponse{
		Identities: make([]IdentityResponse, len(results)),
	}
	for i, ident := range results {
		response.Identities[i] = IdentityResponse{
			ID:    ident.ID,
			Name:  ident.DisplayName,
			Email: ident.Email,
			Role:  string(ident.Role),
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// writeServiceError maps a conversation.Service error to a status code.
// Store and unexpected failures are logged and reported as "internal error".
func (g *Gateway) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kinds := []struct {
		kind   error
		status int
	}{
		{conversation.ErrValidation, http.StatusBadRequest},
		{conversation.ErrNotAuthorized, http.StatusForbidden},
		{conversation.ErrNotFound, http.StatusNotFound},
	}
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			sendJSONError(w, k.status, clientMessage(err, k.kind))
			return
		}
	}

	logger := requestLogger(r.Context(), g.logger)
	if errors.Is(err, conversation.ErrStoreUnavailable) {
		logger.Error("store unavailable", "method", r.Method, "path", r.URL.Path, "error", err)
		sendJSONError(w, http.StatusServiceUnavailable, "internal error")
		return
	}
	logger.Error("unexpected service error", "method", r.Method, "path", r.URL.Path, "error", err)
	sendJSONError(w, http.StatusInternalServerError, "internal error")
}

// clientMessage strips the error kind prefix so only the detail is shown.
func clientMessage(err, kind error) string {
	msg := strings.TrimPrefix(err.Error(), kind.Error()+": ")
	if msg == "" {
		return kind.Error()
	}
	return msg
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// pathID parses the {id} path segment. It writes a 400 and returns false
// when the segment is not a positive integer.
func pathID(w http.ResponseWriter, r *http.Request, what string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s id", what))
		return 0, false
	}
	return id, true
}

// contextFromJSON flattens a JSON object into string values. Strings, numbers
// and booleans are accepted; nulls are dropped; nested values are rejected.
func contextFromJSON(raw map[string]json.RawMessage) (store.Context, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(store.Context, len(raw))
	for k, v := range raw {
		trimmed := strings.TrimSpace(string(v))
		switch {
		case trimmed == "null":
			continue
		case strings.HasPrefix(trimmed, `"`):
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("context.%s: invalid string", k)
			}
			out[k] = s
		case trimmed == "true" || trimmed == "false":
			out[k] = trimmed
		case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
			return nil, fmt.Errorf("context.%s: nested values are not supported", k)
		default:
			var n json.Number
			if err := json.Unmarshal(v, &n); err != nil {
				return nil, fmt.Errorf("context.%s: unsupported value", k)
			}
			out[k] = n.String()
		}
	}
	return out, nil
}

func participantResponse(p conversation.ParticipantView) ParticipantResponse {
	return ParticipantResponse{
		ID:         p.ID,
		Name:       p.DisplayName,
		Title:      p.Title,
		Email:      p.Email,
		Role:       string(p.Role),
		IsVerified: p.IsVerified,
		AvatarURL:  p.AvatarURL,
	}
}

func nonNilContext(c store.Context) store.Context {
	if c == nil {
		return store.Context{}
	}
	return c
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
