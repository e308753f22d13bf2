// Package conversation provides the messaging rules between two identities.
//
// # Overview
//
// The conversation package sits between the HTTP handlers and the store. It
// owns every business rule: who may post where, what counts as a valid
// message, how read state moves, and how a conversation is presented to each
// of its two participants.
//
// # Service
//
//	svc := conversation.New(store, logger, conversation.WithPreviewLength(50))
//
// Key operations:
//
//   - StartConversation(ctx, initiatorID, req): find or create the pair's
//     conversation, merge context, post the first message
//   - SendMessage(ctx, senderID, conversationID, content)
//   - GetConversationDetail(ctx, conversationID, viewerID): full thread,
//     marks everything addressed to the viewer as read
//   - ListConversations(ctx, viewerID): summaries ordered by recent activity
//   - MarkConversationRead / MarkMessageRead / UnreadTotal
//   - UpdateContext, SearchIdentities
//
// # Reuse and Merge
//
// Starting a conversation with someone you already talk to reuses the
// existing thread. The supplied context is merged into what is stored, so a
// job title recorded by one entry point survives a later start from another.
// A subject is derived on first contact ("Regarding: {job_title}" or
// "Message from {role}") and never replaced by later derivations.
//
// # Presentation Overrides
//
// An initiator may ask to be shown under another name, title or avatar
// (sender_name, sender_title, sender_avatar_url). These are stored under the
// initiator's slot in the canonical pair (participant_a_* or
// participant_b_*) and applied whenever the other side views them. Nobody may
// set overrides for the other participant's slot.
//
// # Errors
//
// Every returned error matches exactly one of ErrValidation,
// ErrNotAuthorized, ErrNotFound or ErrStoreUnavailable. Store failures keep
// their cause in the chain for logging; their message should not be shown to
// clients.
package conversation
