// ABOUTME: Well-known conversation context keys and the per-side presentation overrides
// ABOUTME: Lets one participant be shown to the other under a title instead of a personal name

package conversation

import (
	"fmt"
	"strings"

	"github.com/Godpassdev247/talent-horizon/internal/store"
)

// Context keys the service reads or writes. Everything else is stored and
// returned untouched.
const (
	ContextJobTitle    = "job_title"
	ContextCompanyName = "company_name"
	ContextSubject     = "subject"

	// Submitted by the initiator; rewritten into the initiator's side.
	ContextSenderName      = "sender_name"
	ContextSenderTitle     = "sender_title"
	ContextSenderAvatarURL = "sender_avatar_url"
)

const (
	fieldDisplayName = "display_name"
	fieldTitle       = "title"
	fieldAvatarURL   = "avatar_url"
)

var senderFields = map[string]string{
	ContextSenderName:      fieldDisplayName,
	ContextSenderTitle:     fieldTitle,
	ContextSenderAvatarURL: fieldAvatarURL,
}

// side names a participant's slot in the canonical pair.
func side(id, otherID int64) string {
	if id < otherID {
		return "a"
	}
	return "b"
}

func sidePrefix(s string) string {
	return "participant_" + s + "_"
}

// OverrideKey returns the context key holding field for the participant in
// slot s ("a" or "b").
func OverrideKey(s, field string) string {
	return sidePrefix(s) + field
}

// scopeContext rewrites sender_* keys into the actor's own slot and rejects
// overrides aimed at the other participant.
func scopeContext(c store.Context, actorID, otherID int64) (store.Context, error) {
	out := c.Clone()
	own := side(actorID, otherID)
	theirs := side(otherID, actorID)

	for k := range out {
		if strings.HasPrefix(k, sidePrefix(theirs)) {
			return nil, fmt.Errorf("%w: cannot set %q for the other participant", ErrNotAuthorized, k)
		}
	}

	for senderKey, field := range senderFields {
		v, ok := out[senderKey]
		if !ok {
			continue
		}
		delete(out, senderKey)
		if v = strings.TrimSpace(v); v != "" {
			out[OverrideKey(own, field)] = v
		}
	}
	return out, nil
}

// applyOverrides replaces identity details with whatever the context records
// for the participant's slot.
func applyOverrides(view *ParticipantView, conv *store.Conversation) {
	s := "b"
	if view.ID == conv.ParticipantAID {
		s = "a"
	}
	if v := conv.Context[OverrideKey(s, fieldDisplayName)]; v != "" {
		view.DisplayName = v
	}
	if v := conv.Context[OverrideKey(s, fieldTitle)]; v != "" {
		view.Title = v
	}
	if v := conv.Context[OverrideKey(s, fieldAvatarURL)]; v != "" {
		view.AvatarURL = v
	}
}

func deriveSubject(c store.Context, initiatorRole store.Role) string {
	if title := c[ContextJobTitle]; title != "" {
		return "Regarding: " + title
	}
	return "Message from " + roleLabel(initiatorRole)
}

func roleLabel(r store.Role) string {
	switch r {
	case store.RoleJobSeeker:
		return "Job Seeker"
	case store.RoleEmployer:
		return "Employer"
	case store.RoleAdmin:
		return "Admin"
	default:
		return "User"
	}
}
