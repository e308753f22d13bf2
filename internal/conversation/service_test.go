// ABOUTME: Tests for the conversation Service
// ABOUTME: Runs against a real SQLite store, with MockStore for persistence failures

package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Godpassdev247/talent-horizon/internal/store"
)

const (
	u1 int64 = 5 // employer, initiates in most scenarios
	u2 int64 = 3 // job seeker
	u3 int64 = 8 // outsider
)

func createTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	seedIdentities(t, s)
	return s
}

func seedIdentities(t *testing.T, s store.IdentityStore) {
	t.Helper()
	ctx := context.Background()
	for _, ident := range []*store.Identity{
		{ID: u1, DisplayName: "Jordan Lee", Email: "jordan@acme.io", Role: store.RoleEmployer, IsVerified: true},
		{ID: u2, DisplayName: "Sam Rivera", Email: "sam@example.com", Role: store.RoleJobSeeker},
		{ID: u3, DisplayName: "Morgan Park", Email: "morgan@example.com", Role: store.RoleJobSeeker},
	} {
		require.NoError(t, s.UpsertIdentity(ctx, ident))
	}
}

func newTestService(t *testing.T) (*Service, *store.SQLStore) {
	t.Helper()
	st := createTestStore(t)
	return New(st, nil), st
}

func countConversations(t *testing.T, st *store.SQLStore) int {
	t.Helper()
	var n int
	require.NoError(t, st.DB().QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n))
	return n
}

func countMessages(t *testing.T, st *store.SQLStore) int {
	t.Helper()
	var n int
	require.NoError(t, st.DB().QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n))
	return n
}

func TestService_StartConversation_Scenario(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	conv, msg, err := svc.StartConversation(ctx, u1, StartRequest{
		RecipientID: u2,
		Content:     "Hello, are you available?",
		Context:     store.Context{ContextJobTitle: "Backend Engineer"},
	})
	require.NoError(t, err)

	assert.Equal(t, u2, conv.ParticipantAID)
	assert.Equal(t, u1, conv.ParticipantBID)
	assert.Equal(t, u1, msg.SenderID)
	assert.False(t, msg.IsRead)
	assert.Equal(t, 1, countConversations(t, st))

	view, err := svc.GetConversationDetail(ctx, conv.ID, u2)
	require.NoError(t, err)
	assert.Equal(t, u1, view.Other.ID)
	assert.Equal(t, "Jordan Lee", view.Other.DisplayName)
	assert.Equal(t, int64(1), view.MarkedRead)
	require.Len(t, view.Messages, 1)
	assert.True(t, view.Messages[0].IsRead)
	assert.False(t, view.Messages[0].IsMine)
	assert.Equal(t, "Hello, are you available?", view.Messages[0].Content)

	summaries, err := svc.ListConversations(ctx, u1)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Hello, are you available?", summaries[0].Preview)
}

func TestService_StartConversation_ReusesAndMergesContext(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	first, _, err := svc.StartConversation(ctx, u1, StartRequest{
		RecipientID: u2,
		Content:     "Hello, are you available?",
		Context:     store.Context{ContextJobTitle: "Backend Engineer"},
	})
	require.NoError(t, err)

	second, _, err := svc.StartConversation(ctx, u1, StartRequest{
		RecipientID: u2,
		Content:     "Following up",
		Context:     store.Context{ContextCompanyName: "Acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Backend Engineer", second.Context[ContextJobTitle])
	assert.Equal(t, "Acme", second.Context[ContextCompanyName])

	third, _, err := svc.StartConversation(ctx, u2, StartRequest{RecipientID: u1, Content: "Yes I am"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)

	assert.Equal(t, 1, countConversations(t, st))
}

func TestService_StartConversation_DerivesSubjectOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.StartConversation(ctx, u1, StartRequest{
		RecipientID: u2,
		Content:     "hi",
		Context:     store.Context{ContextJobTitle: "Backend Engineer"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Regarding: Backend Engineer", conv.Context[ContextSubject])

	conv, _, err = svc.StartConversation(ctx, u2, StartRequest{RecipientID: u1, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Regarding: Backend Engineer", conv.Context[ContextSubject])

	other, _, err := svc.StartConversation(ctx, u3, StartRequest{RecipientID: u1, Content: "hey"})
	require.NoError(t, err)
	assert.Equal(t, "Message from Job Seeker", other.Context[ContextSubject])
}

func TestService_StartConversation_ConcurrentConverges(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	const n = 10
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := u1, u2
			if i%2 == 1 {
				from, to = u2, u1
			}
			conv, _, err := svc.StartConversation(ctx, from, StartRequest{RecipientID: to, Content: fmt.Sprintf("hi %d", i)})
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, countConversations(t, st))
	assert.Equal(t, n, countMessages(t, st))
}

func TestService_StartConversation_Validation(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		initiator int64
		req       StartRequest
		wantErr   error
	}{
		{"missing recipient", u1, StartRequest{Content: "hi"}, ErrValidation},
		{"empty content", u1, StartRequest{RecipientID: u2, Content: ""}, ErrValidation},
		{"blank content", u1, StartRequest{RecipientID: u2, Content: "   "}, ErrValidation},
		{"self", u1, StartRequest{RecipientID: u1, Content: "hi"}, ErrValidation},
		{"unknown recipient", u1, StartRequest{RecipientID: 999, Content: "hi"}, ErrNotFound},
		{"unknown initiator", 999, StartRequest{RecipientID: u2, Content: "hi"}, ErrNotAuthorized},
		{"override for other side", u1, StartRequest{
			RecipientID: u2,
			Content:     "hi",
			Context:     store.Context{OverrideKey("a", "display_name"): "Not You"},
		}, ErrNotAuthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.StartConversation(ctx, tt.initiator, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, 0, countConversations(t, st))
	assert.Equal(t, 0, countMessages(t, st))
}

func TestService_SendMessage(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.StartConversation(ctx, u1, StartRequest{RecipientID: u2, Content: "hi"})
	require.NoError(t, err)

	content := "  exact\tbytes é\n"
	msg, err := svc.SendMessage(ctx, u2, conv.ID, content)
	require.NoError(t, err)
	assert.Equal(t, content, msg.Content)

	_, err = svc.SendMessage(ctx, u3, conv.ID, "intruding")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = svc.SendMessage(ctx, u2, conv.ID, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.SendMessage(ctx, u2, conv.ID, "   ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.SendMessage(ctx, u2, conv.ID+100, "lost")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 2, countMessages(t, st))

	msgs, err := st.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, content, msgs[1].Content)
}

func TestService_GetConversationDetail_Authorization(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.StartConversation(ctx, u1, StartRequest{RecipientID: u2, Content: "hi"})
	require.NoError(t, err)

	_, err = svc.GetConversationDetail(ctx, conv.ID, u3)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = svc.GetConversationDetail(ctx, conv.ID+1, u1)
	assert.ErrorIs(t, err, ErrNotFound)

	// The outsider's attempt must not have consumed u2's unread state.
	summaries, err := svc.ListConversations(ctx, u2)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(1), summaries[0].UnreadCount)
}

func TestService_GetConversationDetail_IsMineAndOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.StartConversation(ctx, u1, StartRequest{RecipientID: u2, Content: "one"})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, u2, conv.ID, "two")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, u1, conv.ID, "three")
	require.NoError(t, err)

	view, err := svc.GetConversationDetail(ctx, conv.ID, u1)
	require.NoError(t, err)
	require.Len(t, view.Messages, 3)

	var contents []string
	var mine []bool
	for _, m := range view.Messages {
		contents = append(contents, m.Content)
		mine = append(mine, m.IsMine)
	}
	assert.Equal(t, []string{"one", "two", "three"}, contents)
	assert.Equal(t, []bool{true, false, true}, mine)
	assert.Equal(t, int64(1), view.MarkedRead)
}

func TestService_DisplayOverride(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.StartConversation(ctx, u1, StartRequest{
		RecipientID: u2,
		Content:     "We'd like to interview you",
		Context: store.Context{
			ContextSenderName:  "Hiring Manager",
			ContextSenderTitle: "Acme Talent Team",
		},
	})
	require.NoError(t, err)
	assert.NotContains(t, conv.Context, ContextSenderName)
	assert.Equal(t, "Hiring Manager", conv.Context[OverrideKey("b", "display_name")])

	// u2 sees the initiator under the override.
	view, err := svc.GetConversationDetail(ctx, conv.ID, u2)
	require.NoError(t, err)
	assert.Equal(t, "Hiring Manager", view.Other.DisplayName)
	assert.Equal(t, "Acme Talent Team", view.Other.Title)
	assert.Equal(t, "jordan@acme.io", view.Other.Email)

	// u1 still sees u2's own name.
	view, err = svc.GetConversationDetail(ctx, conv.ID, u1)
	require.NoError(t, err)
	assert.Equal(t, "Sam Rivera", view.Other.DisplayName)
	assert.Empty(t, view.Other.Title)

	summaries, err := svc.ListConversations(ctx, u2)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Hiring Manager", summaries[0].Other.DisplayName)
	assert.Equal(t, "Hiring Manager: We'd like to interview you", summaries[0].Preview)
}

func TestService_ListConversations_PreviewTruncation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.StartConversation(ctx, u1, StartRequest{RecipientID: u2, Content: "first"})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, u2, conv.ID, "second")
	require.NoError(t, err)

	long := strings.Repeat("abcdefghij", 8)
	require.Len(t, long, 80)
	_, err = svc.SendMessage(ctx, u1, conv.ID, long)
	require.NoError(t, err)

	summaries, err := svc.ListConversations(ctx, u2)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	prefix := "Jordan Lee: "
	require.True(t, strings.HasPrefix(summaries[0].Preview, prefix), "preview %q", summaries[0].Preview)
	body := strings.TrimPrefix(summaries[0].Preview, prefix)
	assert.LessOrEqual(t, len(body), 53)
	assert.Equal(t, long[:50]+"...", body)
	assert.Equal(t, int64(2), summaries[0].UnreadCount)
	require.NotNil(t, summaries[0].LastMessageTime)

	// The sender sees their own message without a prefix.
	summaries, err = svc.ListConversations(ctx, u1)
	require.NoError(t, err)
	assert.Equal(t, long[:50]+"...", summaries[0].Preview)
	assert.Equal(t, int64(1), summaries[0].UnreadCount)
}

func TestService_ListConversations_PreviewCountsRunes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	content := strings.Repeat("é", 60)
	_, _, err := svc.StartConversation(ctx, u2, StartRequest{RecipientID: u1, Content: content})
	require.NoError(t, err)

	summaries, err := svc.ListConversations(ctx, u2)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, strings.Repeat("é", 50)+"...", summaries[0].Preview)
}

func TestService_ListConversations_OrderedByActivity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	withU2, _, err := svc.StartConversation(ctx, u1, StartRequest{RecipientID: u2, Content: "to u2"})
	require.NoError(t, err)
	withU3, _, err := svc.StartConversation(ctx, u1, StartRequest{RecipientID: u3, Content: "to u3"})
	require.NoError(t, err)

	summaries, err := svc.ListConversations(ctx, u1)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, withU3.ID, summaries[0].ID)

	_, err = svc.SendMessage(ctx, u2, withU2.ID, "bump")
	require.NoError(t, err)

	summaries, err = svc.ListConversations(ctx, u1)
	require.NoError(t, err)
	assert.Equal(t, withU2.ID, summaries[0].ID)
	assert.Equal(t, withU3.ID, summaries[1].ID)

	empty, err := svc.ListConversations(ctx, 12345)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)
}

func TestService_ListConversations_UnknownParticipantFallsBack(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	// The other side has no identity row; listing must still work.
	_, err := st.FindOrCreateConversation(ctx, u1, 777, nil)
	require.NoError(t, err)

	summaries, err := svc.ListConversations(ctx, u1)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "User", summaries[0].Other.DisplayName)
	assert.Equal(t, int64(777), summaries[0].Other.ID)
	assert.Empty(t, summaries[0].Preview)
	assert.Nil(t, summaries[0].LastMessageTime)
}

func TestService_MarkConversationRead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.StartConversation(ctx, u1, StartRequest{RecipientID: u2, Content: "a"})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, u1, conv.ID, "b")
	require.NoError(t, err)

	n, err := svc.MarkConversationRead(ctx, conv.ID, u2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = svc.MarkConversationRead(ctx, conv.ID, u2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	total, err := svc.UnreadTotal(ctx, u2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	_, err = svc.MarkConversationRead(ctx, conv.ID, u3)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestService_MarkMessageRead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, msg, err := svc.StartConversation(ctx, u1, StartRequest{RecipientID: u2, Content: "a"})
	require.NoError(t, err)

	_, err = svc.MarkMessageRead(ctx, msg.ID, u1)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = svc.MarkMessageRead(ctx, msg.ID, u3)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = svc.MarkMessageRead(ctx, msg.ID+50, u2)
	assert.ErrorIs(t, err, ErrNotFound)

	marked, err := svc.MarkMessageRead(ctx, msg.ID, u2)
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = svc.MarkMessageRead(ctx, msg.ID, u2)
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestService_UpdateContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.StartConversation(ctx, u1, StartRequest{
		RecipientID: u2,
		Content:     "a",
		Context:     store.Context{ContextJobTitle: "SRE"},
	})
	require.NoError(t, err)

	updated, err := svc.UpdateContext(ctx, conv.ID, u2, store.Context{"application_id": "42", ContextSenderTitle: "Candidate"})
	require.NoError(t, err)
	assert.Equal(t, "SRE", updated.Context[ContextJobTitle])
	assert.Equal(t, "42", updated.Context["application_id"])
	assert.Equal(t, "Candidate", updated.Context[OverrideKey("a", "title")])

	_, err = svc.UpdateContext(ctx, conv.ID, u2, store.Context{OverrideKey("b", "display_name"): "Imposter"})
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = svc.UpdateContext(ctx, conv.ID, u3, store.Context{"k": "v"})
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = svc.UpdateContext(ctx, conv.ID, u2, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_SearchIdentities(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SearchIdentities(ctx, u1, " s ")
	assert.ErrorIs(t, err, ErrValidation)

	results, err := svc.SearchIdentities(ctx, u2, "example.com")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, u3, results[0].ID)

	results, err = svc.SearchIdentities(ctx, u1, "zz")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestService_SearchIdentities_Limit(t *testing.T) {
	st := store.NewMockStore()
	ctx := context.Background()
	for i := int64(100); i < 120; i++ {
		require.NoError(t, st.UpsertIdentity(ctx, &store.Identity{
			ID: i, DisplayName: fmt.Sprintf("Candidate %d", i), Email: fmt.Sprintf("c%d@example.com", i), Role: store.RoleJobSeeker,
		}))
	}

	results, err := New(st, nil).SearchIdentities(ctx, 1, "candidate")
	require.NoError(t, err)
	assert.Len(t, results, DefaultSearchLimit)

	results, err = New(st, nil, WithSearchLimit(3)).SearchIdentities(ctx, 1, "candidate")
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestService_WithPreviewLength(t *testing.T) {
	st := store.NewMockStore()
	seedIdentities(t, st)
	svc := New(st, nil, WithPreviewLength(5))
	ctx := context.Background()

	_, _, err := svc.StartConversation(ctx, u1, StartRequest{RecipientID: u2, Content: "Hello there"})
	require.NoError(t, err)

	summaries, err := svc.ListConversations(ctx, u2)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Jordan Lee: Hello...", summaries[0].Preview)
}

func TestService_StoreUnavailable(t *testing.T) {
	st := store.NewMockStore()
	seedIdentities(t, st)
	svc := New(st, nil)
	ctx := context.Background()

	conv, _, err := svc.StartConversation(ctx, u1, StartRequest{RecipientID: u2, Content: "hi"})
	require.NoError(t, err)

	dbErr := errors.New("database is locked")
	st.SetErr(dbErr)

	calls := map[string]func() error{
		"start": func() error {
			_, _, err := svc.StartConversation(ctx, u1, StartRequest{RecipientID: u2, Content: "hi"})
			return err
		},
		"send": func() error {
			_, err := svc.SendMessage(ctx, u1, conv.ID, "hi")
			return err
		},
		"detail": func() error {
			_, err := svc.GetConversationDetail(ctx, conv.ID, u1)
			return err
		},
		"list": func() error {
			_, err := svc.ListConversations(ctx, u1)
			return err
		},
		"mark read": func() error {
			_, err := svc.MarkConversationRead(ctx, conv.ID, u1)
			return err
		},
		"unread": func() error {
			_, err := svc.UnreadTotal(ctx, u1)
			return err
		},
		"search": func() error {
			_, err := svc.SearchIdentities(ctx, u1, "sam")
			return err
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			assert.ErrorIs(t, err, ErrStoreUnavailable)
			assert.ErrorIs(t, err, dbErr)
			assert.NotErrorIs(t, err, ErrNotFound)
		})
	}
}
