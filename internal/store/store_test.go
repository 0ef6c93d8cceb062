package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/lai/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "lai.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// tick makes the store clock advance one second per call.
func tick(s *Store) {
	base := time.Unix(1700000000, 0)
	n := 0
	s.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func conv(t *testing.T, s *Store, title string) *model.Conversation {
	t.Helper()
	c, err := s.CreateConversation(context.Background(), model.NewConversation{
		Title: title, Model: "m", Provider: "p",
	})
	require.NoError(t, err)
	return c
}

func msg(t *testing.T, s *Store, convID string, role model.Role, content string) *model.Message {
	t.Helper()
	m, err := s.CreateMessage(context.Background(), model.NewMessage{
		ConversationID: convID, Role: role, Content: content,
	})
	require.NoError(t, err)
	return m
}

func TestLastAssistantMessageEmpty(t *testing.T) {
	s := newTestStore(t)
	m, err := s.LastAssistantMessage(context.Background())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestLastAssistantMessageFollowsMostRecentConversation(t *testing.T) {
	s := newTestStore(t)
	tick(s)

	a := conv(t, s, "a")
	b := conv(t, s, "b")
	msg(t, s, a.ID, model.RoleAssistant, "from a")
	msg(t, s, b.ID, model.RoleAssistant, "from b")
	msg(t, s, b.ID, model.RoleUser, "user in b")

	last, err := s.LastAssistantMessage(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "from b", last.Content)

	// Writing to a makes it the most recent conversation again.
	msg(t, s, a.ID, model.RoleAssistant, "newer a")
	last, err = s.LastAssistantMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "newer a", last.Content)
}

func TestLastAssistantMessageNoAssistantInLatest(t *testing.T) {
	s := newTestStore(t)
	tick(s)

	a := conv(t, s, "a")
	msg(t, s, a.ID, model.RoleAssistant, "old")
	b := conv(t, s, "b")
	msg(t, s, b.ID, model.RoleUser, "question")

	last, err := s.LastAssistantMessage(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestLastAssistantMessageSkipsDeleted(t *testing.T) {
	s := newTestStore(t)
	tick(s)

	a := conv(t, s, "a")
	msg(t, s, a.ID, model.RoleAssistant, "keep")
	b := conv(t, s, "b")
	msg(t, s, b.ID, model.RoleAssistant, "gone")
	require.NoError(t, s.DeleteConversation(context.Background(), b.ID))

	last, err := s.LastAssistantMessage(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "keep", last.Content)
}

func TestCreateMessageUnknownConversation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateMessage(context.Background(), model.NewMessage{
		ConversationID: "missing", Role: model.RoleAssistant, Content: "x",
	})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestCreateMessageInvalidRole(t *testing.T) {
	s := newTestStore(t)
	c := conv(t, s, "a")
	_, err := s.CreateMessage(context.Background(), model.NewMessage{
		ConversationID: c.ID, Role: "tool", Content: "x",
	})
	assert.Error(t, err)
}

func TestCreateMessageTouchesConversation(t *testing.T) {
	s := newTestStore(t)
	tick(s)

	c := conv(t, s, "a")
	m := msg(t, s, c.ID, model.RoleAssistant, "hi")

	got, err := s.GetConversation(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Timestamp, got.UpdatedAt)
	assert.Greater(t, got.UpdatedAt, got.CreatedAt)
}

func TestGetConversationNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetConversation(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestListMessagesOrderAndTokens(t *testing.T) {
	s := newTestStore(t)
	c := conv(t, s, "a")
	tokens := int64(12)

	msg(t, s, c.ID, model.RoleUser, "one")
	_, err := s.CreateMessage(context.Background(), model.NewMessage{
		ConversationID: c.ID, Role: model.RoleAssistant, Content: "two", TokensUsed: &tokens,
	})
	require.NoError(t, err)

	list, err := s.ListMessages(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "one", list[0].Content)
	assert.Nil(t, list[0].TokensUsed)
	assert.Equal(t, "two", list[1].Content)
	require.NotNil(t, list[1].TokensUsed)
	assert.Equal(t, int64(12), *list[1].TokensUsed)
}

func TestSystemPromptRoundTrip(t *testing.T) {
	s := newTestStore(t)
	prompt := "be brief"
	c, err := s.CreateConversation(context.Background(), model.NewConversation{
		Title: "t", Model: "m", Provider: "p", SystemPrompt: &prompt,
	})
	require.NoError(t, err)

	got, err := s.GetConversation(context.Background(), c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SystemPrompt)
	assert.Equal(t, prompt, *got.SystemPrompt)
}
