package llm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/zakki0925224/aident/internal/chat"
	"github.com/zakki0925224/aident/internal/db"
)

// A conversation reloaded from the database after a restart must carry its
// earlier exchanges into the new model session.
func TestRestoredConversationKeepsModelContext(t *testing.T) {
	ctx := context.Background()
	store, err := db.New(filepath.Join(t.TempDir(), "aident.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	before := &scriptedModel{
		replies: []string{"Nice to meet you, Ann"},
		errs:    []error{nil, errors.New("quota exceeded")},
	}
	first := chat.NewManager(NewWithModel(before, "Be brief."), store, time.Hour, nil)
	sess, err := first.Get(ctx, "sid")
	require.NoError(t, err)
	convID := sess.ActiveID()

	require.NoError(t, sess.Submit("My name is Ann"))
	require.NoError(t, sess.Resolve(ctx))
	require.NoError(t, sess.Submit("Remember that"))
	require.NoError(t, sess.Resolve(ctx))

	msgs, err := sess.Messages(convID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	require.True(t, msgs[3].IsFailure())

	// process restart: new manager, new model client, same database
	after := &scriptedModel{replies: []string{"Your name is Ann"}}
	second := chat.NewManager(NewWithModel(after, "Be brief."), store, time.Hour, nil)
	sess, err = second.Get(ctx, "sid")
	require.NoError(t, err)

	convs := sess.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, convID, convs[0].ID)
	require.True(t, sess.SelectConversation(convID))

	require.NoError(t, sess.Submit("What is my name?"))
	require.NoError(t, sess.Resolve(ctx))

	msgs, err = sess.Messages(convID)
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	assert.Equal(t, "Your name is Ann", msgs[5].Content)

	require.Len(t, after.requests, 1)
	req := after.requests[0]
	require.Len(t, req, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, req[0].Role)
	assert.Equal(t, "My name is Ann", textOf(t, req[1]))
	assert.Equal(t, llms.ChatMessageTypeAI, req[2].Role)
	assert.Equal(t, "Nice to meet you, Ann", textOf(t, req[2]))
	assert.Equal(t, llms.ChatMessageTypeHuman, req[3].Role)
	assert.Equal(t, "What is my name?", textOf(t, req[3]))

	// only the conversation that received messages was written
	stored, err := store.LoadSession(ctx, "sid")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, msgs, stored[0].Messages)
}
