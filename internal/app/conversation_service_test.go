package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blogchat/internal/model"
)

func seedChat(t *testing.T, h *harness, ownerID uint) *model.Conversation {
	t.Helper()
	conv := ingest(t, h, ownerID)
	_, err := h.chatSvc.SendTurn(context.Background(), ownerID, conv.ID, "What is Pinecone?", nil)
	require.NoError(t, err)
	return conv
}

func TestDeleteConversation_SyncRemovesEverything(t *testing.T) {
	h := newHarness(t, newFakeChat("a vector database"))
	ctx := context.Background()
	conv := seedChat(t, h, 1)
	other := seedChat(t, h, 1)

	require.NoError(t, h.conversation.DeleteConversation(ctx, 1, conv.ID))

	_, err := h.chatSvc.ListMessages(ctx, 1, conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.Zero(t, h.messages.Count(conv.ID))
	assert.Zero(t, h.index.count(conv.ID))

	list, more, err := h.conversation.ListConversations(ctx, 1, 1)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, list, 1)
	assert.Equal(t, other.ID, list[0].ID)
	assert.Equal(t, 1, h.index.count(other.ID))
	assert.Equal(t, 2, h.messages.Count(other.ID))
}

func TestDeleteConversation_QueuePublishesJob(t *testing.T) {
	pub := &fakePublisher{}
	h := newHarness(t, newFakeChat("ok"), withQueue(pub))
	conv := seedChat(t, h, 1)

	require.NoError(t, h.conversation.DeleteConversation(context.Background(), 1, conv.ID))
	assert.Equal(t, []string{conv.ID}, pub.published)
	assert.Zero(t, h.index.deleteCalls)
	assert.Zero(t, h.conversations.Len())
	assert.Equal(t, 1, h.index.count(conv.ID))
}

func TestDeleteConversation_PublishFailureFallsBackToSync(t *testing.T) {
	pub := &fakePublisher{err: errBoom}
	h := newHarness(t, newFakeChat("ok"), withQueue(pub))
	conv := seedChat(t, h, 1)

	require.NoError(t, h.conversation.DeleteConversation(context.Background(), 1, conv.ID))
	assert.Len(t, pub.published, 1)
	assert.Equal(t, 1, h.index.deleteCalls)
	assert.Zero(t, h.index.count(conv.ID))
}

func TestDeleteConversation_OrphanedVectorsAreAlerted(t *testing.T) {
	h := newHarness(t, newFakeChat("ok"))
	conv := seedChat(t, h, 1)
	h.index.deleteErr = errBoom

	require.NoError(t, h.conversation.DeleteConversation(context.Background(), 1, conv.ID))
	assert.Equal(t, defaultSyncDeleteAttempts, h.index.deleteCalls)
	assert.Zero(t, h.conversations.Len())
	assert.Zero(t, h.messages.Count(conv.ID))

	alerts := h.logs.FilterField(zap.String("alert", "orphaned_vectors")).All()
	require.Len(t, alerts, 1)
	assert.Equal(t, conv.ID, alerts[0].ContextMap()["conversation_id"])
}

func TestListConversations_Pages(t *testing.T) {
	h := newHarness(t, newFakeChat())
	ctx := context.Background()
	for i := 0; i < ConversationPageSize+1; i++ {
		ingest(t, h, 1)
	}
	ingest(t, h, 2)

	first, more, err := h.conversation.ListConversations(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, first, ConversationPageSize)
	assert.True(t, more)

	second, more, err := h.conversation.ListConversations(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, second, 1)
	assert.False(t, more)

	_, _, err = h.conversation.ListConversations(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = h.conversation.ListConversations(ctx, 0, 1)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGetConversation_OwnerScoped(t *testing.T) {
	h := newHarness(t, newFakeChat())
	conv := ingest(t, h, 1)

	got, err := h.conversation.GetConversation(context.Background(), 1, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	_, err = h.conversation.GetConversation(context.Background(), 3, conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestLifecycleStrings(t *testing.T) {
	assert.Equal(t, "compensated", StageCompensated.String())
	assert.Equal(t, "interrupted", PhaseInterrupted.String())
	assert.Equal(t, "unknown", TurnPhase(42).String())
}
