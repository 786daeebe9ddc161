package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogchat/internal/vectorindex"
)

func record(conversationID string, idx int, vec ...float32) vectorindex.Record {
	return vectorindex.Record{
		ID:     vectorindex.RecordID(conversationID, idx),
		Vector: vec,
		Text:   fmt.Sprintf("%s chunk %d", conversationID, idx),
		Metadata: map[string]string{
			vectorindex.MetaConversationID: conversationID,
		},
	}
}

func TestIndex_QueryRequiresFilter(t *testing.T) {
	idx := New(2)
	_, err := idx.Query(context.Background(), []float32{1, 0}, 4, vectorindex.Filter{})
	assert.ErrorIs(t, err, vectorindex.ErrFilterRequired)

	err = idx.DeleteByFilter(context.Background(), vectorindex.Filter{})
	assert.ErrorIs(t, err, vectorindex.ErrFilterRequired)
}

func TestIndex_NamespaceIsolation(t *testing.T) {
	idx := New(2)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{
		record("a", 0, 1, 0),
		record("a", 1, 0.9, 0.1),
		record("b", 0, 1, 0),
		record("b", 1, 1, 0.01),
	}))

	for _, ns := range []string{"a", "b"} {
		matches, err := idx.Query(ctx, []float32{1, 0}, 10, vectorindex.Filter{ConversationID: ns})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		for _, m := range matches {
			assert.Equal(t, ns, m.Metadata[vectorindex.MetaConversationID])
		}
	}
}

func TestIndex_QueryRanksBySimilarity(t *testing.T) {
	idx := New(2)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{
		record("a", 0, 0, 1),
		record("a", 1, 1, 0),
		record("a", 2, 0.7, 0.7),
	}))

	matches, err := idx.Query(ctx, []float32{1, 0}, 2, vectorindex.Filter{ConversationID: "a"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a chunk 1", matches[0].Text)
	assert.Equal(t, "a chunk 2", matches[1].Text)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestIndex_UpsertIsIdempotent(t *testing.T) {
	idx := New(2)
	ctx := context.Background()
	r := record("a", 0, 1, 0)
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{r}))
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{r}))
	assert.Equal(t, 1, idx.Len())
}

func TestIndex_UpsertRejectsDimensionMismatch(t *testing.T) {
	idx := New(2)
	err := idx.Upsert(context.Background(), []vectorindex.Record{record("a", 0, 1, 0, 0)})
	assert.ErrorIs(t, err, vectorindex.ErrDimensionMismatch)
	assert.Equal(t, 0, idx.Len())
}

func TestIndex_DeleteByFilter(t *testing.T) {
	idx := New(2)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Record{
		record("a", 0, 1, 0),
		record("b", 0, 1, 0),
	}))

	require.NoError(t, idx.DeleteByFilter(ctx, vectorindex.Filter{ConversationID: "a"}))
	matches, err := idx.Query(ctx, []float32{1, 0}, 10, vectorindex.Filter{ConversationID: "a"})
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, 1, idx.Len())

	// Deleting an unknown namespace is a no-op.
	assert.NoError(t, idx.DeleteByFilter(ctx, vectorindex.Filter{ConversationID: "missing"}))
}
