// Package vectorindex defines the vector index contract shared by the
// ingestion, retrieval and deletion pipelines. Every read and delete is
// scoped to one conversation namespace through a mandatory Filter.
package vectorindex

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
)

const (
	MetaConversationID = "conversation_id"
	MetaChunkIndex     = "chunk_index"
)

var (
	// ErrFilterRequired is returned for queries or deletes without a namespace.
	ErrFilterRequired = errors.New("vector index filter requires a conversation id")

	// ErrUnavailable marks network or service failures. Callers may retry.
	ErrUnavailable = errors.New("vector index unavailable")

	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Record is one indexed chunk.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]string
}

// Match is a query hit ranked by similarity.
type Match struct {
	Record
	Score float32
}

// Filter selects a namespace. The zero value is rejected.
type Filter struct {
	ConversationID string
}

func (f Filter) Validate() error {
	if f.ConversationID == "" {
		return ErrFilterRequired
	}
	return nil
}

// Matches reports whether metadata satisfies the filter exactly.
func (f Filter) Matches(metadata map[string]string) bool {
	return f.ConversationID != "" && metadata[MetaConversationID] == f.ConversationID
}

type Index interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	DeleteByFilter(ctx context.Context, filter Filter) error
}

// RecordID derives a stable point id for a chunk so repeated upserts of the
// same chunk overwrite instead of duplicating.
func RecordID(conversationID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(conversationID+":"+strconv.Itoa(chunkIndex))).String()
}

// IsRetryable reports whether err is a transient index failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
