package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"blogchat/internal/ai"
	"blogchat/internal/chunker"
	"blogchat/internal/model"
	"blogchat/internal/store/memory"
	"blogchat/internal/vectorindex"
	memoryindex "blogchat/internal/vectorindex/memory"
)

var errBoom = errors.New("boom")

type fakeEmbedder struct {
	mu      sync.Mutex
	err     error
	queries []string
	batches int
}

func fakeVector(text string) []float32 {
	return []float32{float32(len(text)%5 + 1), 1, 0.5}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	if f.err != nil {
		return nil, f.err
	}
	return fakeVector(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = fakeVector(t)
	}
	return out, nil
}

// fakeChat scripts the rewrite completion and the streamed answer.
type fakeChat struct {
	mu sync.Mutex

	rewrite    string
	rewriteErr error

	fragments []string
	// streamErrAt fails the stream before emitting fragment n; -1 disables.
	streamErrAt int

	completeCalls [][]ai.ChatMessage
	streamCalls   [][]ai.ChatMessage
}

func newFakeChat(fragments ...string) *fakeChat {
	return &fakeChat{rewrite: "pinecone vector database", fragments: fragments, streamErrAt: -1}
}

func (f *fakeChat) Complete(_ context.Context, messages []ai.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls = append(f.completeCalls, messages)
	if f.rewriteErr != nil {
		return "", f.rewriteErr
	}
	return f.rewrite, nil
}

func (f *fakeChat) StreamComplete(_ context.Context, messages []ai.ChatMessage, onChunk func(string) error) (string, error) {
	f.mu.Lock()
	f.streamCalls = append(f.streamCalls, messages)
	f.mu.Unlock()

	full := ""
	for i, frag := range f.fragments {
		if i == f.streamErrAt {
			return full, fmt.Errorf("%w: upstream reset", ai.ErrStreamInterrupted)
		}
		full += frag
		if err := onChunk(frag); err != nil {
			return full, fmt.Errorf("%w: %v", ai.ErrStreamInterrupted, err)
		}
	}
	if f.streamErrAt >= len(f.fragments) {
		return full, fmt.Errorf("%w: upstream reset", ai.ErrStreamInterrupted)
	}
	return full, nil
}

func (f *fakeChat) lastStream() []ai.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streamCalls) == 0 {
		return nil
	}
	return f.streamCalls[len(f.streamCalls)-1]
}

// faultyIndex wraps the memory index with injectable failures and call counts.
type faultyIndex struct {
	inner *memoryindex.Index

	mu           sync.Mutex
	upsertCalls  int
	failUpsertAt int // 1-based call number from which upserts fail; 0 disables
	queryErr     error
	deleteErr    error
	queryCalls   int
	deleteCalls  int
	deletedIDs   []string
}

func newFaultyIndex() *faultyIndex {
	return &faultyIndex{inner: memoryindex.New(3)}
}

func (f *faultyIndex) Upsert(ctx context.Context, records []vectorindex.Record) error {
	f.mu.Lock()
	f.upsertCalls++
	fail := f.failUpsertAt != 0 && f.upsertCalls >= f.failUpsertAt
	f.mu.Unlock()
	if fail {
		return errBoom
	}
	return f.inner.Upsert(ctx, records)
}

func (f *faultyIndex) Query(ctx context.Context, vector []float32, topK int, filter vectorindex.Filter) ([]vectorindex.Match, error) {
	f.mu.Lock()
	f.queryCalls++
	err := f.queryErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.inner.Query(ctx, vector, topK, filter)
}

func (f *faultyIndex) DeleteByFilter(ctx context.Context, filter vectorindex.Filter) error {
	f.mu.Lock()
	f.deleteCalls++
	f.deletedIDs = append(f.deletedIDs, filter.ConversationID)
	err := f.deleteErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.inner.DeleteByFilter(ctx, filter)
}

func (f *faultyIndex) count(conversationID string) int {
	matches, err := f.inner.Query(context.Background(), []float32{1, 1, 1}, 1000, vectorindex.Filter{ConversationID: conversationID})
	if err != nil {
		return -1
	}
	return len(matches)
}

// countingMessages records every call made to the message store.
type countingMessages struct {
	*memory.MessageStore
	mu    sync.Mutex
	calls int
}

func (c *countingMessages) touch() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingMessages) Create(ctx context.Context, m *model.Message) error {
	c.touch()
	return c.MessageStore.Create(ctx, m)
}

func (c *countingMessages) ListByConversation(ctx context.Context, id string) ([]model.Message, error) {
	c.touch()
	return c.MessageStore.ListByConversation(ctx, id)
}

func (c *countingMessages) ListRecent(ctx context.Context, id string, limit int) ([]model.Message, error) {
	c.touch()
	return c.MessageStore.ListRecent(ctx, id, limit)
}

func (c *countingMessages) LatestByConversation(ctx context.Context, id string) (*model.Message, error) {
	c.touch()
	return c.MessageStore.LatestByConversation(ctx, id)
}

func (c *countingMessages) DeleteByConversation(ctx context.Context, id string) error {
	c.touch()
	return c.MessageStore.DeleteByConversation(ctx, id)
}

type fakeLock struct {
	mu       sync.Mutex
	held     map[string]string
	unlocked int
}

func (l *fakeLock) TryLock(_ context.Context, id string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[id]; ok {
		return "", false, nil
	}
	l.held[id] = "token-" + id
	return l.held[id], true, nil
}

func (l *fakeLock) Unlock(_ context.Context, id, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] == token {
		delete(l.held, id)
		l.unlocked++
	}
	return nil
}

// fakeHistoryCache mirrors the Redis history cache in memory.
type fakeHistoryCache struct {
	mu      sync.Mutex
	windows map[string][]model.Message
	dirty   map[string]bool
	hits    int
	sets    int
}

func newFakeHistoryCache() *fakeHistoryCache {
	return &fakeHistoryCache{windows: map[string][]model.Message{}, dirty: map[string]bool{}}
}

func (c *fakeHistoryCache) GetHistory(_ context.Context, id string) ([]model.Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[id]
	if ok {
		c.hits++
	}
	return append([]model.Message(nil), w...), ok, nil
}

func (c *fakeHistoryCache) SetHistory(_ context.Context, id string, messages []model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.windows[id] = append([]model.Message(nil), messages...)
	return nil
}

func (c *fakeHistoryCache) DeleteHistory(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.windows, id)
	return nil
}

func (c *fakeHistoryCache) MarkDirty(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty[id] = true
	return nil
}

func (c *fakeHistoryCache) ClearDirty(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dirty, id)
	return nil
}

func (c *fakeHistoryCache) IsDirty(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty[id], nil
}

type fakePublisher struct {
	err       error
	published []string
}

func (p *fakePublisher) PublishVectorDeletion(_ context.Context, id string) error {
	p.published = append(p.published, id)
	return p.err
}

type harness struct {
	conversations *memory.ConversationStore
	messages      *countingMessages
	index         *faultyIndex
	embedder      *fakeEmbedder
	chat          *fakeChat
	logs          *observer.ObservedLogs

	ingestion    *IngestionService
	chatSvc      *ChatService
	conversation *ConversationService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	chunkSize, chunkOverlap int
	batchSize               int
	lock                    TurnLock
	history                 HistoryCache
	publisher               VectorDeletionPublisher
	mode                    string
}

func withChunks(size, overlap, batch int) harnessOption {
	return func(c *harnessConfig) { c.chunkSize, c.chunkOverlap, c.batchSize = size, overlap, batch }
}

func withLock(l TurnLock) harnessOption {
	return func(c *harnessConfig) { c.lock = l }
}

func withHistoryCache(c HistoryCache) harnessOption {
	return func(cfg *harnessConfig) { cfg.history = c }
}

func withQueue(p VectorDeletionPublisher) harnessOption {
	return func(c *harnessConfig) { c.publisher, c.mode = p, DeletionModeQueue }
}

func newHarness(t *testing.T, chat *fakeChat, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		chunkSize:    chunker.DefaultChunkSize,
		chunkOverlap: chunker.DefaultChunkOverlap,
		batchSize:    vectorindex.DefaultBatchSize,
		mode:         DeletionModeSync,
	}
	for _, o := range opts {
		o(&cfg)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	splitter, err := chunker.New(cfg.chunkSize, cfg.chunkOverlap)
	require.NoError(t, err)

	h := &harness{
		conversations: memory.NewConversationStore(),
		messages:      &countingMessages{MessageStore: memory.NewMessageStore()},
		index:         newFaultyIndex(),
		embedder:      &fakeEmbedder{},
		chat:          chat,
		logs:          logs,
	}
	upserter := vectorindex.NewUpserter(h.index, vectorindex.WithBatchSize(cfg.batchSize), vectorindex.WithBackoff(0))
	h.ingestion = NewIngestionService(h.conversations, splitter, h.embedder, h.index, upserter, logger)
	chain := NewRetrievalChain(chat, h.embedder, h.index, DefaultTopK, logger)
	h.chatSvc = NewChatService(h.conversations, h.messages, cfg.history, cfg.lock, chain, DefaultHistoryWindow, logger)
	h.conversation = NewConversationService(h.conversations, h.messages, cfg.history, h.index, cfg.publisher, cfg.mode, logger)
	h.conversation.syncBackoff = 0
	return h
}
