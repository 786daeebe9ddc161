package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"blogchat/internal/chunker"
	"blogchat/internal/model"
	"blogchat/internal/vectorindex"
)

const defaultCompensationTimeout = 30 * time.Second

// DocumentPayload is what the document source hands over for one blog post.
type DocumentPayload struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Subtitle      string    `json:"subtitle"`
	PublishDate   time.Time `json:"publish_date"`
	Markdown      string    `json:"markdown"`
	CoverImageURL string    `json:"cover_image_url"`
	Tags          []string  `json:"tags"`
}

func (p DocumentPayload) validate() error {
	if strings.TrimSpace(p.URL) == "" || strings.TrimSpace(p.Title) == "" ||
		strings.TrimSpace(p.Markdown) == "" || p.PublishDate.IsZero() {
		return ErrInvalidInput
	}
	return nil
}

type IngestionService struct {
	conversations       ConversationStore
	splitter            *chunker.Splitter
	embedder            Embedder
	index               vectorindex.Index
	upserter            *vectorindex.Upserter
	logger              *zap.Logger
	newID               func() string
	compensationTimeout time.Duration
}

func NewIngestionService(
	conversations ConversationStore,
	splitter *chunker.Splitter,
	embedder Embedder,
	index vectorindex.Index,
	upserter *vectorindex.Upserter,
	logger *zap.Logger,
) *IngestionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestionService{
		conversations:       conversations,
		splitter:            splitter,
		embedder:            embedder,
		index:               index,
		upserter:            upserter,
		logger:              logger.Named("ingestion"),
		newID:               func() string { return uuid.NewString() },
		compensationTimeout: defaultCompensationTimeout,
	}
}

// CreateConversation records the conversation, then chunks, embeds and
// indexes the post under the conversation's namespace. If any step after the
// record is written fails, the record and any vectors written so far are
// removed and ErrIngestionFailed is returned.
func (s *IngestionService) CreateConversation(ctx context.Context, ownerID uint, doc DocumentPayload) (*model.Conversation, error) {
	if ownerID == 0 {
		return nil, ErrUnauthenticated
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}

	conversation := &model.Conversation{
		ID:            s.newID(),
		OwnerID:       ownerID,
		SourceURL:     strings.TrimSpace(doc.URL),
		Title:         strings.TrimSpace(doc.Title),
		Subtitle:      strings.TrimSpace(doc.Subtitle),
		PublishDate:   doc.PublishDate,
		Markdown:      doc.Markdown,
		CoverImageURL: strings.TrimSpace(doc.CoverImageURL),
		Tags:          doc.Tags,
	}
	if err := s.conversations.Create(ctx, conversation); err != nil {
		s.logger.Error("create conversation failed", zap.Uint("owner_id", ownerID), zap.Error(err))
		return nil, fmt.Errorf("%w: create conversation: %w", ErrIngestionFailed, err)
	}
	log := s.logger.With(zap.String("conversation_id", conversation.ID), zap.Uint("owner_id", ownerID))

	stage := StageCreated
	upsertEntered := false
	fail := func(cause error) (*model.Conversation, error) {
		log.Warn("ingestion failed, compensating", zap.Stringer("stage", stage), zap.Error(cause))
		s.compensate(ctx, log, conversation.ID, upsertEntered)
		return nil, fmt.Errorf("%w: %w", ErrIngestionFailed, cause)
	}

	chunks := s.splitter.Split(conversation.Markdown, map[string]string{
		vectorindex.MetaConversationID: conversation.ID,
	})
	stage = StageChunked

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fail(fmt.Errorf("embed chunks: %w", err))
	}
	if len(vectors) != len(chunks) {
		return fail(fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	records := make([]vectorindex.Record, len(chunks))
	for i, c := range chunks {
		meta := c.Metadata
		meta[vectorindex.MetaChunkIndex] = fmt.Sprint(c.Index)
		records[i] = vectorindex.Record{
			ID:       vectorindex.RecordID(conversation.ID, c.Index),
			Vector:   vectors[i],
			Text:     c.Text,
			Metadata: meta,
		}
	}

	upsertEntered = true
	if err := s.upserter.Upsert(ctx, records); err != nil {
		return fail(fmt.Errorf("index chunks: %w", err))
	}
	stage = StageIndexed

	log.Info("conversation ingested", zap.Int("chunks", len(chunks)), zap.Stringer("stage", stage))
	return conversation, nil
}

// compensate runs on a context detached from the request so a cancelled or
// timed-out caller still gets its partial state removed.
func (s *IngestionService) compensate(ctx context.Context, log *zap.Logger, conversationID string, deleteVectors bool) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	if deleteVectors {
		if err := s.index.DeleteByFilter(cctx, vectorindex.Filter{ConversationID: conversationID}); err != nil {
			log.Error("compensation: delete vectors failed", zap.Error(err), zap.String("alert", "orphaned_vectors"))
		} else {
			log.Info("compensation: vectors deleted")
		}
	}
	if err := s.conversations.DeleteByID(cctx, conversationID); err != nil {
		log.Error("compensation: delete conversation failed", zap.Error(err))
		return
	}
	log.Info("compensation finished", zap.Stringer("stage", StageCompensated))
}
