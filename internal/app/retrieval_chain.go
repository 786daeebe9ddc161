package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"blogchat/internal/ai"
	"blogchat/internal/model"
	"blogchat/internal/vectorindex"
)

const (
	DefaultTopK          = 4
	DefaultHistoryWindow = 8

	rewriteInstruction = "Generate a search query based on the conversation to find relevant information."
	answerInstruction  = "Answer the user's questions based on the below context:\n\n%s"
	formatInstruction  = "Format the whole answer as Markdown."
)

// ChainResult is the outcome of one run of the retrieval chain.
type ChainResult struct {
	Query   string
	Context []vectorindex.Match
	Answer  string
	Phase   TurnPhase
	// Cause is set when the answer stream broke after at least one fragment.
	Cause error
}

// RetrievalChain answers one user input from the conversation history and the
// chunks indexed under the conversation's namespace.
type RetrievalChain struct {
	chat     ChatModel
	embedder Embedder
	index    vectorindex.Index
	topK     int
	logger   *zap.Logger
}

func NewRetrievalChain(chat ChatModel, embedder Embedder, index vectorindex.Index, topK int, logger *zap.Logger) *RetrievalChain {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrievalChain{
		chat:     chat,
		embedder: embedder,
		index:    index,
		topK:     topK,
		logger:   logger.Named("chain"),
	}
}

// Run rewrites input into a standalone query, retrieves context and streams
// the answer through onFragment. Rewrite and retrieval failures degrade to
// the raw input and empty context. A generation failure before any fragment
// returns ErrGenerationFailed; a failure after fragments returns the partial
// answer with Phase set to PhaseInterrupted.
func (c *RetrievalChain) Run(
	ctx context.Context,
	conversationID string,
	history []model.Message,
	input string,
	onFragment func(string) error,
) (ChainResult, error) {
	log := c.logger.With(zap.String("conversation_id", conversationID))
	result := ChainResult{Phase: PhaseRewriting}

	result.Query = c.rewrite(ctx, log, history, input)

	result.Phase = PhaseRetrieving
	result.Context = c.retrieve(ctx, log, conversationID, result.Query)

	result.Phase = PhaseGenerating
	fragments := 0
	answer, err := c.chat.StreamComplete(ctx, c.answerPrompt(history, input, result.Context), func(chunk string) error {
		fragments++
		return onFragment(chunk)
	})
	switch {
	case err != nil && fragments > 0:
		result.Answer = answer
		result.Phase = PhaseInterrupted
		result.Cause = err
		log.Warn("answer stream interrupted", zap.Int("fragments", fragments), zap.Error(err))
		return result, nil
	case err != nil:
		result.Phase = PhaseFailed
		return result, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	case strings.TrimSpace(answer) == "":
		result.Phase = PhaseFailed
		return result, fmt.Errorf("%w: empty answer", ErrGenerationFailed)
	}
	result.Answer = answer
	return result, nil
}

func (c *RetrievalChain) rewrite(ctx context.Context, log *zap.Logger, history []model.Message, input string) string {
	messages := toChatMessages(history)
	messages = append(messages,
		ai.ChatMessage{Role: ai.RoleUser, Content: input},
		ai.ChatMessage{Role: ai.RoleUser, Content: rewriteInstruction},
	)
	query, err := c.chat.Complete(ctx, messages)
	query = strings.TrimSpace(query)
	if err != nil || query == "" {
		log.Warn("query rewrite failed, using raw input", zap.Error(err))
		return input
	}
	return query
}

func (c *RetrievalChain) retrieve(ctx context.Context, log *zap.Logger, conversationID, query string) []vectorindex.Match {
	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		log.Warn("embed query failed, answering without context", zap.Error(err))
		return nil
	}
	matches, err := c.index.Query(ctx, vector, c.topK, vectorindex.Filter{ConversationID: conversationID})
	if err != nil {
		if errors.Is(err, vectorindex.ErrFilterRequired) {
			log.Error("vector query without namespace", zap.Error(err))
		} else {
			log.Warn("vector query failed, answering without context", zap.Error(err))
		}
		return nil
	}
	if len(matches) == 0 {
		log.Info("no chunks retrieved")
	}
	return matches
}

func (c *RetrievalChain) answerPrompt(history []model.Message, input string, matches []vectorindex.Match) []ai.ChatMessage {
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		texts = append(texts, m.Text)
	}
	system := fmt.Sprintf(answerInstruction, strings.Join(texts, "\n\n")) + "\n\n" + formatInstruction

	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: ai.RoleSystem, Content: system})
	messages = append(messages, toChatMessages(history)...)
	messages = append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: input})
	return messages
}

func toChatMessages(history []model.Message) []ai.ChatMessage {
	out := make([]ai.ChatMessage, 0, len(history))
	for _, m := range history {
		role := ai.RoleUser
		if m.Role == model.RoleAI {
			role = ai.RoleAssistant
		}
		out = append(out, ai.ChatMessage{Role: role, Content: m.Content})
	}
	return out
}
