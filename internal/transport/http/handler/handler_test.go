package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogchat/internal/ai"
	"blogchat/internal/app"
	"blogchat/internal/chunker"
	"blogchat/internal/pkg/jwtutil"
	"blogchat/internal/store/memory"
	"blogchat/internal/transport/http/middleware"
	"blogchat/internal/transport/http/response"
	"blogchat/internal/vectorindex"
	memoryindex "blogchat/internal/vectorindex/memory"
)

const testSecret = "handler-secret"

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 1}, nil
}

func (e stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

type stubChat struct {
	fragments []string
	err       error
}

func (s *stubChat) Complete(context.Context, []ai.ChatMessage) (string, error) {
	return "standalone question", nil
}

func (s *stubChat) StreamComplete(_ context.Context, _ []ai.ChatMessage, onChunk func(string) error) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	var full strings.Builder
	for _, f := range s.fragments {
		full.WriteString(f)
		if err := onChunk(f); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}

func newTestRouter(t *testing.T, chat *stubChat) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conversations := memory.NewConversationStore()
	messages := memory.NewMessageStore()
	index := memoryindex.New(3)
	splitter, err := chunker.New(chunker.DefaultChunkSize, chunker.DefaultChunkOverlap)
	require.NoError(t, err)

	ingestion := app.NewIngestionService(conversations, splitter, stubEmbedder{}, index, vectorindex.NewUpserter(index), nil)
	chain := app.NewRetrievalChain(chat, stubEmbedder{}, index, app.DefaultTopK, nil)
	chatSvc := app.NewChatService(conversations, messages, nil, nil, chain, app.DefaultHistoryWindow, nil)
	convSvc := app.NewConversationService(conversations, messages, nil, index, nil, app.DeletionModeSync, nil)
	authSvc := app.NewAuthService(memory.NewUserStore(), testSecret, time.Hour)

	r := gin.New()
	authHandler := NewAuthHandler(authSvc)
	convHandler := NewConversationHandler(ingestion, convSvc)
	chatHandler := NewChatHandler(chatSvc)

	r.POST("/auth/register", authHandler.Register)
	r.POST("/auth/login", authHandler.Login)
	g := r.Group("/conversations", middleware.AuthJWT(testSecret))
	g.POST("", convHandler.Create)
	g.GET("", convHandler.List)
	g.GET("/:id", convHandler.Get)
	g.DELETE("/:id", convHandler.Delete)
	g.POST("/:id/messages", chatHandler.PostMessage)
	g.GET("/:id/messages", chatHandler.ListMessages)
	g.POST("/:id/ai-turn", chatHandler.GenerateAITurn)
	g.POST("/:id/chat", chatHandler.SendTurn)
	return r
}

func bearer(t *testing.T, userID uint) string {
	t.Helper()
	token, err := jwtutil.GenerateToken(testSecret, time.Hour, userID, "user")
	require.NoError(t, err)
	return "Bearer " + token
}

func do(r *gin.Engine, method, path, auth string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(body string) []sseEvent {
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.name != "" {
			events = append(events, ev)
		}
	}
	return events
}

func createConversation(t *testing.T, r *gin.Engine, auth string) string {
	t.Helper()
	w := do(r, http.MethodPost, "/conversations", auth, gin.H{
		"url":          "https://blog.example.com/pinecone",
		"title":        "What is Pinecone",
		"publish_date": "2024-03-01T00:00:00Z",
		"markdown":     "Pinecone is a vector database.",
		"tags":         []string{"databases"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &summary))
	require.NotEmpty(t, summary.ID)
	return summary.ID
}

func TestAuthHandlers(t *testing.T) {
	r := newTestRouter(t, &stubChat{})
	body := gin.H{"username": "ada", "email": "ada@example.com", "password": "correct horse"}

	w := do(r, http.MethodPost, "/auth/register", "", body)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/auth/register", "", body)
	assert.Equal(t, response.CodeUsernameExists, decode(t, w).Code)

	w = do(r, http.MethodPost, "/auth/login", "", gin.H{"username": "ada", "password": "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.CodeInvalidCredentials, decode(t, w).Code)
}

func TestSendTurn_StreamsFragmentsThenMessage(t *testing.T) {
	r := newTestRouter(t, &stubChat{fragments: []string{"Pinecone is ", "a vector database."}})
	auth := bearer(t, 1)
	id := createConversation(t, r, auth)

	w := do(r, http.MethodPost, "/conversations/"+id+"/chat", auth, gin.H{"content": "What is Pinecone?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseSSE(w.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, eventFragment, events[0].name)
	assert.JSONEq(t, `{"text":"Pinecone is "}`, events[0].data)
	assert.Equal(t, eventFragment, events[1].name)
	assert.Equal(t, eventMessage, events[2].name)

	var final struct {
		Content     string `json:"content"`
		Role        string `json:"role"`
		Interrupted bool   `json:"interrupted"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[2].data), &final))
	assert.Equal(t, "Pinecone is a vector database.", final.Content)
	assert.Equal(t, "ai", final.Role)
	assert.False(t, final.Interrupted)

	w = do(r, http.MethodGet, "/conversations/"+id+"/messages", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []struct {
			Role string `json:"role"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &list))
	require.Len(t, list.Items, 2)
	assert.Equal(t, "human", list.Items[0].Role)
	assert.Equal(t, "ai", list.Items[1].Role)
}

func TestGenerateAITurn_FailureBeforeOutputIsJSON(t *testing.T) {
	r := newTestRouter(t, &stubChat{err: errors.New("upstream down")})
	auth := bearer(t, 1)
	id := createConversation(t, r, auth)

	w := do(r, http.MethodPost, "/conversations/"+id+"/messages", auth, gin.H{"content": "hello?"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/conversations/"+id+"/ai-turn", auth, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, response.CodeGenerationFailed, decode(t, w).Code)
}

func TestStreamingRoutes_PreconditionErrorsKeepStatusCodes(t *testing.T) {
	r := newTestRouter(t, &stubChat{fragments: []string{"ok"}})
	owner, stranger := bearer(t, 1), bearer(t, 2)
	id := createConversation(t, r, owner)

	w := do(r, http.MethodPost, "/conversations/"+id+"/ai-turn", owner, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.CodeNoRecentHumanMessage, decode(t, w).Code)

	w = do(r, http.MethodPost, "/conversations/"+id+"/ai-turn", stranger, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.CodeConversationNotFound, decode(t, w).Code)

	w = do(r, http.MethodPost, "/conversations/"+id+"/chat", stranger, gin.H{"content": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.CodeConversationNotFound, decode(t, w).Code)

	w = do(r, http.MethodPost, "/conversations/"+id+"/chat", owner, gin.H{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeMessageEmpty, decode(t, w).Code)
}

func TestConversationHandlers_OwnerScoping(t *testing.T) {
	r := newTestRouter(t, &stubChat{fragments: []string{"ok"}})
	owner, stranger := bearer(t, 1), bearer(t, 2)
	id := createConversation(t, r, owner)

	w := do(r, http.MethodGet, "/conversations/"+id, stranger, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.CodeConversationNotFound, decode(t, w).Code)

	w = do(r, http.MethodDelete, "/conversations/"+id, stranger, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/conversations", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items   []json.RawMessage `json:"items"`
		HasMore bool              `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &page))
	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)
	assert.NotContains(t, string(page.Items[0]), "markdown")

	w = do(r, http.MethodGet, "/conversations?page=0", owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodDelete, "/conversations/"+id, owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodGet, "/conversations/"+id, owner, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostMessage_Validation(t *testing.T) {
	r := newTestRouter(t, &stubChat{})
	auth := bearer(t, 1)
	id := createConversation(t, r, auth)

	w := do(r, http.MethodPost, "/conversations/"+id+"/messages", auth, gin.H{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeMessageEmpty, decode(t, w).Code)

	w = do(r, http.MethodPost, "/conversations/"+id+"/messages", "", gin.H{"content": "hi"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/conversations", auth, gin.H{"title": "no url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
