package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"blogchat/internal/app"
	"blogchat/internal/model"
	"blogchat/internal/transport/http/middleware"
	"blogchat/internal/transport/http/response"
)

type ConversationHandler struct {
	ingestion     *app.IngestionService
	conversations *app.ConversationService
}

type CreateConversationRequest struct {
	URL           string    `json:"url" binding:"required,url,max=1024"`
	Title         string    `json:"title" binding:"required,max=512"`
	Subtitle      string    `json:"subtitle" binding:"max=512"`
	PublishDate   time.Time `json:"publish_date" binding:"required"`
	Markdown      string    `json:"markdown" binding:"required"`
	CoverImageURL string    `json:"cover_image_url" binding:"omitempty,url,max=1024"`
	Tags          []string  `json:"tags" binding:"max=32"`
}

type conversationSummary struct {
	ID            string    `json:"id"`
	SourceURL     string    `json:"source_url"`
	Title         string    `json:"title"`
	Subtitle      string    `json:"subtitle,omitempty"`
	PublishDate   time.Time `json:"publish_date"`
	CoverImageURL string    `json:"cover_image_url,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func summarize(c model.Conversation) conversationSummary {
	return conversationSummary{
		ID:            c.ID,
		SourceURL:     c.SourceURL,
		Title:         c.Title,
		Subtitle:      c.Subtitle,
		PublishDate:   c.PublishDate,
		CoverImageURL: c.CoverImageURL,
		Tags:          c.Tags,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func NewConversationHandler(ingestion *app.IngestionService, conversations *app.ConversationService) *ConversationHandler {
	return &ConversationHandler{ingestion: ingestion, conversations: conversations}
}

func (h *ConversationHandler) Create(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	conversation, err := h.ingestion.CreateConversation(c.Request.Context(), middleware.OwnerID(c), app.DocumentPayload{
		URL:           req.URL,
		Title:         req.Title,
		Subtitle:      req.Subtitle,
		PublishDate:   req.PublishDate,
		Markdown:      req.Markdown,
		CoverImageURL: req.CoverImageURL,
		Tags:          req.Tags,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, summarize(*conversation))
}

func (h *ConversationHandler) List(c *gin.Context) {
	page := 1
	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid page")
			return
		}
		page = parsed
	}

	list, hasMore, err := h.conversations.ListConversations(c.Request.Context(), middleware.OwnerID(c), page)
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]conversationSummary, 0, len(list))
	for _, conv := range list {
		items = append(items, summarize(conv))
	}
	response.OK(c, gin.H{
		"items":    items,
		"page":     page,
		"has_more": hasMore,
	})
}

func (h *ConversationHandler) Get(c *gin.Context) {
	conversation, err := h.conversations.GetConversation(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, conversation)
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.conversations.DeleteConversation(c.Request.Context(), middleware.OwnerID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"id": c.Param("id"), "deleted": true})
}
