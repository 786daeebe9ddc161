package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"blogchat/internal/app"
	"blogchat/internal/model"
	"blogchat/internal/transport/http/middleware"
	"blogchat/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type PostMessageRequest struct {
	Content string `json:"content" binding:"required,max=8000"`
}

// messageEvent is the terminating record of a streamed turn.
type messageEvent struct {
	model.Message
	Interrupted bool `json:"interrupted"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	message, err := h.chatService.PostUserTurn(c.Request.Context(), middleware.OwnerID(c), c.Param("id"), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, message)
}

func (h *ChatHandler) ListMessages(c *gin.Context) {
	messages, err := h.chatService.ListMessages(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"items": messages})
}

// GenerateAITurn streams the answer to the latest human message.
func (h *ChatHandler) GenerateAITurn(c *gin.Context) {
	stream := &lazySSE{c: c}
	turn, err := h.chatService.GenerateAITurn(c.Request.Context(), middleware.OwnerID(c), c.Param("id"), stream.fragment)
	h.finish(c, stream, turn, err)
}

// SendTurn posts a human message and streams the answer in one request.
func (h *ChatHandler) SendTurn(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	stream := &lazySSE{c: c}
	result, err := h.chatService.SendTurn(c.Request.Context(), middleware.OwnerID(c), c.Param("id"), req.Content, stream.fragment)
	var turn *app.AITurnResult
	if result != nil {
		turn = result.AI
	}
	h.finish(c, stream, turn, err)
}

// finish answers with JSON while nothing has been streamed, and with a
// terminating event once the stream is open.
func (h *ChatHandler) finish(c *gin.Context, stream *lazySSE, turn *app.AITurnResult, err error) {
	if stream.stream == nil {
		if err != nil {
			writeError(c, err)
			return
		}
		if openErr := stream.open(); openErr != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, openErr.Error())
			return
		}
	}
	if err != nil {
		_ = c.Error(err)
		stream.stream.fail(err)
		return
	}
	_ = stream.stream.send(eventMessage, messageEvent{Message: turn.Message, Interrupted: turn.Interrupted})
}
