package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"blogchat/internal/app"
	"blogchat/internal/transport/http/response"
)

type apiError struct {
	status  int
	code    int
	message string
}

// classify maps a service error to a status, code and a message safe to show.
func classify(err error) apiError {
	switch {
	case errors.Is(err, app.ErrUnauthenticated):
		return apiError{http.StatusUnauthorized, response.CodeUnauthorized, "not authenticated"}
	case errors.Is(err, app.ErrMessageEmpty):
		return apiError{http.StatusBadRequest, response.CodeMessageEmpty, err.Error()}
	case errors.Is(err, app.ErrInvalidInput):
		return apiError{http.StatusBadRequest, response.CodeBadRequest, err.Error()}
	case errors.Is(err, app.ErrConversationNotFound):
		return apiError{http.StatusNotFound, response.CodeConversationNotFound, app.ErrConversationNotFound.Error()}
	case errors.Is(err, app.ErrTurnInProgress):
		return apiError{http.StatusConflict, response.CodeTurnInProgress, app.ErrTurnInProgress.Error()}
	case errors.Is(err, app.ErrNoRecentHumanMessage):
		return apiError{http.StatusConflict, response.CodeNoRecentHumanMessage, app.ErrNoRecentHumanMessage.Error()}
	case errors.Is(err, app.ErrIngestionFailed):
		return apiError{http.StatusBadGateway, response.CodeIngestionFailed, app.ErrIngestionFailed.Error()}
	case errors.Is(err, app.ErrGenerationFailed):
		return apiError{http.StatusBadGateway, response.CodeGenerationFailed, app.ErrGenerationFailed.Error()}
	default:
		return apiError{http.StatusInternalServerError, response.CodeInternalServer, "internal server error"}
	}
}

func writeError(c *gin.Context, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	response.Error(c, e.status, e.code, e.message)
}
