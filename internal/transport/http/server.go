package http

import (
	"github.com/gin-gonic/gin"

	"blogchat/internal/bootstrap"
	"blogchat/internal/platform/logging"
	"blogchat/internal/transport/http/handler"
	"blogchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(logging.GinMiddleware(app.Logger.Named("http")), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, app.HealthChecks())
	router.GET("/healthz", healthHandler.Check)

	authHandler := handler.NewAuthHandler(app.Services.Auth)
	conversationHandler := handler.NewConversationHandler(app.Services.Ingestion, app.Services.Conversations)
	chatHandler := handler.NewChatHandler(app.Services.Chat)
	requireAuth := middleware.AuthJWT(app.Config.Auth.JWTSecret)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RequestTimeout(app.Config.RequestTimeout()))

	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", requireAuth, authHandler.Me)

	conversations := v1.Group("/conversations")
	conversations.Use(requireAuth)
	conversations.POST("", conversationHandler.Create)
	conversations.GET("", conversationHandler.List)
	conversations.GET("/:id", conversationHandler.Get)
	conversations.DELETE("/:id", conversationHandler.Delete)
	conversations.POST("/:id/messages", chatHandler.PostMessage)
	conversations.GET("/:id/messages", chatHandler.ListMessages)
	conversations.POST("/:id/ai-turn", chatHandler.GenerateAITurn)
	conversations.POST("/:id/chat", chatHandler.SendTurn)

	return router
}
