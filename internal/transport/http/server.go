package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"pdfchat/internal/ai"
	appsvc "pdfchat/internal/app"
	"pdfchat/internal/bootstrap"
	"pdfchat/internal/cache"
	"pdfchat/internal/extractor"
	"pdfchat/internal/platform/rabbitmq"
	"pdfchat/internal/repository"
	"pdfchat/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.StaticFile("/", "web/index.html")
	router.GET("/healthz", healthHandler.Check)

	aiClient := ai.NewGroundedClient(ai.Config{
		BaseURL: app.Config.AI.BaseURL,
		APIKey:  app.Config.AI.APIKey,
		Model:   app.Config.AI.Model,
	})
	extractorClient := extractor.NewClient(extractor.Config{
		BaseURL: app.Config.Extractor.BaseURL,
		Timeout: time.Duration(app.Config.Extractor.TimeoutSeconds) * time.Second,
	})

	docRepo := repository.NewDocumentRepository(app.MySQL)
	publisher := rabbitmq.NewUsagePublisher(app.MQConn, app.Config.RabbitMQ.UsageEventQueue)
	transcripts := cache.NewTranscriptCache(
		app.Redis,
		time.Duration(app.Config.Redis.TranscriptTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.TranscriptDirtyTTLSeconds)*time.Second,
	)

	ingestService := appsvc.NewIngestService(
		aiClient,
		extractorClient,
		docRepo,
		publisher,
		time.Duration(app.Config.Ingest.PollIntervalSeconds)*time.Second,
		app.Config.Ingest.PollMaxAttempts,
	)
	conversationService := appsvc.NewConversationService(aiClient, publisher, transcripts)

	documentHandler := handler.NewDocumentHandler(ingestService, conversationService, docRepo, app.Config.Ingest.MaxUploadMB)
	chatHandler := handler.NewChatHandler(conversationService)

	v1 := router.Group("/api/v1")
	v1.POST("/documents", documentHandler.Upload)
	v1.GET("/documents", documentHandler.List)

	conversations := v1.Group("/conversations")
	conversations.POST("/:id/messages", chatHandler.SendMessage)
	conversations.GET("/:id/history", chatHandler.GetHistory)
	conversations.GET("/:id/highlight", chatHandler.GetHighlight)
	conversations.DELETE("/:id", chatHandler.DeleteConversation)

	return router
}
