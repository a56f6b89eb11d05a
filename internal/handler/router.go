package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbchat/internal/middleware"
	"github.com/xxxsen/kbchat/internal/pkg/response"
)

type RouterDeps struct {
	Chat            *ChatHandler
	Knowledge       *KnowledgeHandler
	Ingest          *IngestHandler
	RateLimitWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/healthz", Health)

	api.GET("/themes", deps.Chat.Themes)
	api.POST("/history", deps.Chat.History)
	api.GET("/knowledge", deps.Knowledge.List)
	api.POST("/knowledge/remove", deps.Knowledge.Remove)

	limited := api.Group("")
	limited.Use(middleware.RateLimit(deps.RateLimitWindow))
	limited.POST("/chat", deps.Chat.Chat)
	limited.POST("/knowledge/reembed", deps.Knowledge.Reembed)
	limited.POST("/scrape", deps.Ingest.Scrape)
	limited.POST("/files/upload", deps.Ingest.Upload)
	limited.POST("/github/ingest", deps.Ingest.Github)
}

func Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}
