package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lumenchat/backend/internal/httpapi/handlers"
	"github.com/lumenchat/backend/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(log))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Idempotency-Key", middleware.RequestIDHeader},
	}))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	r.GET("/healthz", h.Health)
	r.GET("/models", h.ListModels)

	// Chat CRUD
	r.GET("/chats", h.ListChats)
	r.POST("/chats", h.CreateChat)
	r.GET("/chats/:id", h.GetChat)
	r.PATCH("/chats/:id", h.UpdateChat)
	r.DELETE("/chats/:id", h.DeleteChat)

	// Message dispatch
	r.POST("/chat", h.SendMessage)
	r.POST("/chat/async", h.SendMessageAsync)
	r.GET("/chat/jobs/:job_id", h.GetJob)

	return r
}
