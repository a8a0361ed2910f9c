package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumenchat/backend/internal/ai"
)

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListModels exposes the static model catalog for the model picker.
func (h *Handler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, ai.Catalog())
}
