package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lumenchat/backend/internal/ai"
	"github.com/lumenchat/backend/internal/chat"
)

type sendMessageReq struct {
	ChatID         string              `json:"chatId"`
	Message        string              `json:"message"`
	Model          string              `json:"model"`
	UserIdentifier chat.UserIdentifier `json:"userIdentifier"`
}

// SendMessage appends the user message, dispatches the chat history to
// the model, and appends the assistant reply. When dispatch fails after
// the user message was stored, the message stays stored and the error
// is surfaced.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid json", err)
		return
	}
	if req.ChatID == "" || req.Message == "" {
		respondError(c, http.StatusBadRequest, "chatId and message are required", nil)
		return
	}
	if req.UserIdentifier.Empty() {
		respondError(c, http.StatusBadRequest, "User identifier (walletAddress or email) is required", nil)
		return
	}

	userMsg, assistantMsg, err := h.Svc.SendMessage(c.Request.Context(), req.UserIdentifier, req.ChatID, req.Message, req.Model)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			respondError(c, http.StatusNotFound, "Chat not found", nil)
		case errors.Is(err, ai.ErrModelNotFound):
			// Model names are only validated at dispatch time.
			respondError(c, http.StatusInternalServerError, "Model not found", err)
		case errors.Is(err, ai.ErrProvider):
			h.Log.Error("provider call failed", zap.String("chat_id", req.ChatID), zap.Error(err))
			respondError(c, http.StatusInternalServerError, "Failed to get model response", err)
		default:
			h.Log.Error("send message failed", zap.String("chat_id", req.ChatID), zap.Error(err))
			respondError(c, http.StatusInternalServerError, "Failed to send message", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userMsg":      userMsg,
		"assistantMsg": assistantMsg,
	})
}

// SendMessageAsync stores the user message, records a reply job and
// enqueues it for the worker. Supports Idempotency-Key dedupe.
func (h *Handler) SendMessageAsync(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid json", err)
		return
	}
	if req.ChatID == "" || req.Message == "" {
		respondError(c, http.StatusBadRequest, "chatId and message are required", nil)
		return
	}
	if req.UserIdentifier.Empty() {
		respondError(c, http.StatusBadRequest, "User identifier (walletAddress or email) is required", nil)
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		respondError(c, http.StatusBadRequest, "idempotency key too long", nil)
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	job, created, err := h.Svc.EnqueueReply(c.Request.Context(), req.UserIdentifier, req.ChatID, req.Message, req.Model, idempoKeyPtr)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "Chat not found", nil)
			return
		}
		h.Log.Error("enqueue reply failed", zap.String("chat_id", req.ChatID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to enqueue message", err)
		return
	}

	// Enqueue only when a new job row was created.
	if created {
		if err := h.Rabbit.PublishJob(c.Request.Context(), job.ID); err != nil {
			h.Log.Error("publish job failed", zap.String("job_id", job.ID), zap.Error(err))
			respondError(c, http.StatusInternalServerError, "Failed to enqueue message", err)
			return
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID})
}

func (h *Handler) GetJob(c *gin.Context) {
	ident := identFromQuery(c)
	if ident.Empty() {
		respondError(c, http.StatusBadRequest, "walletAddress or email required", nil)
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		respondError(c, http.StatusBadRequest, "job id required", nil)
		return
	}

	job, err := h.Svc.GetJobForUser(c.Request.Context(), ident, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "Job not found", nil)
			return
		}
		h.Log.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to get job", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}
