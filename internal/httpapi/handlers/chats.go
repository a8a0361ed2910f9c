package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lumenchat/backend/internal/chat"
)

// ListChats returns all chats owned by the identifier, most recently
// updated first.
func (h *Handler) ListChats(c *gin.Context) {
	ident := identFromQuery(c)
	if ident.Empty() {
		respondError(c, http.StatusBadRequest, "walletAddress or email required", nil)
		return
	}

	chats, err := h.Svc.GetChats(c.Request.Context(), ident)
	if err != nil {
		h.Log.Error("list chats failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to get chats", err)
		return
	}
	if chats == nil {
		chats = []chat.Chat{}
	}
	c.JSON(http.StatusOK, chats)
}

type createChatReq struct {
	Title          string               `json:"title"`
	Model          string               `json:"model"`
	UserIdentifier chat.UserIdentifier  `json:"userIdentifier"`
	InitialMessage *chat.InitialMessage `json:"initialMessage"`
}

func (h *Handler) CreateChat(c *gin.Context) {
	var req createChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid json", err)
		return
	}
	if req.Title == "" || req.Model == "" {
		respondError(c, http.StatusBadRequest, "Title and model are required", nil)
		return
	}
	if req.UserIdentifier.Empty() {
		respondError(c, http.StatusBadRequest, "User identifier (walletAddress or email) is required", nil)
		return
	}
	if req.InitialMessage != nil && (req.InitialMessage.Role == "" || req.InitialMessage.Content == "") {
		respondError(c, http.StatusBadRequest, "Initial message must have role and content", nil)
		return
	}

	created, err := h.Svc.CreateChat(c.Request.Context(), req.UserIdentifier, req.Title, req.Model, req.InitialMessage)
	if err != nil {
		if errors.Is(err, chat.ErrUnknownRole) {
			respondError(c, http.StatusBadRequest, "Initial message role is invalid", err)
			return
		}
		h.Log.Error("create chat failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to create chat", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetChat(c *gin.Context) {
	ident := identFromQuery(c)
	if ident.Empty() {
		respondError(c, http.StatusBadRequest, "walletAddress or email required", nil)
		return
	}

	found, err := h.Svc.GetChatByID(c.Request.Context(), ident, c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "Chat not found", nil)
			return
		}
		h.Log.Error("get chat failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to get chat", err)
		return
	}
	c.JSON(http.StatusOK, found)
}

type updateChatReq struct {
	Title          string              `json:"title"`
	UserIdentifier chat.UserIdentifier `json:"userIdentifier"`
}

func (h *Handler) UpdateChat(c *gin.Context) {
	var req updateChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid json", err)
		return
	}
	if req.Title == "" {
		respondError(c, http.StatusBadRequest, "Title is required", nil)
		return
	}
	if req.UserIdentifier.Empty() {
		respondError(c, http.StatusBadRequest, "User identifier (walletAddress or email) is required", nil)
		return
	}

	updated, err := h.Svc.UpdateChatTitle(c.Request.Context(), req.UserIdentifier, c.Param("id"), req.Title)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "Chat not found", nil)
			return
		}
		h.Log.Error("update chat failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to update chat", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

type deleteChatReq struct {
	UserIdentifier chat.UserIdentifier `json:"userIdentifier"`
}

// DeleteChat accepts the identifier either as query parameters or in
// the request body.
func (h *Handler) DeleteChat(c *gin.Context) {
	ident := identFromQuery(c)
	if ident.Empty() {
		var req deleteChatReq
		if err := c.ShouldBindJSON(&req); err == nil {
			ident = req.UserIdentifier
		}
	}
	if ident.Empty() {
		respondError(c, http.StatusBadRequest, "User identifier (walletAddress or email) is required", nil)
		return
	}

	if err := h.Svc.DeleteChat(c.Request.Context(), ident, c.Param("id")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "Chat not found", nil)
			return
		}
		h.Log.Error("delete chat failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to delete chat", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat deleted successfully"})
}
