package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lumenchat/backend/internal/chat"
	"github.com/lumenchat/backend/internal/store/rabbitmq"
)

type Handler struct {
	Svc    *chat.Service
	Rabbit *rabbitmq.Publisher
	Log    *zap.Logger
}

func NewHandler(svc *chat.Service, rabbit *rabbitmq.Publisher, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Svc: svc, Rabbit: rabbit, Log: log}
}

// respondError writes the {error, details?} body every failure uses.
func respondError(c *gin.Context, status int, msg string, err error) {
	body := gin.H{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(status, body)
}

// identFromQuery reads ?walletAddress= / ?email=.
func identFromQuery(c *gin.Context) chat.UserIdentifier {
	return chat.UserIdentifier{
		WalletAddress: c.Query("walletAddress"),
		Email:         c.Query("email"),
	}
}
