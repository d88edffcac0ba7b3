package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"estados/internal/services"
	"estados/internal/transport/httpdto"
	"estados/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Handler struct {
	hub     *Hub
	service ViewerService
	logger  *logger.Logger
}

func NewHandler(hub *Hub, service ViewerService, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{hub: hub, service: service, logger: log}
}

// Connect upgrades an authenticated request and serves the socket until it
// closes. It runs behind the auth middleware.
func (h *Handler) Connect(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	// The request context ends with the handler; viewer calls must outlive
	// individual frames but not the connection.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	client := NewClient(h.hub, conn, userID, h.service, h.logger)
	h.hub.Register(client)
	go client.writePump()

	client.readPump(ctx)

	client.unwatch()
	h.hub.Unregister(client)
}
