package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"estados/internal/services"
	"estados/internal/transport/httpdto"
)

type SessionHandler struct {
	sessions *services.SessionManager
}

func NewSessionHandler(sessions *services.SessionManager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// SignOut handles POST /v1/session/signout. Pending views are flushed and
// queued reactions written before it returns.
func (h *SessionHandler) SignOut(c *gin.Context) {
	viewerID, _ := services.UserIDFromContext(c.Request.Context())
	closed := h.sessions.SignOut(c.Request.Context(), viewerID)
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"closed": closed}))
}
