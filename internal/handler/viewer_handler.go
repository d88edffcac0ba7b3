package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"estados/internal/domain/status"
	"estados/internal/services"
	"estados/internal/transport/httpdto"
	"estados/internal/viewer"
	estados_errors "estados/pkg/errors"
)

// ViewerHandler drives the caller's status viewer over plain HTTP. The
// websocket carries the same operations plus streamed state.
type ViewerHandler struct {
	service *services.StatusService
}

func NewViewerHandler(service *services.StatusService) *ViewerHandler {
	return &ViewerHandler{service: service}
}

func (h *ViewerHandler) Open(c *gin.Context) {
	var req httpdto.OpenViewerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	source, err := status.ParseSource(req.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "INVALID_REQUEST"))
		return
	}
	viewerID, _ := services.UserIDFromContext(c.Request.Context())

	st, err := h.service.OpenViewer(c.Request.Context(), viewerID, source, req.UserIndex, req.StatusIndex)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(st))
}

func (h *ViewerHandler) State(c *gin.Context) {
	h.apply(c, func(*viewer.Viewer) error { return nil })
}

func (h *ViewerHandler) Key(c *gin.Context) {
	var req httpdto.ViewerKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	key, ok := viewer.ParseKey(req.Key)
	if !ok {
		writeError(c, estados_errors.ErrInvalidInput)
		return
	}
	h.apply(c, func(v *viewer.Viewer) error { return v.HandleKey(key) })
}

func (h *ViewerHandler) GoTo(c *gin.Context) {
	var req httpdto.ViewerGoToRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	h.apply(c, func(v *viewer.Viewer) error { return v.GoTo(req.Index) })
}

func (h *ViewerHandler) Close(c *gin.Context) {
	h.apply(c, func(v *viewer.Viewer) error {
		v.Close()
		return nil
	})
}

func (h *ViewerHandler) apply(c *gin.Context, op func(*viewer.Viewer) error) {
	viewerID, _ := services.UserIDFromContext(c.Request.Context())
	v, err := h.service.Viewer(c.Request.Context(), viewerID)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := op(v); err != nil {
		writeError(c, services.ViewerError(err))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(v.Snapshot()))
}
