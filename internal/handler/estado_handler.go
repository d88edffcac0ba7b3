// Package handler provides HTTP handlers for API endpoints.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"estados/internal/domain/status"
	"estados/internal/services"
	"estados/internal/transport/httpdto"
)

// EstadoHandler serves the estados feed and the view and reaction endpoints.
type EstadoHandler struct {
	service *services.StatusService
}

func NewEstadoHandler(service *services.StatusService) *EstadoHandler {
	return &EstadoHandler{service: service}
}

// List handles GET /v1/estados?source=all|messaging|social.
func (h *EstadoHandler) List(c *gin.Context) {
	var q httpdto.ListEstadosQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	source, err := status.ParseSource(q.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "INVALID_REQUEST"))
		return
	}
	viewerID, _ := services.UserIDFromContext(c.Request.Context())

	feed, err := h.service.List(c.Request.Context(), viewerID, source)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(feed))
}

func (h *EstadoHandler) Create(c *gin.Context) {
	var req httpdto.CreateEstadoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	authorID, _ := services.UserIDFromContext(c.Request.Context())

	st, err := h.service.Create(c.Request.Context(), authorID, services.CreateInput{
		Text:             req.Text,
		ImageURLs:        req.ImageURLs,
		Visibility:       status.Visibility(req.Visibility),
		ShareToMessaging: req.ShareToMessaging,
		ShareToSocial:    req.ShareToSocial,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(st))
}

func (h *EstadoHandler) Delete(c *gin.Context) {
	estadoID, ok := estadoIDParam(c)
	if !ok {
		return
	}
	authorID, _ := services.UserIDFromContext(c.Request.Context())

	if err := h.service.Delete(c.Request.Context(), authorID, estadoID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *EstadoHandler) RegisterView(c *gin.Context) {
	h.views(c, h.service.RegisterView)
}

func (h *EstadoHandler) ViewState(c *gin.Context) {
	h.views(c, h.service.ViewState)
}

func (h *EstadoHandler) RefreshViews(c *gin.Context) {
	h.views(c, h.service.RefreshViews)
}

func (h *EstadoHandler) AddReaction(c *gin.Context) {
	estadoID, ok := estadoIDParam(c)
	if !ok {
		return
	}
	var req httpdto.ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	viewerID, _ := services.UserIDFromContext(c.Request.Context())

	st, err := h.service.AddReaction(c.Request.Context(), viewerID, estadoID, req.Emoji)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(st))
}

func (h *EstadoHandler) ReactionState(c *gin.Context) {
	h.reactions(c, h.service.ReactionState)
}

func (h *EstadoHandler) RefreshReactions(c *gin.Context) {
	h.reactions(c, h.service.RefreshReactions)
}

type viewOp func(ctx context.Context, viewerID, estadoID uuid.UUID) (services.ViewState, error)

type reactionOp func(ctx context.Context, viewerID, estadoID uuid.UUID) (services.ReactionState, error)

func (h *EstadoHandler) views(c *gin.Context, op viewOp) {
	estadoID, ok := estadoIDParam(c)
	if !ok {
		return
	}
	viewerID, _ := services.UserIDFromContext(c.Request.Context())
	st, err := op(c.Request.Context(), viewerID, estadoID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(st))
}

func (h *EstadoHandler) reactions(c *gin.Context, op reactionOp) {
	estadoID, ok := estadoIDParam(c)
	if !ok {
		return
	}
	viewerID, _ := services.UserIDFromContext(c.Request.Context())
	st, err := op(c.Request.Context(), viewerID, estadoID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(st))
}

func estadoIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid estado id", "INVALID_REQUEST"))
		return uuid.Nil, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	code := services.HTTPStatus(err)
	c.JSON(code, httpdto.NewErrorResponse(err.Error(), httpdto.ErrorCode(code)))
}
