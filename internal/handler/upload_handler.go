package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"estados/internal/services"
	"estados/internal/transport/httpdto"
)

type UploadHandler struct {
	service *services.UploadService
}

func NewUploadHandler(service *services.UploadService) *UploadHandler {
	return &UploadHandler{service: service}
}

// PresignImage handles POST /v1/uploads/images.
func (h *UploadHandler) PresignImage(c *gin.Context) {
	var req httpdto.PresignImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	authorID, _ := services.UserIDFromContext(c.Request.Context())

	res, err := h.service.PresignImage(c.Request.Context(), authorID, req.ContentType, req.FileSize)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(res))
}
