package httpdto

// CreateEstadoRequest is used for POST /v1/estados
type CreateEstadoRequest struct {
	Text             string   `json:"text"`
	ImageURLs        []string `json:"image_urls"`
	Visibility       string   `json:"visibility"`
	ShareToMessaging bool     `json:"share_to_messaging"`
	ShareToSocial    bool     `json:"share_to_social"`
}

// ReactionRequest is used for POST /v1/estados/:id/reactions
type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// ListEstadosQuery holds query parameters for GET /v1/estados
type ListEstadosQuery struct {
	Source string `form:"source"`
}

// PresignImageRequest is used for POST /v1/uploads/images
type PresignImageRequest struct {
	ContentType string `json:"content_type" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"required"`
}

// OpenViewerRequest is used for POST /v1/viewer/open and the viewer_open socket op
type OpenViewerRequest struct {
	Source      string `json:"source"`
	UserIndex   int    `json:"user_index"`
	StatusIndex int    `json:"status_index"`
}

// ViewerKeyRequest is used for POST /v1/viewer/key
type ViewerKeyRequest struct {
	Key string `json:"key" binding:"required"`
}

// ViewerGoToRequest is used for POST /v1/viewer/goto
type ViewerGoToRequest struct {
	Index int `json:"index"`
}
