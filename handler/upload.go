package handler

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rt-heroku/contract-analysis-sub001/middleware"
	"github.com/rt-heroku/contract-analysis-sub001/service"
)

type UploadHandler struct {
	registry *service.UploadRegistry
}

func NewUploadHandler(registry *service.UploadRegistry) *UploadHandler {
	return &UploadHandler{registry: registry}
}

// Create ingests one half of a document pair. The first upload of a pair
// omits correlation_key and receives a fresh one; the second supplies it.
func (h *UploadHandler) Create(c *gin.Context) {
	userID := middleware.GetUserID(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	kind := c.PostForm("kind")
	correlationKey := c.PostForm("correlation_key")

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimeFromExtension(header.Filename)
	}

	upload, err := h.registry.Create(c.Request.Context(), userID, kind, file, header.Size, header.Filename, mimeType, correlationKey)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"upload_id":       upload.ID,
		"correlation_key": upload.CorrelationKey,
		"kind":            upload.Kind,
		"filename":        upload.Filename,
		"byte_size":       upload.ByteSize,
	})
}

// mimeFromExtension covers the common case of browsers sending
// octet-stream for CSV/XLSX files.
func mimeFromExtension(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return service.MimePDF
	case ".csv":
		return "text/csv"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return ""
	}
}

// List returns the caller's uploads, newest first.
func (h *UploadHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	uploads := h.registry.GetByOwner(userID)

	result := make([]gin.H, len(uploads))
	for i, u := range uploads {
		result[i] = gin.H{
			"id":              u.ID,
			"correlation_key": u.CorrelationKey,
			"kind":            u.Kind,
			"filename":        u.Filename,
			"byte_size":       u.ByteSize,
			"created_at":      u.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	c.JSON(http.StatusOK, gin.H{"uploads": result})
}

// Delete removes an upload and its stored bytes.
func (h *UploadHandler) Delete(c *gin.Context) {
	userID := middleware.GetUserID(c)
	id := c.Param("id")

	if err := h.registry.Delete(c.Request.Context(), id, userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Upload deleted"})
}
