package http

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/estimate"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/log"
)

type uploadResponse struct {
	Success                    bool   `json:"success"`
	FilePath                   string `json:"filePath,omitempty"`
	Error                      string `json:"error,omitempty"`
	EstimatedProcessingSeconds int    `json:"estimatedProcessingSeconds,omitempty"`
}

// Upload streams a multipart CSV into object storage and returns the
// stored path plus an advisory processing estimate.
func (h *Handler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, uploadResponse{
			Error: "No file uploaded",
		})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".csv" {
		c.JSON(http.StatusBadRequest, uploadResponse{
			Error: fmt.Sprintf("unsupported file type %q, expected .csv", ext),
		})
		return
	}

	objectName := fmt.Sprintf("%s%s", uuid.New().String(), ext)
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/csv"
	}

	storedPath, err := h.objects.PutObject(c.Request.Context(), h.uploadBucket, objectName, file, header.Size, contentType)
	if err != nil {
		log.Error(err, "Failed to store upload", "filename", header.Filename)
		c.JSON(http.StatusInternalServerError, uploadResponse{
			Error: "Failed to store uploaded file",
		})
		return
	}

	log.Info("Upload stored", "filename", header.Filename, "size", header.Size, "path", storedPath)
	c.JSON(http.StatusOK, uploadResponse{
		Success:                    true,
		FilePath:                   storedPath,
		EstimatedProcessingSeconds: estimate.Seconds(header.Size),
	})
}
