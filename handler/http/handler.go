package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/hub"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/worker"
)

// ObjectStore is the slice of blob storage the upload handler needs.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, contentType string) (string, error)
}

type Handler struct {
	store        *jobs.Store
	pushHub      *hub.Hub
	runner       *worker.Runner
	objects      ObjectStore
	uploadBucket string

	// baseCtx outlives individual requests; worker goroutines inherit it
	// so a finished HTTP request does not cancel its job.
	baseCtx context.Context
}

func NewHandler(baseCtx context.Context, store *jobs.Store, pushHub *hub.Hub, runner *worker.Runner, objects ObjectStore, uploadBucket string) *Handler {
	return &Handler{
		store:        store,
		pushHub:      pushHub,
		runner:       runner,
		objects:      objects,
		uploadBucket: uploadBucket,
		baseCtx:      baseCtx,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")

	api.GET("/events", h.Events)

	api.GET("/jobs/:jobType/status", h.JobStatus)
	api.POST("/jobs/:jobType/start", h.StartJob)

	api.POST("/uploads", h.Upload)

	api.GET("/health", h.Health)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Common error response structure
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func sendError(c *gin.Context, status int, code string, err error) {
	switch {
	case errors.Is(err, jobs.ErrUnknownJobType):
		status = http.StatusBadRequest
		code = "UNKNOWN_JOB_TYPE"
	case errors.Is(err, jobs.ErrJobNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, jobs.ErrJobTerminal):
		status = http.StatusConflict
		code = "JOB_TERMINAL"
	}

	c.JSON(status, ErrorResponse{
		Code:    code,
		Message: err.Error(),
	})
}

// ownerID extracts the required ownerId query parameter.
func ownerID(c *gin.Context) (string, bool) {
	owner := c.Query("ownerId")
	if owner == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "ownerId query parameter is required",
		})
		return "", false
	}
	return owner, true
}
