package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/log"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/worker"
)

type startJobRequest struct {
	Source      string `json:"source"`
	CSVFilePath string `json:"csvFilePath"`
}

const (
	sourceDatabase = "database"
	sourceCSV      = "csv"
)

// StartJob creates or replaces the job for (ownerId, jobType) and launches
// its worker. Malformed requests are rejected synchronously; no job record
// is created for them.
func (h *Handler) StartJob(c *gin.Context) {
	jobType, err := jobs.ParseType(c.Param("jobType"))
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err)
		return
	}

	owner, ok := ownerID(c)
	if !ok {
		return
	}

	var req startJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Source != sourceDatabase && req.Source != sourceCSV {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR",
			errors.New(`source must be "database" or "csv"`))
		return
	}
	if req.Source == sourceCSV && req.CSVFilePath == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR",
			errors.New("csvFilePath is required when source is csv"))
		return
	}

	job, err := h.store.CreateOrReplace(c.Request.Context(), owner, jobType)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}

	if err := h.runner.Launch(h.baseCtx, job, worker.Params{
		Source:      req.Source,
		CSVFilePath: req.CSVFilePath,
	}); err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}

	log.Info("Job started", "job_id", job.ID, "job_type", string(jobType), "owner_id", owner, "source", req.Source)
	c.JSON(http.StatusAccepted, gin.H{
		"message": fmt.Sprintf("%s job started", jobType),
	})
}

// JobStatus returns a point-in-time snapshot of the owner's job for the
// given type. Idempotent and cheap; clients call it on an interval.
func (h *Handler) JobStatus(c *gin.Context) {
	jobType, err := jobs.ParseType(c.Param("jobType"))
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err)
		return
	}

	owner, ok := ownerID(c)
	if !ok {
		return
	}

	job, err := h.store.Get(c.Request.Context(), owner, jobType)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "none"})
		return
	}

	c.JSON(http.StatusOK, job.Snapshot())
}
