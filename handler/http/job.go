package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ocrqueue/src/core/job"
)

// JobHandler exposes the submission and status services over HTTP.
type JobHandler struct {
	service        *job.Service
	apiKey         string
	maxUploadBytes int64
}

// NewJobHandler builds the handler. Authentication is fail-closed: with no
// api key configured every authenticated route rejects.
func NewJobHandler(service *job.Service, apiKey string, maxUploadBytes int64) *JobHandler {
	return &JobHandler{
		service:        service,
		apiKey:         apiKey,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes registers all job routes. Health is unauthenticated.
func (h *JobHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	authed := r.Group("/", h.requireAPIKey)
	authed.POST("/jobs", h.Create)
	authed.GET("/jobs/:id", h.Get)
}

func (h *JobHandler) requireAPIKey(c *gin.Context) {
	if h.apiKey == "" || c.GetHeader("x-api-key") != h.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (h *JobHandler) Create(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required (multipart field: file)"})
		return
	}
	defer file.Close()

	// Reject oversized uploads before buffering them.
	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file"})
		return
	}

	j, err := h.service.Submit(c.Request.Context(), job.SubmitRequest{
		Filename: header.Filename,
		Data:     data,
	})
	if err != nil {
		h.sendSubmitError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"job_id": j.JobID,
		"status": j.Status,
	})
}

func (h *JobHandler) Get(c *gin.Context) {
	view, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job", "detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *JobHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *JobHandler) sendSubmitError(c *gin.Context, err error) {
	var vErr *job.ValidationError
	if errors.As(err, &vErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Reason})
		return
	}

	// The record exists but was never enqueued; surface the job id so the
	// FAILED record can be inspected.
	var qErr *job.EnqueueError
	if errors.As(err, &qErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed", "job_id": qErr.JobID})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "submission failed", "detail": err.Error()})
}
