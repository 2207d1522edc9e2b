package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/app"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/metrics"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/middleware"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/storage"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/workflow"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// multipart overhead allowed on top of the largest accepted file
const formOverhead = 1 << 20

type API struct {
	services      *app.Services
	pipeline      *pipeline.Pipeline
	logger        *logging.Logger
	tempDir       string
	maxUploadSize int64
	watchInterval time.Duration
}

func (api *API) respondError(c *gin.Context, err error) {
	code := apperr.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		api.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
		metrics.RecordError("api", apperr.Kind(err))
		if code == http.StatusServiceUnavailable {
			c.JSON(code, gin.H{"error": "service temporarily unavailable"})
			return
		}
		c.JSON(code, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func actor(c *gin.Context) string {
	userID, _ := middleware.GetUserID(c)
	return userID
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	failures := api.services.Health(c.Request.Context())
	if len(failures) > 0 {
		details := make(gin.H, len(failures))
		for name, err := range failures {
			details[name] = err.Error()
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"checks": details,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// uploadVideo accepts a video for a content item
// POST /video-content/upload/:contentId
func (api *API) uploadVideo(c *gin.Context) {
	contentID := c.Param("contentId")
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.maxUploadSize+formOverhead)

	file, err := c.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RecordUpload("rejected", tooLarge.Limit)
			api.respondError(c, apperr.Validation("file exceeds maximum of %d bytes", api.maxUploadSize))
			return
		}
		api.respondError(c, apperr.Validation("no video file provided"))
		return
	}

	tags, err := parseTags(c.PostForm("tags"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	extra, err := parseMetadata(c.PostForm("metadata"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	req := pipeline.UploadRequest{
		ContentID:   contentID,
		ContentType: models.ContentType(c.DefaultPostForm("contentType", string(models.ContentTypeLesson))),
		File: models.FileMetadata{
			Filename: filepath.Base(file.Filename),
			MimeType: mimeType(file),
			Size:     file.Size,
		},
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Tags:        tags,
		Metadata:    extra,
		ActorID:     actor(c),
	}

	// reject before spooling the body to disk
	if err := api.services.Assets.ValidateFile(req.File); err != nil {
		metrics.RecordUpload("rejected", req.File.Size)
		api.respondError(c, err)
		return
	}

	tempPath := filepath.Join(api.tempDir, "upload-"+uuid.New().String()+filepath.Ext(req.File.Filename))
	if err := c.SaveUploadedFile(file, tempPath); err != nil {
		api.respondError(c, apperr.Transient(fmt.Errorf("failed to save upload: %w", err)))
		return
	}
	defer os.Remove(tempPath)
	req.Path = tempPath

	result, err := api.pipeline.Upload(c.Request.Context(), req)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func mimeType(file *multipart.FileHeader) string {
	declared := file.Header.Get("Content-Type")
	if declared == "" || declared == "application/octet-stream" {
		return storage.ContentType(file.Filename)
	}
	return declared
}

func parseTags(raw string) ([]models.TagInput, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var tags []models.TagInput
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, apperr.Validation("tags must be a JSON array of {name, category}")
	}
	return tags, nil
}

func parseMetadata(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var values map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, apperr.Validation("metadata must be a JSON object")
	}
	return stringify(values), nil
}

// stringify flattens JSON values into the strings the catalog stores
func stringify(values map[string]interface{}) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			encoded, _ := json.Marshal(val)
			out[k] = string(encoded)
		}
	}
	return out
}

// getStatus returns the processing snapshot of an asset
// GET /video-content/status/:videoAssetId
func (api *API) getStatus(c *gin.Context) {
	snapshot, err := api.services.Status.GetStatus(c.Request.Context(), c.Param("videoAssetId"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// streamStatus pushes a snapshot on every change until processing settles
// GET /video-content/status/:videoAssetId/events
func (api *API) streamStatus(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	updates, err := api.services.Status.Watch(ctx, c.Param("videoAssetId"), api.watchInterval)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		snapshot, ok := <-updates
		if !ok {
			return false
		}
		c.SSEvent("status", snapshot)
		if snapshot.Settled() {
			c.SSEvent("done", gin.H{"aggregateStatus": snapshot.AggregateStatus})
			return false
		}
		return true
	})
}

// reprocessAsset queues fresh jobs for an uploaded asset
// POST /video-content/assets/:videoAssetId/reprocess
func (api *API) reprocessAsset(c *gin.Context) {
	var req struct {
		JobTypes []models.JobType `json:"jobTypes"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			api.respondError(c, apperr.Validation("invalid request: %v", err))
			return
		}
	}

	jobs, err := api.pipeline.Reprocess(c.Request.Context(), c.Param("videoAssetId"), req.JobTypes)
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobs": jobs})
}

// deleteContent hides every asset of a content item and stops its jobs
// DELETE /video-content/content/:contentId
func (api *API) deleteContent(c *gin.Context) {
	result, err := api.pipeline.DeleteContent(c.Request.Context(), c.Param("contentId"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getJob returns a single job
// GET /video-content/jobs/:jobId
func (api *API) getJob(c *gin.Context) {
	job, err := api.services.Queue.Get(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// retryJob re-enqueues a terminally failed job
// POST /video-content/jobs/:jobId/retry
func (api *API) retryJob(c *gin.Context) {
	job, err := api.services.Queue.RetryManually(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	api.logger.WithJobID(job.ID).WithField("actor_id", actor(c)).Info("Job retried manually")
	c.JSON(http.StatusOK, job)
}

// cancelJob stops a pending or running job
// POST /video-content/jobs/:jobId/cancel
func (api *API) cancelJob(c *gin.Context) {
	job, err := api.services.Queue.Cancel(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	api.logger.WithJobID(job.ID).WithField("actor_id", actor(c)).Info("Job cancelled")
	c.JSON(http.StatusOK, job)
}

// getWorkflow returns a workflow
// GET /video-content/workflow/:workflowId
func (api *API) getWorkflow(c *gin.Context) {
	wf, err := api.services.Workflows.Get(c.Request.Context(), c.Param("workflowId"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// getContentWorkflow returns the workflow of a content item
// GET /video-content/content/:contentId/workflow
func (api *API) getContentWorkflow(c *gin.Context) {
	wf, err := api.services.Workflows.GetByContent(c.Request.Context(), c.Param("contentId"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// setWorkflowStatus moves a workflow through the editorial lifecycle
// PUT /video-content/workflow/:workflowId/status
func (api *API) setWorkflowStatus(c *gin.Context) {
	var req workflow.Transition
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondError(c, apperr.Validation("invalid request: %v", err))
		return
	}

	wf, err := api.services.Workflows.SetStatus(c.Request.Context(), c.Param("workflowId"), req, actor(c))
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// getWorkflowHistory returns the audit trail of a workflow
// GET /video-content/workflow/:workflowId/history
func (api *API) getWorkflowHistory(c *gin.Context) {
	workflowID := c.Param("workflowId")

	entries, err := api.services.Workflows.History(c.Request.Context(), workflowID)
	if err != nil {
		api.respondError(c, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"workflowId": workflowID, "history": entries})
}

// addMetadata upserts metadata keys on a content item
// POST /video-content/metadata/:contentType/:contentId
func (api *API) addMetadata(c *gin.Context) {
	var req struct {
		Metadata map[string]interface{} `json:"metadata" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondError(c, apperr.Validation("invalid request: %v", err))
		return
	}

	contentType := models.ContentType(c.Param("contentType"))
	contentID := c.Param("contentId")
	if err := api.services.Catalog.SetMetadata(c.Request.Context(), contentType, contentID, stringify(req.Metadata)); err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(req.Metadata)})
}

// listMetadata returns the metadata of a content item
// GET /video-content/metadata/:contentType/:contentId
func (api *API) listMetadata(c *gin.Context) {
	entries, err := api.services.Catalog.ListMetadata(c.Request.Context(), models.ContentType(c.Param("contentType")), c.Param("contentId"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	values := make(map[string]string, len(entries))
	for _, e := range entries {
		values[e.Key] = e.Value
	}
	c.JSON(http.StatusOK, gin.H{"metadata": values})
}

// addTags attaches tags to a content item
// POST /video-content/tags/:contentType/:contentId
func (api *API) addTags(c *gin.Context) {
	var req struct {
		Tags []models.TagInput `json:"tags" binding:"required,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondError(c, apperr.Validation("invalid request: %v", err))
		return
	}

	added, err := api.services.Catalog.AddTags(c.Request.Context(), models.ContentType(c.Param("contentType")), c.Param("contentId"), req.Tags)
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// listTags returns the tags of a content item
// GET /video-content/tags/:contentType/:contentId
func (api *API) listTags(c *gin.Context) {
	tags, err := api.services.Catalog.ListTags(c.Request.Context(), models.ContentType(c.Param("contentType")), c.Param("contentId"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	if tags == nil {
		tags = []*models.Tag{}
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}
