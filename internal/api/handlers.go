package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/reelforge/transcoder/internal/model"
	"github.com/reelforge/transcoder/internal/registry"
	"github.com/reelforge/transcoder/internal/transcodemanager"
	"github.com/reelforge/transcoder/internal/upload"
	"github.com/reelforge/transcoder/internal/xerrors"
)

// Handlers wires the upload table, transcode manager, and job registry
// to gin routes.
type Handlers struct {
	uploads  *upload.Table
	manager  *transcodemanager.Manager
	registry *registry.Registry
	logger   hclog.Logger
}

// New creates a Handlers bound to the given components.
func New(uploads *upload.Table, manager *transcodemanager.Manager, reg *registry.Registry, logger hclog.Logger) *Handlers {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handlers{uploads: uploads, manager: manager, registry: reg, logger: logger.Named("api")}
}

// RegisterRoutes mounts every handler under router, grouped under a
// versioned RouterGroup.
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/v1")
	{
		v1.POST("/uploads/:upload_id/chunks", h.UploadChunk)
		v1.GET("/uploads/:upload_id/status", h.GetUploadStatus)
		v1.POST("/transcode", h.Transcode)
		v1.POST("/jobs/:job_id/cancel", h.Cancel)
		v1.GET("/jobs/:job_id", h.GetJobStatus)
		v1.GET("/jobs/:job_id/stream", h.StreamJobStatus)
		v1.GET("/jobs", h.ListJobs)
	}
}

// UploadChunk accepts one chunk of a client-streamed upload as a
// raw-body POST. upload_id may be "new" to mint a fresh
// session id; seq and last are carried as query parameters since the
// body itself is pure chunk content.
func (h *Handlers) UploadChunk(c *gin.Context) {
	uploadID := c.Param("upload_id")
	if uploadID == "new" {
		uploadID = ""
	}

	seq, err := strconv.Atoi(c.Query("seq"))
	if err != nil {
		c.JSON(http.StatusBadRequest, UploadResponse{Status: "failed", ErrorMessage: "seq must be an integer"})
		return
	}
	isLast := c.Query("last") == "true"
	filename := c.Query("filename")
	contentType := c.ContentType()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, UploadResponse{Status: "failed", ErrorMessage: "could not read chunk body"})
		return
	}

	result := h.uploads.PutChunk(uploadID, filename, contentType, seq, isLast, body)
	if result.Err != nil {
		c.JSON(statusForErr(result.Err), UploadResponse{Status: "failed", ErrorMessage: result.Err.Error()})
		return
	}

	status := "in_progress"
	if result.Assembled {
		status = "completed"
	}
	c.JSON(http.StatusOK, UploadResponse{VideoID: result.VideoID, Status: status})
}

// GetUploadStatus answers get_upload_status(upload_id).
func (h *Handlers) GetUploadStatus(c *gin.Context) {
	info := h.uploads.GetUploadStatus(c.Param("upload_id"))
	c.JSON(http.StatusOK, UploadStatusResponse{
		Status:          string(info.Status),
		PercentComplete: info.PercentComplete,
		VideoID:         info.VideoID,
		ErrorMessage:    info.ErrorMessage,
	})
}

// Transcode answers transcode(video_id, output_formats, output_container,
// options), expanding the default format set when none is supplied.
func (h *Handlers) Transcode(c *gin.Context) {
	var body TranscodeRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, TranscodeResponse{Status: "failed", ErrorMessage: err.Error()})
		return
	}

	names := body.OutputFormats
	if len(names) == 0 {
		names = model.DefaultFormatNames
	}
	formats, err := model.ExpandStandardFormats(names)
	if err != nil {
		c.JSON(http.StatusBadRequest, TranscodeResponse{Status: "failed", ErrorMessage: err.Error()})
		return
	}

	job, err := h.manager.CreateJob(c.Request.Context(), transcodemanager.CreateJobRequest{
		VideoID:   body.VideoID,
		Formats:   formats,
		Container: body.OutputContainer,
		Options:   body.Options.toModel(),
	})
	if err != nil {
		c.JSON(statusForErr(err), TranscodeResponse{Status: "failed", ErrorMessage: err.Error()})
		return
	}
	h.manager.ScheduleJob(job)

	snap := job.Snapshot()
	c.JSON(http.StatusOK, TranscodeResponse{
		JobID:                snap.ID,
		Status:               string(snap.Status),
		EstimatedTimeSeconds: snap.EstimatedSecondsLeft,
	})
}

// Cancel answers cancel(job_id).
func (h *Handlers) Cancel(c *gin.Context) {
	ok, err := h.manager.Cancel(c.Param("job_id"))
	if err != nil {
		c.JSON(statusForErr(err), CancelResponse{Success: false, ErrorMessage: err.Error()})
		return
	}
	c.JSON(http.StatusOK, CancelResponse{Success: ok})
}

// GetJobStatus answers get_job_status(job_id).
func (h *Handlers) GetJobStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	job, ok := h.registry.Get(jobID)
	if !ok {
		c.JSON(http.StatusOK, unknownJobStatus(jobID))
		return
	}
	c.JSON(http.StatusOK, jobStatusFromSnapshot(job.Snapshot()))
}

// ListJobs answers list_jobs(limit, status_filter, page_token).
func (h *Handlers) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	statuses := map[model.Status]bool{}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses[model.Status(strings.TrimSpace(s))] = true
		}
	}

	snapshots, nextToken := h.registry.List(limit, statuses, c.Query("page_token"))

	jobs := make([]JobStatusResponse, 0, len(snapshots))
	for _, s := range snapshots {
		jobs = append(jobs, jobStatusFromSnapshot(s))
	}

	c.JSON(http.StatusOK, ListJobsResponse{
		Jobs:          jobs,
		NextPageToken: nextToken,
		TotalCount:    h.registry.Count(),
	})
}

// statusForErr maps an xerrors.Error classification to an HTTP status,
// defaulting to 500 for anything unclassified or plain.
func statusForErr(err error) int {
	switch xerrors.TypeOf(err) {
	case xerrors.InvalidArgument:
		return http.StatusBadRequest
	case xerrors.NotFound:
		return http.StatusNotFound
	case xerrors.ResourceExhausted:
		return http.StatusTooManyRequests
	case xerrors.Cancelled:
		return http.StatusConflict
	default:
		if errors.Is(err, xerrors.ErrJobNotFound) || errors.Is(err, xerrors.ErrVideoNotFound) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	}
}
