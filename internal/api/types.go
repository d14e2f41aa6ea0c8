// Package api exposes the upload, transcode, and status surfaces as
// gin REST handlers plus a gorilla/websocket server-streaming endpoint
// for job status.
package api

import (
	"time"

	"github.com/reelforge/transcoder/internal/model"
)

// OutputFileResponse is one entry of JobStatusResponse.output_files.
type OutputFileResponse struct {
	Format   string  `json:"format"`
	Location string  `json:"location"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration"`
	Bitrate  int     `json:"bitrate"`
}

// JobStatusResponse is the wire shape shared by get_job_status,
// stream_job_status, and the entries of list_jobs.
type JobStatusResponse struct {
	JobID                      string               `json:"job_id"`
	VideoID                    string               `json:"video_id"`
	Status                     string               `json:"status"`
	Progress                   int                  `json:"progress"`
	CurrentStage               string               `json:"current_stage"`
	StartTime                  int64                `json:"start_time"`
	EndTime                    int64                `json:"end_time"`
	EstimatedTimeRemainingSecs int                  `json:"estimated_time_remaining_seconds"`
	ErrorMessage               string               `json:"error_message,omitempty"`
	OutputFiles                []OutputFileResponse `json:"output_files"`
}

func epochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// jobStatusFromSnapshot converts a registry snapshot to the wire shape.
func jobStatusFromSnapshot(s model.Snapshot) JobStatusResponse {
	outputs := make([]OutputFileResponse, 0, len(s.OutputFiles))
	for _, o := range s.OutputFiles {
		outputs = append(outputs, OutputFileResponse{
			Format:   o.Format,
			Location: o.Location,
			Size:     o.SizeBytes,
			Duration: o.DurationSeconds,
			Bitrate:  o.BitrateKbps,
		})
	}
	return JobStatusResponse{
		JobID:                      s.ID,
		VideoID:                    s.VideoID,
		Status:                     string(s.Status),
		Progress:                   s.Progress,
		CurrentStage:               s.CurrentStage,
		StartTime:                  epochMillis(s.StartedAt),
		EndTime:                    epochMillis(s.CompletedAt),
		EstimatedTimeRemainingSecs: s.EstimatedSecondsLeft,
		ErrorMessage:               s.ErrorMessage,
		OutputFiles:                outputs,
	}
}

// unknownJobStatus is returned for a job id the registry doesn't know.
func unknownJobStatus(jobID string) JobStatusResponse {
	return JobStatusResponse{JobID: jobID, Status: "unknown", ErrorMessage: "Job not found"}
}

// UploadResponse is the client-streaming upload RPC's response.
type UploadResponse struct {
	VideoID      string `json:"video_id,omitempty"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// UploadStatusResponse answers get_upload_status.
type UploadStatusResponse struct {
	Status          string `json:"status"`
	PercentComplete int    `json:"percent_complete"`
	VideoID         string `json:"video_id,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// TranscodeRequestBody is transcode's unary request payload.
type TranscodeRequestBody struct {
	VideoID         string                  `json:"video_id" binding:"required"`
	OutputFormats   []string                `json:"output_formats"`
	OutputContainer string                  `json:"output_container"`
	Options         TranscodeOptionsPayload `json:"options"`
}

// TranscodeOptionsPayload mirrors model.TranscodeOptions over the wire.
type TranscodeOptionsPayload struct {
	AudioCodec   string  `json:"audio_codec"`
	AudioBitrate int     `json:"audio_bitrate"`
	FrameRate    float64 `json:"frame_rate"`
	TwoPass      bool    `json:"two_pass"`
	CRF          int     `json:"crf"`
}

func (p TranscodeOptionsPayload) toModel() model.TranscodeOptions {
	return model.TranscodeOptions{
		AudioCodec:   p.AudioCodec,
		AudioBitrate: p.AudioBitrate,
		FrameRate:    p.FrameRate,
		TwoPass:      p.TwoPass,
		CRF:          p.CRF,
	}
}

// TranscodeResponse is transcode's unary response payload.
type TranscodeResponse struct {
	JobID                string `json:"job_id,omitempty"`
	Status               string `json:"status"`
	EstimatedTimeSeconds int    `json:"estimated_time_seconds"`
	ErrorMessage         string `json:"error_message,omitempty"`
}

// CancelResponse is cancel's unary response payload.
type CancelResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ListJobsResponse is list_jobs's unary response payload.
type ListJobsResponse struct {
	Jobs          []JobStatusResponse `json:"jobs"`
	NextPageToken string              `json:"next_page_token"`
	TotalCount    int                 `json:"total_count"`
}
