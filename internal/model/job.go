// Package model defines the data shapes shared by the transcoding core:
// video formats, transcode options, probed metadata, output files, and the
// job record itself.
package model

import (
	"context"
	"sync"
	"time"
)

// Status is the job lifecycle state. Terminal states are absorbing.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether s is one of the absorbing end states.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// TranscodeOptions carries the optional, per-job encode parameters. Zero
// values mean "use the driver's default" per the argument-construction
// contract (see internal/mediadriver).
type TranscodeOptions struct {
	AudioCodec   string
	AudioBitrate int
	FrameRate    float64
	TwoPass      bool
	CRF          int
}

// Metadata is what Probe extracts from a source file.
type Metadata struct {
	Width          int
	Height         int
	DurationSeconds float64
	BitrateKbps    int
	VideoCodec     string
	AudioCodec     string
}

// OutputFile records one completed per-format encode.
type OutputFile struct {
	Format          string
	Location        string
	SizeBytes       int64
	DurationSeconds float64
	BitrateKbps     int
}

// Job is the unit of work the Transcode Manager schedules and the Job
// Registry stores. The exported fields are set by NewJob and not modified
// afterwards, so callers read them directly. Every unexported field is
// guarded by mu; callers must go through the accessor methods for those
// so that progress/status mutation stays race-free under concurrent
// readers (status queries) and the one worker that owns the job.
type Job struct {
	mu sync.Mutex

	ID        string
	VideoID   string
	InputPath string
	OutputDir string
	Formats   []VideoFormat
	Container string
	Options   TranscodeOptions

	status               Status
	errorMessage         string
	metadata             Metadata
	createdAt            time.Time
	startedAt            time.Time
	completedAt          time.Time
	progress             int
	currentStage         string
	outputFiles          []OutputFile
	estimatedSecondsLeft int

	// cancel, when non-nil, terminates the encode subprocess currently
	// running on behalf of this job. Set by the worker immediately before
	// invoking the media driver for a format and cleared once it returns.
	cancel context.CancelFunc
}

// NewJob constructs a job in the queued state.
func NewJob(id, videoID, inputPath, outputDir, container string, formats []VideoFormat, opts TranscodeOptions, metadata Metadata, estimatedSeconds int) *Job {
	return &Job{
		ID:                   id,
		VideoID:              videoID,
		InputPath:            inputPath,
		OutputDir:            outputDir,
		Formats:              formats,
		Container:            container,
		Options:              opts,
		status:               StatusQueued,
		metadata:             metadata,
		createdAt:            time.Now(),
		estimatedSecondsLeft: estimatedSeconds,
	}
}

// SetCreatedAtForTest overrides the creation timestamp stamped by NewJob.
// Production callers always take the NewJob-assigned time; this exists so
// registry pagination/ordering tests can control CreatedAt deterministically
// instead of relying on successive time.Now() calls happening to be
// non-decreasing.
func (j *Job) SetCreatedAtForTest(t time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.createdAt = t
}

// Snapshot is an immutable copy of a Job's observable state, safe to read
// without holding the job's lock after it's returned.
type Snapshot struct {
	ID                   string
	VideoID              string
	Status               Status
	Progress             int
	CurrentStage         string
	CreatedAt            time.Time
	StartedAt            time.Time
	CompletedAt          time.Time
	EstimatedSecondsLeft int
	ErrorMessage         string
	Metadata             Metadata
	OutputFiles          []OutputFile
	Formats              []VideoFormat
}

// Snapshot returns a consistent point-in-time copy of the job's state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	outputs := make([]OutputFile, len(j.outputFiles))
	copy(outputs, j.outputFiles)
	return Snapshot{
		ID:                   j.ID,
		VideoID:              j.VideoID,
		Status:               j.status,
		Progress:             j.progress,
		CurrentStage:         j.currentStage,
		CreatedAt:            j.createdAt,
		StartedAt:            j.startedAt,
		CompletedAt:          j.completedAt,
		EstimatedSecondsLeft: j.estimatedSecondsLeft,
		ErrorMessage:         j.errorMessage,
		Metadata:             j.metadata,
		OutputFiles:          outputs,
		Formats:              j.Formats,
	}
}

// CreatedAt returns the creation timestamp without requiring a full snapshot.
func (j *Job) CreatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.createdAt
}

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Start transitions queued -> in_progress, recording the start time. It is
// a no-op (returns false) if the job is no longer queued, e.g. it was
// cancelled before a worker picked it up.
func (j *Job) Start() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusQueued {
		return false
	}
	j.status = StatusInProgress
	j.startedAt = time.Now()
	return true
}

// SetProgress updates progress/stage while in_progress. Progress never
// moves backwards: a lower value than the current one is ignored rather
// than rejected, since callers compute it from independent per-format
// math and a late-arriving stale update should not regress what a
// status reader has already observed.
func (j *Job) SetProgress(progress int, stage string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusInProgress {
		return
	}
	if progress > j.progress {
		j.progress = progress
	}
	j.currentStage = stage
}

// AppendOutput records a successful per-format encode, in format order.
func (j *Job) AppendOutput(out OutputFile) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() {
		return
	}
	j.outputFiles = append(j.outputFiles, out)
}

// Complete transitions in_progress -> completed. No-op if already terminal.
func (j *Job) Complete() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() {
		return
	}
	j.status = StatusCompleted
	j.progress = 100
	j.completedAt = time.Now()
	j.cancel = nil
}

// Fail transitions in_progress -> failed with the given message. No-op if
// already terminal.
func (j *Job) Fail(message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() {
		return
	}
	j.status = StatusFailed
	j.errorMessage = message
	j.completedAt = time.Now()
	j.cancel = nil
}

// Cancel transitions the job to cancelled unless it is already terminal.
// It reports whether the cancellation took effect, and preemptively
// signals any in-flight encode by invoking the stored cancel func so
// cancellation latency is bounded by the subprocess's shutdown time
// rather than waiting for the current format to finish on its own.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() {
		return false
	}
	if j.cancel != nil {
		j.cancel()
	}
	j.status = StatusCancelled
	j.completedAt = time.Now()
	j.cancel = nil
	return true
}

// SetCancelFunc stores the cancel function for the encode currently
// in flight so Cancel can preempt it. Call with nil once the encode
// returns.
func (j *Job) SetCancelFunc(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// SetMetadata records probed source metadata at job creation time.
func (j *Job) SetMetadata(m Metadata) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.metadata = m
}

// MetadataSnapshot returns the probed source metadata without requiring
// a full Snapshot.
func (j *Job) MetadataSnapshot() Metadata {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.metadata
}
