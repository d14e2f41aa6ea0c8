// Package transcodemanager implements the scheduler: a bounded worker
// pool that creates jobs, drives each through the Media Driver once per
// requested format, aggregates progress, and honors cancellation.
package transcodemanager

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/reelforge/transcoder/internal/mediadriver"
	"github.com/reelforge/transcoder/internal/model"
	"github.com/reelforge/transcoder/internal/registry"
	"github.com/reelforge/transcoder/internal/storage"
	"github.com/reelforge/transcoder/internal/xerrors"
)

// AdmissionGuard is consulted before a worker picks up the next queued
// job; returning false defers the job (it stays queued, retried on the
// next pull). Implemented by internal/resourcemonitor.
type AdmissionGuard interface {
	Admit() bool
}

type alwaysAdmit struct{}

func (alwaysAdmit) Admit() bool { return true }

// Manager is the Transcode Manager.
type Manager struct {
	storage  *storage.Storage
	driver   mediadriver.Driver
	registry *registry.Registry
	guard    AdmissionGuard
	logger   hclog.Logger

	queue   chan *model.Job
	wg      sync.WaitGroup
	workers int

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// Config bounds the worker pool and wires in the admission guard.
type Config struct {
	Workers int
	Guard   AdmissionGuard
}

// New creates a Manager with its worker pool started. Workers block on
// the queue until Shutdown is called.
func New(st *storage.Storage, driver mediadriver.Driver, reg *registry.Registry, cfg Config, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	guard := cfg.Guard
	if guard == nil {
		guard = alwaysAdmit{}
	}

	m := &Manager{
		storage:    st,
		driver:     driver,
		registry:   reg,
		guard:      guard,
		logger:     logger.Named("transcodemanager"),
		queue:      make(chan *model.Job, 4096),
		workers:    cfg.Workers,
		shutdownCh: make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go m.runWorker(i)
	}

	return m
}

// CreateJobRequest carries a transcode request's parameters.
type CreateJobRequest struct {
	VideoID   string
	Formats   []model.VideoFormat
	Container string
	Options   model.TranscodeOptions
}

// CreateJob locates the staged source, probes it, mints a job record in
// the registry, and returns it in the queued state. It does not schedule
// the job; call ScheduleJob to hand it to the worker pool.
func (m *Manager) CreateJob(ctx context.Context, req CreateJobRequest) (*model.Job, error) {
	if len(req.Formats) == 0 {
		return nil, xerrors.InvalidErr("transcodemanager.create_job", fmt.Errorf("no target formats supplied"))
	}
	if req.Container == "" {
		req.Container = "mp4"
	}

	inputPath, err := m.storage.LocateVideo(req.VideoID)
	if err != nil {
		return nil, err
	}

	metadata, err := m.driver.Probe(ctx, inputPath)
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	outputDir, err := m.storage.CreateJobOutputDir(jobID)
	if err != nil {
		return nil, err
	}

	estimatedSeconds := estimateSeconds(metadata.DurationSeconds, len(req.Formats))

	job := model.NewJob(jobID, req.VideoID, inputPath, outputDir, req.Container, req.Formats, req.Options, metadata, estimatedSeconds)
	m.registry.Insert(job)
	m.registry.Publish(job)

	return job, nil
}

// estimateSeconds gives a rough ETA: half a minute of encode time per
// requested format per minute of source duration.
func estimateSeconds(durationSeconds float64, formatCount int) int {
	minutes := durationSeconds / 60
	return int(math.Round(minutes*float64(formatCount)*0.5)) * 60
}

// ScheduleJob hands job to the worker pool and returns immediately.
func (m *Manager) ScheduleJob(job *model.Job) {
	select {
	case m.queue <- job:
	default:
		m.logger.Warn("submission queue full, deferring", "job_id", job.ID)
		go func() { m.queue <- job }()
	}
}

// Cancel looks up jobID and cancels it if not already terminal,
// preemptively signaling any in-flight encode.
func (m *Manager) Cancel(jobID string) (bool, error) {
	job, ok := m.registry.Get(jobID)
	if !ok {
		return false, xerrors.NotFoundErr("transcodemanager.cancel", xerrors.ErrJobNotFound)
	}
	ok = job.Cancel()
	m.registry.Publish(job)
	return ok, nil
}

// Shutdown signals the workers to stop and waits until every worker has
// exited or ctx is done. Idle workers exit at once; a worker busy with a
// job runs that job to its end first. In-flight encodes are not
// cancelled.
func (m *Manager) Shutdown(ctx context.Context) {
	m.shutdownOnce.Do(func() { close(m.shutdownCh) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown deadline exceeded, workers still draining")
	}
}

func (m *Manager) runWorker(id int) {
	defer m.wg.Done()
	log := m.logger.With("worker", id)

	for {
		select {
		case <-m.shutdownCh:
			return
		case job, ok := <-m.queue:
			if !ok {
				return
			}
			if !m.guard.Admit() {
				// Requeue behind current work rather than block the
				// worker; this just defers starvation rather than
				// rejecting the job outright.
				go func() { m.queue <- job }()
				continue
			}
			m.runJobSafely(job, log)
		}
	}
}

// runJobSafely wraps runJob with panic recovery so one bad job never
// sinks the pool.
func (m *Manager) runJobSafely(job *model.Job, log hclog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic running job", "job_id", job.ID, "panic", r)
			job.Fail(fmt.Sprintf("internal error: %v", r))
			m.registry.Publish(job)
		}
	}()
	m.runJob(job, log)
}

func (m *Manager) runJob(job *model.Job, log hclog.Logger) {
	if !job.Start() {
		// Cancelled before a worker picked it up.
		return
	}
	m.registry.Publish(job)

	formats := job.Formats
	n := len(formats)

	for i, format := range formats {
		if job.Status().IsTerminal() {
			return
		}

		base := 100 * i / n
		next := 100 * (i + 1) / n

		job.SetProgress(base, fmt.Sprintf("Processing %s", format.Name))
		m.registry.Publish(job)

		outputPath := m.storage.OutputPath(job.ID, job.VideoID, format.Name, job.Container)

		encodeCtx, cancel := context.WithCancel(context.Background())
		job.SetCancelFunc(cancel)

		err := m.driver.Encode(encodeCtx, mediadriver.EncodeRequest{
			InputPath:             job.InputPath,
			OutputPath:            outputPath,
			Format:                format,
			Options:               job.Options,
			StageName:             fmt.Sprintf("Transcoding %s", format.Name),
			SourceDurationSeconds: job.MetadataSnapshot().DurationSeconds,
		}, func(percent int, stage string) {
			if percent < 0 {
				return
			}
			job.SetProgress(base+int(float64(percent)*float64(next-base)/100), stage)
			m.registry.Publish(job)
		})

		job.SetCancelFunc(nil)
		cancel()

		if err != nil {
			job.Fail(fmt.Sprintf("Failed to transcode format: %s", format.Name))
			m.registry.Publish(job)
			return
		}

		size := statSize(outputPath)
		job.AppendOutput(model.OutputFile{
			Format:          format.Name,
			Location:        outputPath,
			SizeBytes:       size,
			DurationSeconds: job.MetadataSnapshot().DurationSeconds,
			BitrateKbps:     format.BitrateKbps,
		})
	}

	if !job.Status().IsTerminal() {
		job.Complete()
		m.registry.Publish(job)
	}
}

func statSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
