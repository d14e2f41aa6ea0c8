// Package mediadriver adapts an external media processor (ffprobe/ffmpeg
// by default) behind a small Probe/Encode capability set.
package mediadriver

import (
	"context"

	"github.com/reelforge/transcoder/internal/model"
)

// ProgressFunc is invoked as encode progress is observed. percent is in
// [0,100], or -1 paired with a descriptive message on failure.
type ProgressFunc func(percent int, stage string)

// EncodeRequest carries everything Encode needs for one (source, format)
// pair.
type EncodeRequest struct {
	InputPath  string
	OutputPath string
	Format     model.VideoFormat
	Options    model.TranscodeOptions
	// StageName identifies the format in progress callbacks, e.g.
	// "Transcoding 720p".
	StageName string
	// SourceDurationSeconds is the probed duration of InputPath, used to
	// turn a parsed time-position into a percent complete.
	SourceDurationSeconds float64
}

func (r EncodeRequest) durationSeconds() float64 { return r.SourceDurationSeconds }

// Driver is an interface so tests can inject a deterministic fake that
// emits scripted progress without spawning a real subprocess.
type Driver interface {
	// Probe inspects inputPath and returns its metadata. It must bound
	// its own runtime and force-kill the subprocess on timeout.
	Probe(ctx context.Context, inputPath string) (model.Metadata, error)

	// Encode spawns the external encoder for one (source, format) pair,
	// calling progress as the subprocess reports advancement, and
	// returns once the subprocess exits. ctx cancellation preemptively
	// terminates the subprocess.
	Encode(ctx context.Context, req EncodeRequest, progress ProgressFunc) error
}
