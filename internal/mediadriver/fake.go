package mediadriver

import (
	"context"
	"fmt"

	"github.com/reelforge/transcoder/internal/model"
)

// FakeDriver is a deterministic, scriptable Driver for tests: it never
// spawns a subprocess, so scheduler tests don't depend on ffmpeg being
// installed.
type FakeDriver struct {
	ProbeMetadata model.Metadata
	ProbeErr      error

	// EncodeScript, if set, is replayed as a sequence of (percent, stage)
	// progress callbacks before Encode returns EncodeErr (nil for
	// success). If nil, Encode reports no progress and returns EncodeErr
	// immediately.
	EncodeScript []ScriptedProgress
	EncodeErr    error

	// OnEncode is called once per Encode invocation before the script
	// runs, letting a test observe/record requests.
	OnEncode func(req EncodeRequest)
}

// ScriptedProgress is one scripted progress callback.
type ScriptedProgress struct {
	Percent int
	Stage   string
}

func (f *FakeDriver) Probe(ctx context.Context, inputPath string) (model.Metadata, error) {
	if f.ProbeErr != nil {
		return model.Metadata{}, f.ProbeErr
	}
	return f.ProbeMetadata, nil
}

func (f *FakeDriver) Encode(ctx context.Context, req EncodeRequest, progress ProgressFunc) error {
	if f.OnEncode != nil {
		f.OnEncode(req)
	}
	for _, step := range f.EncodeScript {
		select {
		case <-ctx.Done():
			progress(-1, fmt.Sprintf("cancelled: %v", ctx.Err()))
			return ctx.Err()
		default:
		}
		progress(step.Percent, step.Stage)
	}
	if f.EncodeErr != nil {
		progress(-1, f.EncodeErr.Error())
		return f.EncodeErr
	}
	return nil
}
