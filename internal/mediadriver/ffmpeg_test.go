package mediadriver

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/transcoder/internal/model"
	"github.com/reelforge/transcoder/internal/xerrors"
)

// fakeCommandRunner is a scriptable CommandRunner: it never spawns a real
// subprocess, so Encode/Probe can be driven through their actual
// scanning/parsing/exit-handling logic in tests without ffmpeg/ffprobe
// installed.
type fakeCommandRunner struct {
	calls []string

	// Run (used by Probe)
	runOutput []byte
	runErr    error
	blockRun  bool // if set, Run blocks until ctx is done and returns ctx.Err()

	// Start (used by Encode)
	startLines []string
	startErr   error
	waitErr    error
}

func (f *fakeCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if f.blockRun {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.runOutput, f.runErr
}

func (f *fakeCommandRunner) Start(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if f.startErr != nil {
		return nil, nil, f.startErr
	}
	r := io.NopCloser(strings.NewReader(strings.Join(f.startLines, "\n")))
	return r, func() error { return f.waitErr }, nil
}

func TestBuildArgsOrderAndConditionals(t *testing.T) {
	req := EncodeRequest{
		InputPath:  "/in.mp4",
		OutputPath: "/out.mp4",
		Format: model.VideoFormat{
			VideoCodec:  "libx264",
			Width:       1280,
			Height:      720,
			BitrateKbps: 2500,
		},
		Options: model.TranscodeOptions{
			CRF:       23,
			FrameRate: 30,
			TwoPass:   true,
		},
	}

	args := buildArgs(req)
	assert.Equal(t, []string{
		"-i", "/in.mp4",
		"-c:v", "libx264",
		"-s", "1280x720",
		"-b:v", "2500k",
		"-pass", "1",
		"-crf", "23",
		"-r", "30",
		"-c:a", "aac", "-b:a", "128k",
		"-y", "/out.mp4",
	}, args)
}

func TestBuildArgsWithExplicitAudio(t *testing.T) {
	req := EncodeRequest{
		InputPath:  "/in.mp4",
		OutputPath: "/out.mp4",
		Format:     model.VideoFormat{VideoCodec: "libx264", Width: 640, Height: 360},
		Options:    model.TranscodeOptions{AudioCodec: "opus", AudioBitrate: 96},
	}

	args := buildArgs(req)
	assert.Contains(t, args, "-c:a")
	idx := indexOf(args, "-c:a")
	assert.Equal(t, "opus", args[idx+1])
	assert.Equal(t, "-b:a", args[idx+2])
	assert.Equal(t, "96k", args[idx+3])
}

func TestParseTimePosition(t *testing.T) {
	match := timePattern.FindStringSubmatch("frame=100 time=00:01:02.50 bitrate=900kbits/s")
	assert.NotNil(t, match)
	assert.Equal(t, 62.5, parseTimePosition(match))
}

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0, clampPercent(-5))
	assert.Equal(t, 100, clampPercent(150))
	assert.Equal(t, 42, clampPercent(42))
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func TestEncodeReportsProgressFromScannedOutput(t *testing.T) {
	runner := &fakeCommandRunner{
		startLines: []string{
			"frame=10 fps=25 time=00:00:05.00 bitrate=900kbits/s",
			"frame=20 fps=25 time=00:00:10.00 bitrate=900kbits/s",
			"frame=40 fps=25 time=00:00:20.00 bitrate=900kbits/s",
		},
	}
	d := NewWithRunner("ffprobe", "ffmpeg", time.Second, nil, runner).(*ffmpegDriver)

	var percents []int
	var stages []string
	err := d.Encode(context.Background(), EncodeRequest{
		InputPath:             "/in.mp4",
		OutputPath:            "/out.mp4",
		Format:                model.VideoFormat{VideoCodec: "libx264", Width: 1280, Height: 720},
		StageName:             "Transcoding 720p",
		SourceDurationSeconds: 20,
	}, func(percent int, stage string) {
		percents = append(percents, percent)
		stages = append(stages, stage)
	})

	require.NoError(t, err)
	assert.Equal(t, []int{25, 50, 100}, percents)
	assert.Equal(t, []string{"Transcoding 720p", "Transcoding 720p", "Transcoding 720p"}, stages)
	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0], "-i /in.mp4")
}

func TestEncodeReturnsFailureOnNonZeroExit(t *testing.T) {
	runner := &fakeCommandRunner{
		startLines: []string{"time=00:00:01.00"},
		waitErr:    errors.New("exit status 1"),
	}
	d := NewWithRunner("ffprobe", "ffmpeg", time.Second, nil, runner).(*ffmpegDriver)

	var lastPercent int
	var lastStage string
	err := d.Encode(context.Background(), EncodeRequest{
		SourceDurationSeconds: 10,
	}, func(percent int, stage string) {
		lastPercent = percent
		lastStage = stage
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrEncodeFailed)
	assert.Equal(t, -1, lastPercent)
	assert.Contains(t, lastStage, "exit status 1")
}

func TestEncodeReturnsFailureWhenSpawnFails(t *testing.T) {
	runner := &fakeCommandRunner{startErr: errors.New("no such file")}
	d := NewWithRunner("ffprobe", "ffmpeg", time.Second, nil, runner).(*ffmpegDriver)

	var sawFailure bool
	err := d.Encode(context.Background(), EncodeRequest{}, func(percent int, stage string) {
		if percent == -1 {
			sawFailure = true
		}
	})

	require.Error(t, err)
	assert.True(t, sawFailure)
}

func TestProbeParsesJSONOutput(t *testing.T) {
	runner := &fakeCommandRunner{
		runOutput: []byte(`{
			"format": {"duration": "123.45", "bit_rate": "5000000"},
			"streams": [
				{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
				{"codec_type": "audio", "codec_name": "aac"}
			]
		}`),
	}
	d := NewWithRunner("ffprobe", "ffmpeg", time.Second, nil, runner).(*ffmpegDriver)

	meta, err := d.Probe(context.Background(), "/in.mp4")
	require.NoError(t, err)
	assert.Equal(t, 123.45, meta.DurationSeconds)
	assert.Equal(t, 5000, meta.BitrateKbps)
	assert.Equal(t, 1920, meta.Width)
	assert.Equal(t, 1080, meta.Height)
	assert.Equal(t, "h264", meta.VideoCodec)
	assert.Equal(t, "aac", meta.AudioCodec)
	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0], "/in.mp4")
}

func TestProbeFailsOnNonZeroExit(t *testing.T) {
	runner := &fakeCommandRunner{runErr: errors.New("exit status 1")}
	d := NewWithRunner("ffprobe", "ffmpeg", time.Second, nil, runner).(*ffmpegDriver)

	_, err := d.Probe(context.Background(), "/in.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrProbeFailed)
}

func TestProbeTimesOutAndForceFails(t *testing.T) {
	runner := &fakeCommandRunner{blockRun: true}
	d := NewWithRunner("ffprobe", "ffmpeg", 10*time.Millisecond, nil, runner).(*ffmpegDriver)

	_, err := d.Probe(context.Background(), "/in.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrProbeFailed)
	assert.Contains(t, err.Error(), "timed out")
}
