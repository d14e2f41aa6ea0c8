package mediadriver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/reelforge/transcoder/internal/xerrors"
)

// ffmpegDriver is the real Driver, spawning the configured probe/encode
// binaries through an injectable CommandRunner.
type ffmpegDriver struct {
	probeBinary  string
	encodeBinary string
	probeTimeout time.Duration
	logger       hclog.Logger
	runner       CommandRunner
}

// New creates the real, subprocess-driving Driver.
func New(probeBinary, encodeBinary string, probeTimeout time.Duration, logger hclog.Logger) Driver {
	return NewWithRunner(probeBinary, encodeBinary, probeTimeout, logger, execCommandRunner{})
}

// NewWithRunner creates a Driver backed by a caller-supplied CommandRunner,
// letting tests substitute a scripted backend for the real ffprobe/ffmpeg
// binaries.
func NewWithRunner(probeBinary, encodeBinary string, probeTimeout time.Duration, logger hclog.Logger, runner CommandRunner) Driver {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ffmpegDriver{
		probeBinary:  probeBinary,
		encodeBinary: encodeBinary,
		probeTimeout: probeTimeout,
		logger:       logger.Named("mediadriver"),
		runner:       runner,
	}
}

// timePattern matches ffmpeg/ffprobe-style progress timestamps
// (HH:MM:SS.cs), e.g. "time=00:01:23.45".
var timePattern = regexp.MustCompile(`(\d+):(\d{2}):(\d{2})\.(\d+)`)

// buildArgs constructs the encoder's argument list in a fixed order so
// invocations are deterministic and easy to diff in logs.
func buildArgs(req EncodeRequest) []string {
	var args []string

	args = append(args, "-i", req.InputPath)
	args = append(args, "-c:v", req.Format.VideoCodec)
	args = append(args, "-s", fmt.Sprintf("%dx%d", req.Format.Width, req.Format.Height))

	if req.Format.BitrateKbps > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%dk", req.Format.BitrateKbps))
	}
	if req.Options.TwoPass {
		args = append(args, "-pass", "1")
	}
	if req.Options.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(req.Options.CRF))
	}
	if req.Options.FrameRate > 0 {
		args = append(args, "-r", strconv.FormatFloat(req.Options.FrameRate, 'f', -1, 64))
	}

	if req.Options.AudioCodec != "" {
		args = append(args, "-c:a", req.Options.AudioCodec)
		if req.Options.AudioBitrate > 0 {
			args = append(args, "-b:a", fmt.Sprintf("%dk", req.Options.AudioBitrate))
		}
	} else {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	}

	args = append(args, "-y", req.OutputPath)
	return args
}

// Encode spawns the encoder with the fixed argument contract, consuming
// its merged stdout/stderr line-by-line and reporting progress parsed
// from any HH:MM:SS.cs-style timestamp against the source's known
// duration.
func (d *ffmpegDriver) Encode(ctx context.Context, req EncodeRequest, progress ProgressFunc) error {
	args := buildArgs(req)

	stdout, wait, err := d.runner.Start(ctx, d.encodeBinary, args...)
	if err != nil {
		progress(-1, "failed to start encoder")
		return xerrors.InternalErr("mediadriver.encode", fmt.Errorf("%w: spawning: %v", xerrors.ErrEncodeFailed, err))
	}

	durationSeconds := req.durationSeconds()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if match := timePattern.FindStringSubmatch(line); match != nil {
			current := parseTimePosition(match)
			percent := 0
			if durationSeconds > 0 {
				percent = clampPercent(int(100 * current / durationSeconds))
			}
			progress(percent, req.StageName)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		d.logger.Warn("scanning encoder output", "error", err)
	}

	if err := wait(); err != nil {
		msg := fmt.Sprintf("encoder exited with error: %v", err)
		progress(-1, msg)
		return xerrors.InternalErr("mediadriver.encode", fmt.Errorf("%w: %v", xerrors.ErrEncodeFailed, err))
	}
	return nil
}

func parseTimePosition(match []string) float64 {
	hours, _ := strconv.Atoi(match[1])
	mins, _ := strconv.Atoi(match[2])
	secs, _ := strconv.Atoi(match[3])
	centis, _ := strconv.Atoi(match[4])
	return float64(hours*3600+mins*60+secs) + float64(centis)/100
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
