package mediadriver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/reelforge/transcoder/internal/model"
	"github.com/reelforge/transcoder/internal/xerrors"
)

// probeResult mirrors ffprobe's `-print_format json -show_format
// -show_streams` output, trimmed to the fields this driver needs.
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		BitRate   string `json:"bit_rate"`
	} `json:"streams"`
}

// Probe spawns ffprobe (or the configured probe binary) bounded by the
// driver's probe timeout (30s in the default config), force-killing on
// breach, and parses its
// JSON output into Metadata with a real JSON decoder rather than
// substring matching.
func (d *ffmpegDriver) Probe(ctx context.Context, inputPath string) (model.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()

	out, err := d.runner.Run(ctx, d.probeBinary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	)
	if ctx.Err() == context.DeadlineExceeded {
		return model.Metadata{}, xerrors.InternalErr("mediadriver.probe", fmt.Errorf("%w: timed out after %s", xerrors.ErrProbeFailed, d.probeTimeout))
	}
	if err != nil {
		return model.Metadata{}, xerrors.InternalErr("mediadriver.probe", fmt.Errorf("%w: %v", xerrors.ErrProbeFailed, err))
	}

	var result probeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return model.Metadata{}, xerrors.InternalErr("mediadriver.probe", fmt.Errorf("%w: parsing probe output: %v", xerrors.ErrProbeFailed, err))
	}

	meta := model.Metadata{}
	if result.Format.Duration != "" {
		if secs, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
			meta.DurationSeconds = secs
		}
	}
	if meta.DurationSeconds <= 0 {
		return model.Metadata{}, xerrors.InternalErr("mediadriver.probe", fmt.Errorf("%w: no duration in probe output", xerrors.ErrProbeFailed))
	}
	if br, err := strconv.Atoi(result.Format.BitRate); err == nil {
		meta.BitrateKbps = br / 1000
	}

	for _, s := range result.Streams {
		switch s.CodecType {
		case "video":
			if meta.VideoCodec == "" {
				meta.VideoCodec = s.CodecName
				meta.Width = s.Width
				meta.Height = s.Height
			}
		case "audio":
			if meta.AudioCodec == "" {
				meta.AudioCodec = s.CodecName
			}
		}
	}

	return meta, nil
}
