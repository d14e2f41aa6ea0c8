package model

import "fmt"

// VideoFormat is an immutable target (width, height, codec, bitrate) tuple.
type VideoFormat struct {
	Name       string
	Width      int
	Height     int
	VideoCodec string
	BitrateKbps int
}

// standardFormats are the predefined names a client may reference by name
// instead of supplying the full tuple.
var standardFormats = map[string]VideoFormat{
	"1080p": {Name: "1080p", Width: 1920, Height: 1080, VideoCodec: "libx264", BitrateKbps: 5000},
	"720p":  {Name: "720p", Width: 1280, Height: 720, VideoCodec: "libx264", BitrateKbps: 2500},
	"480p":  {Name: "480p", Width: 854, Height: 480, VideoCodec: "libx264", BitrateKbps: 1000},
	"360p":  {Name: "360p", Width: 640, Height: 360, VideoCodec: "libx264", BitrateKbps: 750},
}

// DefaultFormatNames is the format list used when a transcode request
// supplies none.
var DefaultFormatNames = []string{"1080p", "720p", "480p", "360p"}

// ExpandStandardFormat resolves a standard format name to its fixed tuple.
// It is an error to reference a name outside the predefined set.
func ExpandStandardFormat(name string) (VideoFormat, error) {
	f, ok := standardFormats[name]
	if !ok {
		return VideoFormat{}, fmt.Errorf("unknown standard format %q", name)
	}
	return f, nil
}

// ExpandStandardFormats resolves a list of standard format names in order,
// failing on the first unrecognized name.
func ExpandStandardFormats(names []string) ([]VideoFormat, error) {
	formats := make([]VideoFormat, 0, len(names))
	for _, name := range names {
		f, err := ExpandStandardFormat(name)
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	return formats, nil
}
