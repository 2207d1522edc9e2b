package transcoder

import (
	"fmt"
	"strconv"
	"strings"
)

// ResolutionProfile defines a resolution and bitrate combination
type ResolutionProfile struct {
	Name         string
	Width        int
	Height       int
	VideoBitrate int64
	AudioBitrate int
}

// Standard resolution profiles
var profiles = []ResolutionProfile{
	{Name: "2160p", Width: 3840, Height: 2160, VideoBitrate: 20000000, AudioBitrate: 192000},
	{Name: "1440p", Width: 2560, Height: 1440, VideoBitrate: 10000000, AudioBitrate: 192000},
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: 6500000, AudioBitrate: 128000},
	{Name: "720p", Width: 1280, Height: 720, VideoBitrate: 3500000, AudioBitrate: 128000},
	{Name: "480p", Width: 854, Height: 480, VideoBitrate: 1500000, AudioBitrate: 96000},
	{Name: "360p", Width: 640, Height: 360, VideoBitrate: 900000, AudioBitrate: 96000},
	{Name: "240p", Width: 426, Height: 240, VideoBitrate: 500000, AudioBitrate: 64000},
}

// ParseResolution resolves a named resolution ("720p", "4K") or explicit
// dimensions ("1280x720") into a profile
func ParseResolution(s string) (ResolutionProfile, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "4k" {
		name = "2160p"
	}
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}

	if w, h, ok := strings.Cut(name, "x"); ok {
		width, werr := strconv.Atoi(w)
		height, herr := strconv.Atoi(h)
		if werr == nil && herr == nil && width > 0 && height > 0 {
			return ResolutionProfile{Name: name, Width: width, Height: height}, nil
		}
	}

	return ResolutionProfile{}, fmt.Errorf("unknown resolution %q", s)
}
