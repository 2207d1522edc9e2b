package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// OriginalKey is where the uploaded source of an asset is stored
func OriginalKey(contentID, assetID, filename string) string {
	return path.Join("originals", safe(contentID), assetID, safe(path.Base(filename)))
}

// RenditionKey is where a transcoded rendition is stored
func RenditionKey(assetID, resolution, format string) string {
	if format == "" {
		format = "mp4"
	}
	return path.Join("renditions", assetID, fmt.Sprintf("%s.%s", safe(resolution), format))
}

// SubtitleKey is where a subtitle track is stored
func SubtitleKey(assetID, language string, format models.SubtitleFormat) string {
	return path.Join("subtitles", assetID, fmt.Sprintf("%s.%s", safe(language), format))
}

// ThumbnailKey is where a thumbnail is stored
func ThumbnailKey(assetID string, atSeconds float64) string {
	return path.Join("thumbnails", assetID, fmt.Sprintf("%.0fs.jpg", atSeconds))
}

// MetadataKey is where the probe report of an asset is stored
func MetadataKey(assetID string) string {
	return path.Join("metadata", assetID, "probe.json")
}

// safe strips path separators so user input cannot escape its prefix
func safe(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}
