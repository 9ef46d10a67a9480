package domain

import (
	"mime"
	"path/filepath"
	"strings"
)

// MediaType is the coarse kind of a record, fixed when the record is created.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

var (
	imageExtensions = map[string]struct{}{"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {}}
	videoExtensions = map[string]struct{}{"mp4": {}, "webm": {}, "mov": {}}

	// videoMIME covers extensions missing from the builtin mime table.
	videoMIME = map[string]string{"mp4": "video/mp4", "webm": "video/webm", "mov": "video/quicktime"}
)

// MediaTypeFromMIME classifies a MIME type such as "image/png".
// The second return is false for anything that is not an image or a video.
func MediaTypeFromMIME(contentType string) (MediaType, bool) {
	major, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), "/")
	switch major {
	case "image":
		return MediaImage, true
	case "video":
		return MediaVideo, true
	default:
		return "", false
	}
}

// MediaTypeFromName classifies a file by its extension, falling back to the
// MIME type registered for that extension.
func MediaTypeFromName(name string) (MediaType, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if _, ok := imageExtensions[ext]; ok {
		return MediaImage, true
	}
	if _, ok := videoExtensions[ext]; ok {
		return MediaVideo, true
	}
	if ext == "" {
		return "", false
	}
	return MediaTypeFromMIME(mime.TypeByExtension("." + ext))
}

// NormalizeContentType lowercases a MIME type and drops its parameters. An
// empty or unparsable type is derived from the file name instead.
func NormalizeContentType(contentType, name string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	ext := strings.ToLower(filepath.Ext(name))
	if byExt, ok := videoMIME[strings.TrimPrefix(ext, ".")]; ok {
		return byExt
	}
	if mediaType, _, err := mime.ParseMediaType(mime.TypeByExtension(ext)); err == nil {
		return mediaType
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// IsAcceptedMIME reports whether an upload with this MIME type may reach a backend.
func IsAcceptedMIME(contentType string) bool {
	_, ok := MediaTypeFromMIME(contentType)
	return ok
}
