package domain

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// BackendKind identifies which storage implementation produced a record.
type BackendKind string

const (
	BackendRemote BackendKind = "remote"
	BackendLocal  BackendKind = "local"
)

// Locator is the backend-specific reference used to fetch a record's bytes.
// Remote records carry URL, Path and Revision; local records carry Payload.
type Locator struct {
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	Revision string `json:"revision,omitempty"`
	Payload  string `json:"payload,omitempty"`
}

// Src returns the address a browser can load the media from.
func (l Locator) Src() string {
	if l.URL != "" {
		return l.URL
	}
	return l.Payload
}

// Record is one stored media item.
type Record struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	MediaType   MediaType `json:"media_type"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	Locator     Locator   `json:"locator"`
}

// Upload is a single file handed to a backend for persistence.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// DataURL embeds data into a data: URL with the given MIME type.
func DataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
}

// DecodeDataURL is the inverse of DataURL.
func DecodeDataURL(payload string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(payload, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data url")
	}
	contentType, encoded, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return "", nil, fmt.Errorf("data url is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("decode data url: %w", err)
	}
	return contentType, data, nil
}
