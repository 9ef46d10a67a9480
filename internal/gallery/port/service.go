package port

import (
	"context"

	"github.com/anthanhphan/go-media-gallery/internal/gallery/domain"
)

// Phase is the upload state of the input controller.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseValidating Phase = "validating"
	PhaseUploading  Phase = "uploading"
	PhaseSettled    Phase = "settled"
)

// ToastKind separates success notifications from errors.
type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
)

// Toast is a transient user-visible notification.
type Toast struct {
	Kind    ToastKind `json:"kind"`
	Message string    `json:"message"`
}

// Progress describes the batch currently being uploaded.
type Progress struct {
	BatchID   string  `json:"batch_id,omitempty"`
	Phase     Phase   `json:"phase"`
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Fraction  float64 `json:"fraction"`
	Text      string  `json:"text"`
}

// FileError pairs a file name with the reason it was not stored.
type FileError struct {
	Name string `json:"name"`
	Err  string `json:"error"`
}

// UploadReport is the outcome of one batch.
type UploadReport struct {
	BatchID  string          `json:"batch_id"`
	Saved    []domain.Record `json:"saved"`
	Rejected []string        `json:"rejected"`
	Failed   []FileError     `json:"failed"`
	Toasts   []Toast         `json:"toasts"`
}

// Snapshot is an immutable copy of the gallery state used for rendering.
type Snapshot struct {
	Records []domain.Record
	Index   int
	Loading bool
	LoadErr error
}

// Current returns the record open in the lightbox.
func (s Snapshot) Current() (domain.Record, bool) {
	if s.Index < 0 || s.Index >= len(s.Records) {
		return domain.Record{}, false
	}
	return s.Records[s.Index], true
}

// GalleryController is what the transport layer drives.
type GalleryController interface {
	Reload(ctx context.Context)
	Snapshot() Snapshot
	Progress() Progress
	DrainToasts() []Toast

	HandleFiles(ctx context.Context, files []domain.Upload) UploadReport

	OpenLightbox(index int) bool
	CloseLightbox()
	Next() bool
	Prev() bool
	HandleKey(key string) bool
	HandleBackdropClick(onBackdrop bool) bool

	DeleteCurrent(ctx context.Context, confirmed bool) error
	DownloadCurrent() (domain.Record, bool)
}
