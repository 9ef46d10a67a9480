package port

import (
	"context"

	"github.com/anthanhphan/go-media-gallery/internal/gallery/domain"
)

//go:generate mockgen -destination=../service/mocks/backend_mock.go -package=mocks -source=backend.go

// Backend persists media records. The remote and local implementations are
// interchangeable.
type Backend interface {
	// List returns every stored record. It fails with domain.ErrBackendUnavailable
	// when the backend cannot be reached.
	List(ctx context.Context) ([]domain.Record, error)

	// Add stores one file and returns the created record. It fails with
	// domain.ErrWriteRejected on quota, permission or network errors.
	Add(ctx context.Context, upload domain.Upload) (domain.Record, error)

	// Delete removes a record. It fails with domain.ErrNotFound or
	// domain.ErrWriteRejected.
	Delete(ctx context.Context, record domain.Record) error

	// Kind reports which ordering the records of this backend follow.
	Kind() domain.BackendKind
}

// Fingerprinter is implemented by backends that can cheaply summarize their
// current record set.
type Fingerprinter interface {
	Fingerprint() string
}

// WriteChecker is implemented by backends that can tell up front that every
// write would be rejected, e.g. a remote backend without credentials.
type WriteChecker interface {
	CanWrite() error
}
