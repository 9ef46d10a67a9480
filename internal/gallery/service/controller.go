package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anthanhphan/go-media-gallery/internal/gallery/config"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/domain"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/port"
	"github.com/anthanhphan/gosdk/logger"
)

// ErrNotConfirmed is returned when a deletion arrives without confirmation.
var ErrNotConfirmed = errors.New("deletion not confirmed")

const (
	msgDeleted      = "Recuerdo eliminado"
	msgDeleteFailed = "Error al eliminar (permisos?)"

	// remoteRefreshDelay gives the content API time to reflect new commits.
	remoteRefreshDelay = 2 * time.Second
)

// GalleryServiceImpl drives the gallery from user input: upload batches,
// lightbox navigation and deletion.
type GalleryServiceImpl struct {
	backend port.Backend
	state   *galleryState
	uploads *uploadService
	toasts  *notifier

	batchMu      sync.Mutex // one upload batch at a time
	progressMu   sync.RWMutex
	progress     port.Progress
	refreshDelay time.Duration
}

// Ensure GalleryServiceImpl implements port.GalleryController
var _ port.GalleryController = (*GalleryServiceImpl)(nil)

// NewGalleryService creates the gallery controller over one backend.
func NewGalleryService(backend port.Backend, cfg config.AppConfig) *GalleryServiceImpl {
	toasts := newNotifier()

	delay := time.Duration(cfg.RefreshDelayMS) * time.Millisecond
	if cfg.RefreshDelayMS < 0 {
		delay = 0
		if backend.Kind() == domain.BackendRemote {
			delay = remoteRefreshDelay
		}
	}

	return &GalleryServiceImpl{
		backend:      backend,
		state:        newGalleryState(backend),
		uploads:      newUploadService(backend, toasts),
		toasts:       toasts,
		progress:     port.Progress{Phase: port.PhaseIdle},
		refreshDelay: delay,
	}
}

// Reload fetches the listing again. A failure is kept in the snapshot for
// the view.
func (s *GalleryServiceImpl) Reload(ctx context.Context) {
	if err := s.state.load(ctx); err != nil {
		logger.Errorw("Failed to load gallery", "backend", s.backend.Kind(), "error", err.Error())
	}
}

func (s *GalleryServiceImpl) Snapshot() port.Snapshot {
	return s.state.snapshot()
}

func (s *GalleryServiceImpl) Progress() port.Progress {
	s.progressMu.RLock()
	defer s.progressMu.RUnlock()
	return s.progress
}

func (s *GalleryServiceImpl) DrainToasts() []port.Toast {
	return s.toasts.drain()
}

// HandleFiles runs one batch to completion: validation, sequential uploads,
// the refresh delay and a reload. A batch is never cancelled once started.
func (s *GalleryServiceImpl) HandleFiles(ctx context.Context, files []domain.Upload) port.UploadReport {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	report := s.uploads.uploadBatch(ctx, files, s.setProgress)
	if s.Progress().Phase != port.PhaseSettled {
		return report
	}

	if s.refreshDelay > 0 {
		time.Sleep(s.refreshDelay)
	}
	s.Reload(ctx)
	s.setProgress(port.Progress{Phase: port.PhaseIdle})
	return report
}

func (s *GalleryServiceImpl) OpenLightbox(index int) bool {
	return s.state.open(index)
}

func (s *GalleryServiceImpl) CloseLightbox() {
	s.state.close()
}

func (s *GalleryServiceImpl) Next() bool {
	return s.state.next()
}

func (s *GalleryServiceImpl) Prev() bool {
	return s.state.prev()
}

// HandleKey applies a key press. Keys only act while the lightbox is open.
func (s *GalleryServiceImpl) HandleKey(key string) bool {
	if !s.state.isOpen() {
		return false
	}
	switch key {
	case "Escape":
		s.state.close()
		return true
	case "ArrowLeft":
		return s.state.prev()
	case "ArrowRight":
		return s.state.next()
	default:
		return false
	}
}

// HandleBackdropClick closes the lightbox when the click landed outside the
// media content.
func (s *GalleryServiceImpl) HandleBackdropClick(onBackdrop bool) bool {
	if !onBackdrop || !s.state.isOpen() {
		return false
	}
	s.state.close()
	return true
}

// DeleteCurrent removes the record open in the lightbox. It does nothing
// when the lightbox is closed.
func (s *GalleryServiceImpl) DeleteCurrent(ctx context.Context, confirmed bool) error {
	record, ok := s.state.snapshot().Current()
	if !ok {
		return nil
	}
	if !confirmed {
		return ErrNotConfirmed
	}

	if err := s.backend.Delete(ctx, record); err != nil {
		logger.Errorw("Delete failed", "record_id", record.ID, "error", err.Error())
		s.toasts.failure(msgDeleteFailed)
		return err
	}

	logger.Infow("Record deleted", "record_id", record.ID, "name", record.Name)
	s.toasts.success(msgDeleted)
	s.state.close()
	if err := s.state.load(ctx, record.ID); err != nil {
		logger.Errorw("Failed to reload gallery after delete", "error", err.Error())
	}
	return nil
}

func (s *GalleryServiceImpl) DownloadCurrent() (domain.Record, bool) {
	return s.state.snapshot().Current()
}

func (s *GalleryServiceImpl) setProgress(p port.Progress) {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	s.progress = p
}
