package service

import (
	"context"
	"fmt"

	"github.com/anthanhphan/go-media-gallery/internal/gallery/domain"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/port"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/google/uuid"
)

const (
	msgOnlyMedia = "Solo se permiten fotos y videos"
	msgNoToken   = "Error: Token de GitHub no configurado"
	msgDone      = "¡Listo!"
)

// uploadService validates a batch and stores the accepted files one at a time.
type uploadService struct {
	backend    port.Backend
	toasts     *notifier
	newBatchID func() string
}

func newUploadService(backend port.Backend, toasts *notifier) *uploadService {
	return &uploadService{
		backend:    backend,
		toasts:     toasts,
		newBatchID: uuid.NewString,
	}
}

// uploadBatch runs validation and the sequential upload loop, reporting
// progress after every step. A failed file is reported and skipped.
func (u *uploadService) uploadBatch(ctx context.Context, files []domain.Upload, report func(port.Progress)) port.UploadReport {
	result := port.UploadReport{BatchID: u.newBatchID()}

	if checker, ok := u.backend.(port.WriteChecker); ok {
		if err := checker.CanWrite(); err != nil {
			logger.Warnw("Upload batch skipped, backend is read-only", "batch_id", result.BatchID, "files", len(files), "error", err.Error())
			for _, f := range files {
				result.Failed = append(result.Failed, port.FileError{Name: f.Name, Err: err.Error()})
			}
			result.Toasts = append(result.Toasts, u.toasts.failure(msgNoToken))
			report(port.Progress{Phase: port.PhaseIdle})
			return result
		}
	}

	report(port.Progress{BatchID: result.BatchID, Phase: port.PhaseValidating, Total: len(files)})

	accepted := make([]domain.Upload, 0, len(files))
	for _, f := range files {
		if domain.IsAcceptedMIME(f.ContentType) {
			accepted = append(accepted, f)
			continue
		}
		result.Rejected = append(result.Rejected, f.Name)
	}
	if len(result.Rejected) > 0 {
		logger.Infow("Rejected non-media files", "batch_id", result.BatchID, "rejected", len(result.Rejected))
		result.Toasts = append(result.Toasts, u.toasts.failure(msgOnlyMedia))
	}
	if len(accepted) == 0 {
		report(port.Progress{Phase: port.PhaseIdle})
		return result
	}

	total := len(accepted)
	logger.Infow("Upload batch started", "batch_id", result.BatchID, "files", total, "backend", u.backend.Kind())

	for i, f := range accepted {
		report(port.Progress{
			BatchID:   result.BatchID,
			Phase:     port.PhaseUploading,
			Processed: i,
			Total:     total,
			Fraction:  float64(i) / float64(total),
			Text:      fmt.Sprintf("Subiendo %d de %d...", i+1, total),
		})

		record, err := u.backend.Add(ctx, f)
		if err != nil {
			logger.Errorw("Upload failed", "batch_id", result.BatchID, "file_name", f.Name, "error", err.Error())
			result.Failed = append(result.Failed, port.FileError{Name: f.Name, Err: err.Error()})
			result.Toasts = append(result.Toasts, u.toasts.failure("Error: "+err.Error()))
			continue
		}
		result.Saved = append(result.Saved, record)
	}

	report(port.Progress{
		BatchID:   result.BatchID,
		Phase:     port.PhaseSettled,
		Processed: total,
		Total:     total,
		Fraction:  1,
		Text:      msgDone,
	})

	n := len(result.Saved)
	result.Toasts = append(result.Toasts, u.toasts.success(savedMessage(n)))
	logger.Infow("Upload batch settled", "batch_id", result.BatchID, "saved", n, "failed", len(result.Failed))
	return result
}

func savedMessage(n int) string {
	s := plural(n)
	return fmt.Sprintf("%d recuerdo%s guardado%s ❤️", n, s, s)
}

func plural(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}
