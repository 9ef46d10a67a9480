package http_handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/anthanhphan/go-media-gallery/internal/gallery/config"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/domain"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/port"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/render"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/service"
	sdklogger "github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type Server struct {
	app         *fiber.App
	cfg         *config.Config
	service     port.GalleryController
	fingerprint port.Fingerprinter // nil when the backend has none
}

func NewServer(cfg *config.Config, svc port.GalleryController, fingerprint port.Fingerprinter) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit: int(cfg.App.MaxFileSize),
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{
		app:         app,
		cfg:         cfg,
		service:     svc,
		fingerprint: fingerprint,
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/", s.handlePage)
	s.app.Get("/api/records", s.handleRecords)
	s.app.Get("/api/progress", s.handleProgress)
	s.app.Post("/uploads", s.handleUpload)
	s.app.Post("/reload", s.handleReload)

	lb := s.app.Group("/lightbox")
	lb.Post("/open/:index", s.handleOpen)
	lb.Post("/close", s.handleClose)
	lb.Post("/next", s.handleNext)
	lb.Post("/prev", s.handlePrev)
	lb.Post("/key", s.handleKey)
	lb.Post("/backdrop", s.handleBackdrop)
	lb.Post("/delete", s.handleDelete)
	lb.Get("/download", s.handleDownload)
}

func (s *Server) Start() error {
	return s.app.Listen(s.cfg.Server.Addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) sendJSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

func wantsJSON(c *fiber.Ctx) bool {
	return strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON)
}

// done answers a lightbox action: the new lightbox state for API clients,
// otherwise a redirect back to the page.
func (s *Server) done(c *fiber.Ctx, changed bool) error {
	if !wantsJSON(c) {
		return c.Redirect("/", fiber.StatusSeeOther)
	}
	snap := s.service.Snapshot()
	resp := fiber.Map{
		"changed": changed,
		"index":   snap.Index,
	}
	if rec, ok := snap.Current(); ok {
		resp["current"] = rec
	}
	return c.JSON(resp)
}

func (s *Server) handlePage(c *fiber.Ctx) error {
	view := render.NewView(s.service.Snapshot(), s.service.Progress(), s.service.DrainToasts())

	var buf bytes.Buffer
	if err := render.Render(&buf, view); err != nil {
		sdklogger.Errorw("Page render failed", "error", err.Error())
		return s.sendJSONError(c, fiber.StatusInternalServerError, "Failed to render page")
	}

	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}

// handleRecords serves the current listing. Backends with a fingerprint get
// an ETag; a changed fingerprint triggers a reload before answering.
func (s *Server) handleRecords(c *fiber.Ctx) error {
	if s.fingerprint != nil {
		if fp := s.fingerprint.Fingerprint(); fp != "" {
			etag := `"` + fp + `"`
			if c.Get(fiber.HeaderIfNoneMatch) == etag {
				return c.SendStatus(fiber.StatusNotModified)
			}
			s.service.Reload(c.UserContext())
			c.Set(fiber.HeaderETag, etag)
		}
	}

	snap := s.service.Snapshot()
	resp := fiber.Map{
		"records":    snap.Records,
		"count_text": render.CountText(snap),
	}
	if snap.LoadErr != nil {
		resp["error"] = snap.LoadErr.Error()
	}
	return c.JSON(resp)
}

func (s *Server) handleProgress(c *fiber.Ctx) error {
	return c.JSON(s.service.Progress())
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Content-Type must be multipart/form-data")
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Missing 'files' part")
	}

	uploads := make([]domain.Upload, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			sdklogger.Warnw("Failed to read uploaded part", "file_name", fh.Filename, "error", err.Error())
			return s.sendJSONError(c, fiber.StatusBadRequest, fmt.Sprintf("Failed to read %s", fh.Filename))
		}
		uploads = append(uploads, domain.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get(fiber.HeaderContentType),
			Data:        data,
		})
	}

	report := s.service.HandleFiles(c.UserContext(), uploads)
	if !wantsJSON(c) {
		return c.Redirect("/", fiber.StatusSeeOther)
	}

	status := fiber.StatusCreated
	if len(report.Saved) == 0 {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(report)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func (s *Server) handleReload(c *fiber.Ctx) error {
	s.service.Reload(c.UserContext())
	return s.done(c, true)
}

func (s *Server) handleOpen(c *fiber.Ctx) error {
	index, err := c.ParamsInt("index")
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Invalid 'index' parameter")
	}
	return s.done(c, s.service.OpenLightbox(index))
}

func (s *Server) handleClose(c *fiber.Ctx) error {
	s.service.CloseLightbox()
	return s.done(c, true)
}

func (s *Server) handleNext(c *fiber.Ctx) error {
	return s.done(c, s.service.Next())
}

func (s *Server) handlePrev(c *fiber.Ctx) error {
	return s.done(c, s.service.Prev())
}

func (s *Server) handleKey(c *fiber.Ctx) error {
	return s.done(c, s.service.HandleKey(c.FormValue("key")))
}

func (s *Server) handleBackdrop(c *fiber.Ctx) error {
	return s.done(c, s.service.HandleBackdropClick(c.FormValue("target") == "backdrop"))
}

func (s *Server) handleDelete(c *fiber.Ctx) error {
	err := s.service.DeleteCurrent(c.UserContext(), c.FormValue("confirm") == "yes")
	if err == nil {
		return s.done(c, true)
	}
	if !wantsJSON(c) {
		return c.Redirect("/", fiber.StatusSeeOther)
	}

	switch {
	case errors.Is(err, service.ErrNotConfirmed):
		return s.sendJSONError(c, fiber.StatusBadRequest, "Deletion must be confirmed with confirm=yes")
	case errors.Is(err, domain.ErrNotFound):
		return s.sendJSONError(c, fiber.StatusNotFound, err.Error())
	default:
		return s.sendJSONError(c, fiber.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleDownload(c *fiber.Ctx) error {
	rec, ok := s.service.DownloadCurrent()
	if !ok {
		return s.sendJSONError(c, fiber.StatusNotFound, "No record open")
	}

	if rec.Locator.URL != "" {
		return c.Redirect(rec.Locator.URL, fiber.StatusFound)
	}

	contentType, data, err := domain.DecodeDataURL(rec.Locator.Payload)
	if err != nil {
		sdklogger.Errorw("Download failed", "record_id", rec.ID, "error", err.Error())
		return s.sendJSONError(c, fiber.StatusInternalServerError, "Stored payload is unreadable")
	}

	c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": rec.Name}))
	c.Set(fiber.HeaderContentType, contentType)
	return c.Send(data)
}
