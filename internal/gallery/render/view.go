// Package render turns a gallery snapshot into the HTML page.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/anthanhphan/go-media-gallery/internal/gallery/domain"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/port"
)

const (
	textLoading   = "Buscando recuerdos..."
	textLoadError = "Error cargando recuerdos (Verifica el Token)"
	badgeImage    = "📷 Foto"
	badgeVideo    = "🎬 Video"
)

//go:embed templates/*.html
var templateFS embed.FS

var page = template.Must(template.New("page.html").ParseFS(templateFS, "templates/page.html"))

// Card is one grid entry.
type Card struct {
	Index   int
	Name    string
	Src     template.URL
	IsVideo bool
	Badge   string
	Size    string
}

// Lightbox is the full-screen viewer; nav buttons only exist when in bounds.
type Lightbox struct {
	Open    bool
	Index   int
	Name    string
	Src     template.URL
	IsVideo bool
	HasPrev bool
	HasNext bool
}

// ProgressBar mirrors the upload progress of the current batch.
type ProgressBar struct {
	Visible bool
	Percent int
	Text    string
}

// View is everything the page shows.
type View struct {
	CountText string
	Empty     bool
	Cards     []Card
	Lightbox  Lightbox
	Toasts    []port.Toast
	Progress  ProgressBar
}

// NewView derives the page contents from the current state.
func NewView(snap port.Snapshot, progress port.Progress, toasts []port.Toast) View {
	v := View{
		CountText: CountText(snap),
		Empty:     !snap.Loading && snap.LoadErr == nil && len(snap.Records) == 0,
		Cards:     make([]Card, 0, len(snap.Records)),
		Toasts:    toasts,
	}

	for i, rec := range snap.Records {
		v.Cards = append(v.Cards, Card{
			Index:   i,
			Name:    rec.Name,
			Src:     mediaSrc(rec),
			IsVideo: rec.MediaType == domain.MediaVideo,
			Badge:   badge(rec.MediaType),
			Size:    FormatSize(rec.SizeBytes),
		})
	}

	if rec, ok := snap.Current(); ok {
		v.Lightbox = Lightbox{
			Open:    true,
			Index:   snap.Index,
			Name:    rec.Name,
			Src:     mediaSrc(rec),
			IsVideo: rec.MediaType == domain.MediaVideo,
			HasPrev: snap.Index > 0,
			HasNext: snap.Index < len(snap.Records)-1,
		}
	}

	if progress.Phase == port.PhaseUploading || progress.Phase == port.PhaseSettled {
		v.Progress = ProgressBar{
			Visible: true,
			Percent: int(progress.Fraction * 100),
			Text:    progress.Text,
		}
	}
	return v
}

// Render writes the full page.
func Render(w io.Writer, v View) error {
	return page.Execute(w, v)
}

// CountText is the line above the grid: loading, error or the record count.
func CountText(snap port.Snapshot) string {
	switch {
	case snap.Loading:
		return textLoading
	case snap.LoadErr != nil:
		return textLoadError
	case len(snap.Records) == 0:
		return ""
	}
	n := len(snap.Records)
	if n > 1 {
		return fmt.Sprintf("%d recuerdos", n)
	}
	return fmt.Sprintf("%d recuerdo", n)
}

// FormatSize renders a byte count as B, KB or MB with one decimal.
func FormatSize(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	}
}

func badge(t domain.MediaType) string {
	if t == domain.MediaVideo {
		return badgeVideo
	}
	return badgeImage
}

// mediaSrc marks embedded payloads as safe only when they carry image or
// video bytes; anything else is left for the template to sanitize.
func mediaSrc(rec domain.Record) template.URL {
	src := rec.Locator.Src()
	scheme := strings.ToLower(src[:min(len(src), len("data:image/"))])
	if scheme == "data:image/" || scheme == "data:video/" {
		return template.URL(src) // #nosec G203
	}
	if strings.HasPrefix(scheme, "https://") || strings.HasPrefix(scheme, "http://") {
		return template.URL(src) // #nosec G203
	}
	return ""
}
