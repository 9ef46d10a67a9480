package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthanhphan/go-media-gallery/internal/gallery/config"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/domain"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/port"
	"github.com/anthanhphan/go-media-gallery/pkg/idgen"
	"github.com/anthanhphan/go-media-gallery/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

const placeholderName = ".gitkeep"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// IDGenerator issues the time-ordered ids used as file name prefixes.
type IDGenerator interface {
	Next() (int64, error)
}

// Client is the remote backend: media files stored in one folder of a GitHub
// repository through the contents API.
type Client struct {
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	ids        IDGenerator

	apiBase string
	owner   string
	repo    string
	folder  string
	branch  string
	token   string
}

var (
	_ port.Backend      = (*Client)(nil)
	_ port.WriteChecker = (*Client)(nil)
)

// apiError is a non-2xx answer from the API.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github api status %d", e.Status)
	}
	return fmt.Sprintf("github api status %d: %s", e.Status, e.Message)
}

type contentItem struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
}

type deleteRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch,omitempty"`
}

type putResponse struct {
	Content contentItem `json:"content"`
}

func New(cfg config.GitHubConfig, ids IDGenerator) *Client {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "github",
			FailureThreshold: 5,
			OpenTimeout:      15 * time.Second,
			IsFailure:        isTransientFailure,
			OnStateChange:    logCircuitChange,
		}),
		ids:     ids,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		folder:  strings.Trim(cfg.Path, "/"),
		branch:  cfg.Branch,
		token:   cfg.Token,
	}
}

func (c *Client) Kind() domain.BackendKind {
	return domain.BackendRemote
}

// List returns every media file in the folder. A missing folder is an empty
// gallery.
func (c *Client) List(ctx context.Context) ([]domain.Record, error) {
	endpoint := c.contentsURL(c.folder)
	if c.branch != "" {
		endpoint += "?ref=" + url.QueryEscape(c.branch)
	}

	var items []contentItem
	err := c.call(ctx, http.MethodGet, endpoint, nil, &items)
	if isStatus(err, http.StatusNotFound) {
		return []domain.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}

	records := make([]domain.Record, 0, len(items))
	for _, item := range items {
		if item.Type != "file" || item.Name == placeholderName {
			continue
		}
		mediaType, ok := domain.MediaTypeFromName(item.Name)
		if !ok {
			logger.Warnw("Skipping non-media file in gallery folder", "path", item.Path)
			continue
		}
		records = append(records, toRecord(item, mediaType))
	}
	return records, nil
}

// CanWrite fails when no token is configured; the API would reject every
// write.
func (c *Client) CanWrite() error {
	if c.token == "" {
		return fmt.Errorf("%w: no token set", domain.ErrWriteRejected)
	}
	return nil
}

// Add uploads one file as <prefix>_<safe name>.
func (c *Client) Add(ctx context.Context, upload domain.Upload) (domain.Record, error) {
	if err := c.CanWrite(); err != nil {
		return domain.Record{}, err
	}

	mediaType, ok := domain.MediaTypeFromMIME(upload.ContentType)
	if !ok {
		if mediaType, ok = domain.MediaTypeFromName(upload.Name); !ok {
			return domain.Record{}, fmt.Errorf("%w: %s is not an image or video", domain.ErrValidation, upload.Name)
		}
	}

	id, err := c.ids.Next()
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", domain.ErrWriteRejected, err)
	}
	filePath := path.Join(c.folder, idgen.Format(id)+"_"+SafeName(upload.Name))

	req := putRequest{
		Message: "Add memory: " + upload.Name,
		Content: base64.StdEncoding.EncodeToString(upload.Data),
		Branch:  c.branch,
	}
	var resp putResponse
	if err := c.call(ctx, http.MethodPut, c.contentsURL(filePath), req, &resp); err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", domain.ErrWriteRejected, err)
	}

	item := resp.Content
	if item.Path == "" {
		item.Path = filePath
		item.Name = path.Base(filePath)
	}
	if item.Size == 0 {
		item.Size = int64(len(upload.Data))
	}

	record := toRecord(item, mediaType)
	record.CreatedAt = idgen.TimeOf(id).UTC()
	if upload.ContentType != "" {
		record.ContentType = upload.ContentType
	}

	logger.Debugw("Uploaded file to repository", "path", record.ID, "size_bytes", record.SizeBytes)
	return record, nil
}

// Delete removes the file at the record's path. The API requires the blob
// sha the record was listed with.
func (c *Client) Delete(ctx context.Context, record domain.Record) error {
	if err := c.CanWrite(); err != nil {
		return err
	}

	filePath := record.Locator.Path
	if filePath == "" {
		filePath = record.ID
	}

	req := deleteRequest{
		Message: "Delete memory: " + filePath,
		SHA:     record.Locator.Revision,
		Branch:  c.branch,
	}
	err := c.call(ctx, http.MethodDelete, c.contentsURL(filePath), req, nil)
	switch {
	case isStatus(err, http.StatusNotFound):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, filePath)
	case err != nil:
		return fmt.Errorf("%w: %v", domain.ErrWriteRejected, err)
	}
	return nil
}

// SafeName replaces every character outside [a-zA-Z0-9.-] with an underscore.
func SafeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// CreatedAtFromName recovers the upload time from the leading millisecond
// timestamp of a stored file name.
func CreatedAtFromName(name string) (time.Time, bool) {
	if len(name) < 13 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(name[:13], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	if len(name) > 13 && name[13] != '_' && name[13] != '-' {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

func (c *Client) contentsURL(filePath string) string {
	segments := strings.Split(strings.Trim(filePath, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.apiBase, url.PathEscape(c.owner), url.PathEscape(c.repo), strings.Join(segments, "/"))
}

// call runs one API request through the circuit breaker and decodes a JSON
// answer into out when out is not nil.
func (c *Client) call(ctx context.Context, method, endpoint string, body, out any) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to encode request: %w", err)
			}
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var apiResp struct {
				Message string `json:"message"`
			}
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			_ = json.Unmarshal(raw, &apiResp)
			return &apiError{Status: resp.StatusCode, Message: apiResp.Message}
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

func isStatus(err error, status int) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// isTransientFailure keeps client errors such as 404 or 422 from opening the
// circuit; only transport errors, throttling and server errors count.
func isTransientFailure(err error) bool {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
}

func logCircuitChange(name string, from, to resilience.CircuitBreakerState) {
	if to == resilience.CircuitOpen {
		logger.Warnw("Circuit opened, pausing repository calls", "circuit", name, "from", string(from))
		return
	}
	logger.Infow("Circuit state changed", "circuit", name, "from", string(from), "to", string(to))
}

func toRecord(item contentItem, mediaType domain.MediaType) domain.Record {
	createdAt, _ := CreatedAtFromName(item.Name)
	return domain.Record{
		ID:          item.Path,
		Name:        item.Name,
		MediaType:   mediaType,
		ContentType: mime.TypeByExtension(path.Ext(item.Name)),
		SizeBytes:   item.Size,
		CreatedAt:   createdAt,
		Locator: domain.Locator{
			URL:      item.DownloadURL,
			Path:     item.Path,
			Revision: item.SHA,
		},
	}
}
