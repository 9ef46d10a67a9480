package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthanhphan/go-media-gallery/internal/gallery/config"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/domain"
	"github.com/anthanhphan/go-media-gallery/pkg/idgen"
)

type fixedClock struct{ ms int64 }

func (f *fixedClock) Now() int64 { return f.ms }

func newTestClient(t *testing.T, handler http.HandlerFunc, token string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	ids, err := idgen.New(1, &fixedClock{ms: 1771000000000})
	require.NoError(t, err)

	return New(config.GitHubConfig{
		APIBase:   server.URL,
		Owner:     "ana",
		Repo:      "memories",
		Path:      "recuerdos",
		Branch:    "main",
		Token:     token,
		TimeoutMS: 2000,
	}, ids)
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"mi foto (1).png", "mi_foto__1_.png"},
		{"día-de-playa.mp4", "d_a-de-playa.mp4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeName(tt.in))
	}
}

func TestCreatedAtFromName(t *testing.T) {
	at, ok := CreatedAtFromName("1771000000000-0004096_beach.jpg")
	require.True(t, ok)
	assert.Equal(t, int64(1771000000000), at.UnixMilli())

	at, ok = CreatedAtFromName("1700000000000_old.png")
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), at.UnixMilli())

	_, ok = CreatedAtFromName("beach.jpg")
	assert.False(t, ok)
}

func TestClient_ListFiltersEntries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/repos/ana/memories/contents/recuerdos", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		assert.Equal(t, "", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode([]contentItem{
			{Type: "file", Name: "1700000000000_a.jpg", Path: "recuerdos/1700000000000_a.jpg", SHA: "s1", Size: 10, DownloadURL: "https://raw/a.jpg"},
			{Type: "file", Name: ".gitkeep", Path: "recuerdos/.gitkeep", SHA: "s2"},
			{Type: "dir", Name: "albums", Path: "recuerdos/albums"},
			{Type: "file", Name: "notes.txt", Path: "recuerdos/notes.txt"},
			{Type: "file", Name: "1700000000001_b.mp4", Path: "recuerdos/1700000000001_b.mp4", SHA: "s3", Size: 20},
		})
	}, "")

	records, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "recuerdos/1700000000000_a.jpg", records[0].ID)
	assert.Equal(t, domain.MediaImage, records[0].MediaType)
	assert.Equal(t, "https://raw/a.jpg", records[0].Locator.Src())
	assert.Equal(t, "s1", records[0].Locator.Revision)
	assert.Equal(t, int64(1700000000000), records[0].CreatedAt.UnixMilli())
	assert.Equal(t, domain.MediaVideo, records[1].MediaType)
}

func TestClient_ListMissingFolderIsEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	}, "tok")

	records, err := client.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestClient_ListServerErrorIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	}, "bad")

	_, err := client.List(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBackendUnavailable))
	assert.Contains(t, err.Error(), "Bad credentials")
}

func TestClient_Add(t *testing.T) {
	var got putRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/repos/ana/memories/contents/recuerdos/1771000000000-0004096_mi_foto.png", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(putResponse{Content: contentItem{
			Type:        "file",
			Name:        "1771000000000-0004096_mi_foto.png",
			Path:        "recuerdos/1771000000000-0004096_mi_foto.png",
			SHA:         "abc",
			Size:        3,
			DownloadURL: "https://raw/mi_foto.png",
		}})
	}, "tok")

	record, err := client.Add(context.Background(), domain.Upload{
		Name:        "mi foto.png",
		ContentType: "image/png",
		Data:        []byte("png"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Add memory: mi foto.png", got.Message)
	assert.Equal(t, "main", got.Branch)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png")), got.Content)

	assert.Equal(t, "recuerdos/1771000000000-0004096_mi_foto.png", record.ID)
	assert.Equal(t, "abc", record.Locator.Revision)
	assert.Equal(t, domain.MediaImage, record.MediaType)
	assert.Equal(t, time.UnixMilli(1771000000000).UTC(), record.CreatedAt)
}

func TestClient_AddRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Invalid request"}`))
	}, "tok")

	_, err := client.Add(context.Background(), domain.Upload{Name: "a.png", ContentType: "image/png", Data: []byte("x")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrWriteRejected))
	assert.Contains(t, err.Error(), "Invalid request")
}

func TestClient_WritesWithoutTokenNeverHitTheAPI(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}, "")

	assert.ErrorIs(t, client.CanWrite(), domain.ErrWriteRejected)

	_, err := client.Add(context.Background(), domain.Upload{Name: "a.png", ContentType: "image/png"})
	assert.True(t, errors.Is(err, domain.ErrWriteRejected))
	assert.Contains(t, err.Error(), "no token set")

	err = client.Delete(context.Background(), domain.Record{ID: "recuerdos/a.png"})
	assert.True(t, errors.Is(err, domain.ErrWriteRejected))
}

func TestClient_Delete(t *testing.T) {
	var got deleteRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if strings.HasSuffix(r.URL.Path, "/gone.png") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"commit":{}}`))
	}, "tok")
	require.NoError(t, client.CanWrite())

	err := client.Delete(context.Background(), domain.Record{
		ID:      "recuerdos/1700000000000_a.jpg",
		Locator: domain.Locator{Path: "recuerdos/1700000000000_a.jpg", Revision: "s1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Delete memory: recuerdos/1700000000000_a.jpg", got.Message)
	assert.Equal(t, "s1", got.SHA)
	assert.Equal(t, "main", got.Branch)

	err = client.Delete(context.Background(), domain.Record{ID: "recuerdos/gone.png"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestClient_NotFoundDoesNotOpenCircuit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, "tok")

	for i := 0; i < 10; i++ {
		records, err := client.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, records)
	}
}

func TestClient_ServerErrorsOpenCircuit(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, "tok")

	for i := 0; i < 8; i++ {
		_, err := client.List(context.Background())
		assert.True(t, errors.Is(err, domain.ErrBackendUnavailable))
	}
	assert.Equal(t, int32(5), calls.Load(), "circuit should stop calls after the failure threshold")
}
