package localstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthanhphan/go-media-gallery/internal/gallery/config"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/domain"
)

func openTestStore(t *testing.T, dir string, mutate func(*config.LocalConfig)) *Store {
	t.Helper()
	cfg := config.LocalConfig{DataDir: dir}
	if mutate != nil {
		mutate(&cfg)
	}
	store, err := Open(cfg)
	require.NoError(t, err)
	return store
}

// steppingClock returns a time that advances one second per call.
func steppingClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(time.Second)
		return now
	}
}

func TestStore_AddListNewestFirst(t *testing.T) {
	store := openTestStore(t, t.TempDir(), nil)
	defer func() { _ = store.Close() }()
	store.now = steppingClock(time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC))

	ctx := context.Background()
	first, err := store.Add(ctx, domain.Upload{Name: "a.png", ContentType: "image/png", Data: []byte("one")})
	require.NoError(t, err)
	second, err := store.Add(ctx, domain.Upload{Name: "b.mp4", ContentType: "video/mp4", Data: []byte("two")})
	require.NoError(t, err)

	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "2", second.ID)
	assert.Equal(t, domain.MediaVideo, second.MediaType)
	assert.Equal(t, int64(3), second.SizeBytes)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2", records[0].ID)
	assert.Equal(t, "1", records[1].ID)

	contentType, data, err := domain.DecodeDataURL(records[1].Locator.Src())
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
	assert.Equal(t, []byte("one"), data)
}

func TestStore_DeleteAndNotFound(t *testing.T) {
	store := openTestStore(t, t.TempDir(), nil)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	rec, err := store.Add(ctx, domain.Upload{Name: "a.png", ContentType: "image/png", Data: []byte("one")})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, rec))

	records, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	err = store.Delete(ctx, rec)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)

	err = store.Delete(ctx, domain.Record{ID: "not-a-number"})
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}

func TestStore_PersistenceAndIDsNeverReused(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store1 := openTestStore(t, dir, nil)
	a, _ := store1.Add(ctx, domain.Upload{Name: "a.png", ContentType: "image/png", Data: []byte("a")})
	b, _ := store1.Add(ctx, domain.Upload{Name: "b.png", ContentType: "image/png", Data: []byte("b")})
	require.NoError(t, store1.Delete(ctx, b))
	require.NoError(t, store1.Close())

	store2 := openTestStore(t, dir, nil)
	defer func() { _ = store2.Close() }()

	records, err := store2.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, a.ID, records[0].ID)
	assert.Equal(t, "a.png", records[0].Name)

	c, err := store2.Add(ctx, domain.Upload{Name: "c.png", ContentType: "image/png", Data: []byte("c")})
	require.NoError(t, err)
	assert.Equal(t, "3", c.ID, "deleted id 2 must not be reused")
}

func TestStore_TruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store1 := openTestStore(t, dir, nil)
	_, err := store1.Add(ctx, domain.Upload{Name: "a.png", ContentType: "image/png", Data: []byte("intact")})
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	segment := filepath.Join(dir, "segment_00001.log")
	f, err := os.OpenFile(segment, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	partial := encodeEntry(opPut, 2, []byte(`{"name":"b.png"}`), []byte("lost"))
	_, err = f.Write(partial[:len(partial)-3])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	store2 := openTestStore(t, dir, nil)
	defer func() { _ = store2.Close() }()

	records, err := store2.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a.png", records[0].Name)

	next, err := store2.Add(ctx, domain.Upload{Name: "b.png", ContentType: "image/png", Data: []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, "2", next.ID)
}

func TestStore_QuotaRejectsWrites(t *testing.T) {
	store := openTestStore(t, t.TempDir(), func(cfg *config.LocalConfig) {
		cfg.QuotaBytes = 256
	})
	defer func() { _ = store.Close() }()

	_, err := store.Add(context.Background(), domain.Upload{
		Name:        "big.png",
		ContentType: "image/png",
		Data:        make([]byte, 512),
	})
	assert.True(t, errors.Is(err, domain.ErrWriteRejected), "got %v", err)

	records, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_CompactKeepsLiveRecords(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := openTestStore(t, dir, func(cfg *config.LocalConfig) {
		cfg.MaxSegmentSize = 128
	})
	var kept []domain.Record
	for i := 0; i < 6; i++ {
		rec, err := store.Add(ctx, domain.Upload{Name: "photo.jpg", ContentType: "image/jpeg", Data: make([]byte, 100)})
		require.NoError(t, err)
		if i%2 == 0 {
			require.NoError(t, store.Delete(ctx, rec))
		} else {
			kept = append(kept, rec)
		}
	}

	before := store.Fingerprint()
	require.NoError(t, store.Compact())
	assert.Equal(t, before, store.Fingerprint())

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, len(kept))
	require.NoError(t, store.Close())

	reopened := openTestStore(t, dir, nil)
	defer func() { _ = reopened.Close() }()
	records, err = reopened.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, len(kept))

	next, err := reopened.Add(ctx, domain.Upload{Name: "x.jpg", ContentType: "image/jpeg", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "7", next.ID)
}

func TestStore_FingerprintTracksRecordSet(t *testing.T) {
	store := openTestStore(t, t.TempDir(), nil)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	assert.Equal(t, "", store.Fingerprint())

	rec, err := store.Add(ctx, domain.Upload{Name: "a.gif", ContentType: "image/gif", Data: []byte("gif")})
	require.NoError(t, err)
	withOne := store.Fingerprint()
	assert.NotEmpty(t, withOne)

	require.NoError(t, store.Delete(ctx, rec))
	assert.Equal(t, "", store.Fingerprint())
}

func TestStore_RejectsNonMedia(t *testing.T) {
	store := openTestStore(t, t.TempDir(), nil)
	defer func() { _ = store.Close() }()

	_, err := store.Add(context.Background(), domain.Upload{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hi")})
	assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
}

func TestStore_NormalizesContentType(t *testing.T) {
	store := openTestStore(t, t.TempDir(), nil)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	rec, err := store.Add(ctx, domain.Upload{Name: "a.JPG", ContentType: "Image/JPEG; charset=binary", Data: []byte("a")})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", rec.ContentType)
	assert.True(t, strings.HasPrefix(rec.Locator.Payload, "data:image/jpeg;base64,"), rec.Locator.Payload)

	rec, err = store.Add(ctx, domain.Upload{Name: "clip.mp4", Data: []byte("v")})
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", rec.ContentType)

	records, err := store.List(ctx)
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, strings.ToLower(r.ContentType), r.ContentType)
	}
}
