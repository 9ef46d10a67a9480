package localstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/anthanhphan/go-media-gallery/internal/gallery/config"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/domain"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/port"
	"github.com/anthanhphan/go-media-gallery/pkg/merkle"
	"github.com/anthanhphan/go-media-gallery/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

const (
	// DefaultMaxSegmentSize is 64MB
	DefaultMaxSegmentSize = 64 * 1024 * 1024
	SegmentPrefix         = "segment_"
	SegmentSuffix         = ".log"

	fingerprintBuckets = 64
	minDeadBytes       = 4 * 1024 * 1024
)

// recordMeta is the JSON header stored in front of each record's bytes.
type recordMeta struct {
	Name        string           `json:"name"`
	MediaType   domain.MediaType `json:"media_type"`
	ContentType string           `json:"content_type"`
	SizeBytes   int64            `json:"size_bytes"`
	CreatedAt   time.Time        `json:"created_at"`
}

// indexEntry stores where a live record sits on disk.
type indexEntry struct {
	SegmentID uint64
	Offset    int64
	Size      int64
	Meta      recordMeta
}

// Store is the local backend: one record store keyed by an auto-incrementing
// id with a secondary index on creation time, persisted as segmented
// append-only logs.
type Store struct {
	mu           sync.RWMutex
	compactionMu sync.Mutex
	compacting   bool

	dirPath             string
	activeFile          *os.File
	activeFileID        uint64
	activeSize          int64
	maxSegmentSize      int64
	fsync               bool
	quota               int64
	compactionThreshold int

	index     map[uint64]indexEntry
	byCreated []uint64 // newest first
	lastID    uint64
	liveBytes int64
	deadBytes int64

	tree      *merkle.Tree
	compactor *resilience.WorkerPool
	now       func() time.Time
}

// Ensure Store implements the backend and fingerprint ports.
var (
	_ port.Backend       = (*Store)(nil)
	_ port.Fingerprinter = (*Store)(nil)
)

// Open initializes the store, replaying every segment to rebuild the index.
func Open(cfg config.LocalConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	tree, err := merkle.New(fingerprintBuckets)
	if err != nil {
		return nil, fmt.Errorf("failed to init fingerprint tree: %w", err)
	}

	s := &Store{
		dirPath:             filepath.Clean(cfg.DataDir),
		maxSegmentSize:      cfg.MaxSegmentSize,
		fsync:               cfg.FSync,
		quota:               cfg.QuotaBytes,
		compactionThreshold: cfg.CompactionThreshold,
		index:               make(map[uint64]indexEntry),
		tree:                tree,
		compactor:           resilience.NewWorkerPool(1, 1),
		now:                 time.Now,
	}
	if s.maxSegmentSize <= 0 {
		s.maxSegmentSize = DefaultMaxSegmentSize
	}

	if err := s.replayLogs(); err != nil {
		return nil, fmt.Errorf("failed to replay logs: %w", err)
	}

	logger.Infow("Local store opened", "dir", s.dirPath, "records", len(s.index), "last_id", s.lastID, "segment", s.activeFileID)
	return s, nil
}

func (s *Store) Kind() domain.BackendKind {
	return domain.BackendLocal
}

// List returns every record newest first, each with its bytes embedded.
func (s *Store) List(ctx context.Context) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make(map[uint64]*os.File)
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	records := make([]domain.Record, 0, len(s.byCreated))
	for _, id := range s.byCreated {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
		}

		entry := s.index[id]
		f, ok := files[entry.SegmentID]
		if !ok {
			var err error
			f, err = os.Open(s.getSegmentPath(entry.SegmentID)) // #nosec G304
			if err != nil {
				return nil, fmt.Errorf("%w: open segment %d: %v", domain.ErrBackendUnavailable, entry.SegmentID, err)
			}
			files[entry.SegmentID] = f
		}

		data, err := readData(f, entry)
		if err != nil {
			return nil, fmt.Errorf("%w: read record %d: %v", domain.ErrBackendUnavailable, id, err)
		}
		records = append(records, toRecord(id, entry.Meta, data))
	}
	return records, nil
}

// Add stores a new record under the next id.
func (s *Store) Add(ctx context.Context, upload domain.Upload) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", domain.ErrWriteRejected, err)
	}

	mediaType, ok := domain.MediaTypeFromMIME(upload.ContentType)
	if !ok {
		if mediaType, ok = domain.MediaTypeFromName(upload.Name); !ok {
			return domain.Record{}, fmt.Errorf("%w: %s is not an image or video", domain.ErrValidation, upload.Name)
		}
	}

	meta := recordMeta{
		Name:        upload.Name,
		MediaType:   mediaType,
		ContentType: domain.NormalizeContentType(upload.ContentType, upload.Name),
		SizeBytes:   int64(len(upload.Data)),
		CreatedAt:   s.now().UTC(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: marshal metadata: %v", domain.ErrWriteRejected, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeFile == nil {
		return domain.Record{}, fmt.Errorf("%w: storage closed", domain.ErrWriteRejected)
	}

	size := entrySize(len(metaBytes), len(upload.Data))
	if s.quota > 0 && s.liveBytes+size > s.quota {
		return domain.Record{}, fmt.Errorf("%w: quota exceeded (%d of %d bytes used)", domain.ErrWriteRejected, s.liveBytes, s.quota)
	}

	id := s.lastID + 1
	segmentID, offset, err := s.appendLocked(encodeEntry(opPut, id, metaBytes, upload.Data))
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", domain.ErrWriteRejected, err)
	}

	s.lastID = id
	s.putLocked(id, indexEntry{SegmentID: segmentID, Offset: offset, Size: size, Meta: meta})
	s.updateFingerprintLocked(id)

	logger.Debugw("Record stored", "id", id, "name", meta.Name, "size_bytes", meta.SizeBytes)
	return toRecord(id, meta, upload.Data), nil
}

// Delete writes a tombstone for the record. Space is reclaimed by compaction.
func (s *Store) Delete(ctx context.Context, record domain.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWriteRejected, err)
	}

	id, err := strconv.ParseUint(record.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid id %q", domain.ErrNotFound, record.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.index[id]
	if !exists {
		return fmt.Errorf("%w: %d", domain.ErrNotFound, id)
	}
	if s.activeFile == nil {
		return fmt.Errorf("%w: storage closed", domain.ErrWriteRejected)
	}

	tombstone := encodeEntry(opDelete, id, nil, nil)
	if _, _, err := s.appendLocked(tombstone); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWriteRejected, err)
	}

	s.removeLocked(id)
	s.liveBytes -= entry.Size
	s.deadBytes += entry.Size + int64(len(tombstone))
	s.updateFingerprintLocked(id)

	s.maybeScheduleCompactionLocked()
	return nil
}

// Fingerprint summarizes the current record set; it changes on every add or delete.
func (s *Store) Fingerprint() string {
	return s.tree.Root()
}

// Close waits for background compaction and closes the active segment.
func (s *Store) Close() error {
	s.compactor.Close()
	s.compactor.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeFile != nil {
		err := s.activeFile.Close()
		s.activeFile = nil
		return err
	}
	return nil
}

func (s *Store) getSegmentPath(id uint64) string {
	return filepath.Join(s.dirPath, fmt.Sprintf("%s%05d%s", SegmentPrefix, id, SegmentSuffix))
}

func (s *Store) segmentIDs() ([]uint64, error) {
	matches, err := filepath.Glob(filepath.Join(s.dirPath, SegmentPrefix+"*"+SegmentSuffix))
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(matches))
	for _, m := range matches {
		var id uint64
		if _, err := fmt.Sscanf(filepath.Base(m), SegmentPrefix+"%d"+SegmentSuffix, &id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// replayLogs reads all segment files in order and rebuilds the indexes.
func (s *Store) replayLogs() error {
	ids, err := s.segmentIDs()
	if err != nil {
		return err
	}

	s.activeFileID = 1
	for _, id := range ids {
		if err := s.replaySegment(id); err != nil {
			return err
		}
		s.activeFileID = id
	}

	s.rebuildCreatedIndex()
	for bucket := 0; bucket < s.tree.NumLeaves(); bucket++ {
		_ = s.tree.SetBucket(bucket, s.bucketMembersLocked(bucket))
	}

	return s.openActiveFile()
}

func (s *Store) replaySegment(segmentID uint64) error {
	path := s.getSegmentPath(segmentID)
	file, err := os.OpenFile(path, os.O_RDWR, 0600) // #nosec G304
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	reader := bufio.NewReader(file)
	offset := int64(0)
	for {
		e, err := readEntry(reader)
		if err == io.EOF {
			return nil
		}
		if err == errTornEntry {
			if err := file.Truncate(offset); err != nil {
				return fmt.Errorf("failed to truncate partial segment %d: %w", segmentID, err)
			}
			logger.Warnw("Truncated partial segment tail during replay", "segment_id", segmentID, "valid_bytes", offset)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read segment %d: %w", segmentID, err)
		}

		s.applyLocked(segmentID, offset, e)
		offset += e.size
	}
}

func (s *Store) applyLocked(segmentID uint64, offset int64, e decodedEntry) {
	if e.id > s.lastID {
		s.lastID = e.id
	}

	switch e.op {
	case opPut:
		var meta recordMeta
		if err := json.Unmarshal(e.meta, &meta); err != nil {
			logger.Warnw("Skipping record with unreadable metadata", "id", e.id, "segment_id", segmentID, "error", err.Error())
			s.deadBytes += e.size
			return
		}
		if old, ok := s.index[e.id]; ok {
			s.liveBytes -= old.Size
			s.deadBytes += old.Size
		}
		s.index[e.id] = indexEntry{SegmentID: segmentID, Offset: offset, Size: e.size, Meta: meta}
		s.liveBytes += e.size
	case opDelete:
		if old, ok := s.index[e.id]; ok {
			s.liveBytes -= old.Size
			s.deadBytes += old.Size
			delete(s.index, e.id)
		}
		s.deadBytes += e.size
	case opSequence:
		s.deadBytes += e.size
	}
}

func (s *Store) openActiveFile() error {
	path := s.getSegmentPath(s.activeFileID)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304
	if err != nil {
		return err
	}
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		_ = file.Close()
		return err
	}
	s.activeFile = file
	s.activeSize = size
	return nil
}

// appendLocked writes one encoded entry to the active segment and rotates the
// segment once it grows past maxSegmentSize.
func (s *Store) appendLocked(buf []byte) (uint64, int64, error) {
	segmentID, offset := s.activeFileID, s.activeSize

	if _, err := s.activeFile.WriteAt(buf, offset); err != nil {
		// Drop whatever part of the entry reached the disk.
		_ = s.activeFile.Truncate(offset)
		return 0, 0, fmt.Errorf("failed to write entry: %w", err)
	}
	if s.fsync {
		if err := s.activeFile.Sync(); err != nil {
			return 0, 0, fmt.Errorf("failed to sync segment: %w", err)
		}
	}
	s.activeSize += int64(len(buf))

	if s.activeSize > s.maxSegmentSize {
		if err := s.rotateLocked(); err != nil {
			logger.Warnw("Segment rotation failed", "segment_id", s.activeFileID, "error", err.Error())
		}
	}
	return segmentID, offset, nil
}

func (s *Store) rotateLocked() error {
	if err := s.activeFile.Close(); err != nil {
		return err
	}
	s.activeFileID++
	if err := s.openActiveFile(); err != nil {
		return err
	}
	s.maybeScheduleCompactionLocked()
	return nil
}

func (s *Store) putLocked(id uint64, entry indexEntry) {
	s.index[id] = entry
	s.liveBytes += entry.Size

	pos := sort.Search(len(s.byCreated), func(i int) bool {
		return s.newerLocked(id, s.byCreated[i])
	})
	s.byCreated = append(s.byCreated, 0)
	copy(s.byCreated[pos+1:], s.byCreated[pos:])
	s.byCreated[pos] = id
}

func (s *Store) removeLocked(id uint64) {
	delete(s.index, id)
	for i, candidate := range s.byCreated {
		if candidate == id {
			s.byCreated = append(s.byCreated[:i], s.byCreated[i+1:]...)
			return
		}
	}
}

// newerLocked orders by creation time descending, then id descending.
func (s *Store) newerLocked(a, b uint64) bool {
	ta, tb := s.index[a].Meta.CreatedAt, s.index[b].Meta.CreatedAt
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a > b
}

func (s *Store) rebuildCreatedIndex() {
	s.byCreated = make([]uint64, 0, len(s.index))
	for id := range s.index {
		s.byCreated = append(s.byCreated, id)
	}
	sort.Slice(s.byCreated, func(i, j int) bool {
		return s.newerLocked(s.byCreated[i], s.byCreated[j])
	})
}

func (s *Store) bucketMembersLocked(bucket int) []string {
	var members []string
	for id := range s.index {
		key := strconv.FormatUint(id, 10)
		if s.tree.BucketOf(key) == bucket {
			members = append(members, key)
		}
	}
	return members
}

func (s *Store) updateFingerprintLocked(id uint64) {
	bucket := s.tree.BucketOf(strconv.FormatUint(id, 10))
	if err := s.tree.SetBucket(bucket, s.bucketMembersLocked(bucket)); err != nil {
		logger.Warnw("Fingerprint update skipped", "bucket_id", bucket, "error", err.Error())
	}
}

func readData(f *os.File, entry indexEntry) ([]byte, error) {
	buf, err := readRaw(f, entry)
	if err != nil {
		return nil, err
	}
	e, err := readEntry(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("record at offset %d: %w", entry.Offset, err)
	}
	return buf[e.dataOffset : e.dataOffset+e.dataLen], nil
}

func readRaw(f *os.File, entry indexEntry) ([]byte, error) {
	buf := make([]byte, entry.Size)
	if _, err := f.ReadAt(buf, entry.Offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func toRecord(id uint64, meta recordMeta, data []byte) domain.Record {
	// Records written before content types were normalized may carry "Image/JPEG".
	contentType := domain.NormalizeContentType(meta.ContentType, meta.Name)
	return domain.Record{
		ID:          strconv.FormatUint(id, 10),
		Name:        meta.Name,
		MediaType:   meta.MediaType,
		ContentType: contentType,
		SizeBytes:   meta.SizeBytes,
		CreatedAt:   meta.CreatedAt,
		Locator:     domain.Locator{Payload: domain.DataURL(contentType, data)},
	}
}
