package localstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/anthanhphan/go-media-gallery/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

// Compact copies every live record into fresh segments and removes the old
// ones, dropping tombstones and overwritten entries. The highest issued id is
// carried over so ids are never reused.
func (s *Store) Compact() error {
	s.compactionMu.Lock()
	defer s.compactionMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeFile == nil {
		return fmt.Errorf("storage closed")
	}

	s.compacting = true
	defer func() { s.compacting = false }()

	oldSegments, err := s.segmentIDs()
	if err != nil {
		return err
	}

	// New writes land after every old segment so a crash mid-way replays to the
	// same state.
	_ = s.activeFile.Sync()
	if err := s.activeFile.Close(); err != nil {
		return err
	}
	s.activeFile = nil
	s.activeFileID++
	if err := s.openActiveFile(); err != nil {
		return fmt.Errorf("failed to open new active file during compaction: %w", err)
	}
	firstNew := s.activeFileID

	logger.Infow("Compaction started", "segments", len(oldSegments), "live_bytes", s.liveBytes, "dead_bytes", s.deadBytes)

	marker := encodeEntry(opSequence, s.lastID, nil, nil)
	if _, _, err := s.appendLocked(marker); err != nil {
		return err
	}

	files := make(map[uint64]*os.File)
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	newIndex := make(map[uint64]indexEntry, len(s.index))
	// Oldest first keeps the on-disk layout in creation order.
	for i := len(s.byCreated) - 1; i >= 0; i-- {
		id := s.byCreated[i]
		entry := s.index[id]

		f, ok := files[entry.SegmentID]
		if !ok {
			f, err = os.Open(s.getSegmentPath(entry.SegmentID)) // #nosec G304
			if err != nil {
				return fmt.Errorf("failed to open segment %d: %w", entry.SegmentID, err)
			}
			files[entry.SegmentID] = f
		}

		raw, err := readRaw(f, entry)
		if err != nil {
			return fmt.Errorf("failed to read record %d: %w", id, err)
		}
		segmentID, offset, err := s.appendLocked(raw)
		if err != nil {
			return err
		}
		entry.SegmentID = segmentID
		entry.Offset = offset
		newIndex[id] = entry
	}

	s.index = newIndex
	s.deadBytes = int64(len(marker))

	for _, id := range oldSegments {
		if id >= firstNew {
			continue
		}
		if err := os.Remove(s.getSegmentPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnw("Failed to remove compacted segment", "segment_id", id, "error", err.Error())
		}
	}

	logger.Infow("Compaction finished", "live_records", len(s.index), "active_segment", s.activeFileID)
	return nil
}

// maybeScheduleCompactionLocked queues a background compaction when there are
// too many segments or more dead than live bytes.
func (s *Store) maybeScheduleCompactionLocked() {
	if s.compactionThreshold <= 0 || s.compacting {
		return
	}

	segments, err := s.segmentIDs()
	if err != nil {
		return
	}
	tooManySegments := len(segments) > s.compactionThreshold
	mostlyDead := s.deadBytes >= minDeadBytes && s.deadBytes > s.liveBytes
	if !tooManySegments && !mostlyDead {
		return
	}

	err = s.compactor.TrySubmit(func() {
		if err := s.Compact(); err != nil {
			logger.Warnw("Background compaction failed", "error", err.Error())
		}
	})
	if err != nil && !errors.Is(err, resilience.ErrWorkerPoolFull) {
		logger.Debugw("Compaction not scheduled", "error", err.Error())
	}
}
