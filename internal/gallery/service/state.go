package service

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/anthanhphan/go-media-gallery/internal/gallery/domain"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/port"
)

// galleryState owns the ordered record list and the lightbox index. Every
// mutation swaps in a new snapshot, so snapshots handed out are never
// modified afterwards.
type galleryState struct {
	loadMu sync.Mutex // serialises loads
	mu     sync.RWMutex

	backend port.Backend
	snap    port.Snapshot
}

func newGalleryState(backend port.Backend) *galleryState {
	return &galleryState{
		backend: backend,
		snap:    port.Snapshot{Index: -1},
	}
}

func (s *galleryState) snapshot() port.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// load replaces the record list with a fresh listing. Records whose id is in
// drop are left out even if the backend still reports them.
func (s *galleryState) load(ctx context.Context, drop ...string) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.mu.Lock()
	loading := s.snap
	loading.Loading = true
	s.snap = loading
	s.mu.Unlock()

	records, err := s.backend.List(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	next := port.Snapshot{Index: s.snap.Index}
	if err != nil {
		next.LoadErr = err
		next.Index = -1
		s.snap = next
		return err
	}

	records = without(records, drop)
	sortRecords(records, s.backend.Kind())
	next.Records = records
	if next.Index >= len(records) {
		next.Index = -1
	}
	s.snap = next
	return nil
}

func (s *galleryState) open(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.snap.Records) {
		return false
	}
	s.setIndexLocked(index)
	return true
}

func (s *galleryState) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setIndexLocked(-1)
}

func (s *galleryState) next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Index < 0 || s.snap.Index >= len(s.snap.Records)-1 {
		return false
	}
	s.setIndexLocked(s.snap.Index + 1)
	return true
}

func (s *galleryState) prev() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Index <= 0 {
		return false
	}
	s.setIndexLocked(s.snap.Index - 1)
	return true
}

func (s *galleryState) isOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Index >= 0
}

func (s *galleryState) setIndexLocked(index int) {
	next := s.snap
	next.Index = index
	s.snap = next
}

// sortRecords orders records newest first. Local records carry a creation
// time; remote file names start with a time-ordered prefix.
func sortRecords(records []domain.Record, kind domain.BackendKind) {
	if kind == domain.BackendRemote {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Name > records[j].Name
		})
		return
	}

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return idGreater(a.ID, b.ID)
	})
}

// idGreater compares numeric ids by value and anything else as text.
func idGreater(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na > nb
	}
	return a > b
}

// without returns a copy of records minus the dropped ids.
func without(records []domain.Record, drop []string) []domain.Record {
	kept := make([]domain.Record, 0, len(records))
	for _, r := range records {
		skip := false
		for _, id := range drop {
			if r.ID == id {
				skip = true
				break
			}
		}
		if !skip {
			kept = append(kept, r)
		}
	}
	return kept
}
