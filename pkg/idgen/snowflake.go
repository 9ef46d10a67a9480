// Package idgen issues 64-bit, time-ordered ids and renders them as
// fixed-width name prefixes.
package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// An id is laid out as
//
//	| sign (1) | ms since Epoch (41) | node (10) | sequence (12) |
const (
	nodeBits     = 10
	sequenceBits = 12

	maxNodeID   = 1<<nodeBits - 1
	maxSequence = 1<<sequenceBits - 1

	timestampShift = nodeBits + sequenceBits
	lowMask        = 1<<timestampShift - 1

	// Epoch is 2024-01-01 00:00:00 UTC in unix milliseconds.
	Epoch = 1704067200000

	// lowDigits is the decimal width of the node and sequence bits.
	lowDigits = 7
)

var (
	ErrNodeIDTooLarge = errors.New("node ID out of range")
	ErrBeforeEpoch    = errors.New("clock reads before the id epoch")
)

// Snowflake generates unique, time-ordered ids for one node.
//
// When the clock steps backwards, as it can when a shared Redis clock drops
// out and the local clock takes over, the generator keeps issuing ids from
// the last timestamp it used rather than failing. Ids therefore never go
// backwards, only their embedded time may trail the wall clock briefly.
type Snowflake struct {
	mu     sync.Mutex
	clock  Clock
	node   int64
	lastMS int64
	seq    int64
}

// New creates a generator for node. A nil clock uses the system time.
func New(node int64, clock Clock) (*Snowflake, error) {
	if node < 0 || node > maxNodeID {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrNodeIDTooLarge, node, maxNodeID)
	}
	if clock == nil {
		clock = &SystemClock{}
	}
	return &Snowflake{clock: clock, node: node, lastMS: -1}, nil
}

func (s *Snowflake) Next() (int64, error) {
	now := s.clock.Now()
	if now < Epoch {
		return 0, ErrBeforeEpoch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case now > s.lastMS:
		s.lastMS = now
		s.seq = 0
	case s.seq < maxSequence:
		s.seq++
	default:
		// Sequence exhausted for this millisecond: borrow the next one.
		s.lastMS++
		s.seq = 0
	}

	return (s.lastMS-Epoch)<<timestampShift | s.node<<sequenceBits | s.seq, nil
}

// TimeOf returns the millisecond timestamp embedded in an id.
func TimeOf(id int64) time.Time {
	return time.UnixMilli(id>>timestampShift + Epoch)
}

// Format renders an id as "<unix ms>-<node and sequence>" with fixed widths.
// Formatted ids sort lexicographically in creation order and start with a
// plain 13-digit millisecond timestamp.
func Format(id int64) string {
	return fmt.Sprintf("%013d-%0*d", TimeOf(id).UnixMilli(), lowDigits, id&lowMask)
}
