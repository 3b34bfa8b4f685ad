package telemetry

import "sync/atomic"

// Store is a single-slot, latest-wins holder for the current Snapshot.
//
// The ingestion goroutine writes, the render goroutine reads; both operations
// are a single atomic pointer access.
type Store struct {
	cur      atomic.Pointer[Snapshot]
	replaced atomic.Uint64
}

func NewStore() *Store { return &Store{} }

// Replace overwrites the current Snapshot. Nil is ignored.
func (s *Store) Replace(snap *Snapshot) {
	if s == nil || snap == nil {
		return
	}
	s.cur.Store(snap)
	s.replaced.Add(1)
}

// Current returns the latest Snapshot, or false before the first Replace.
func (s *Store) Current() (*Snapshot, bool) {
	if s == nil {
		return nil, false
	}
	snap := s.cur.Load()
	return snap, snap != nil
}

func (s *Store) Replaced() uint64 {
	if s == nil {
		return 0
	}
	return s.replaced.Load()
}
