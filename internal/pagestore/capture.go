package pagestore

import "sort"

// CapturedPage pairs the first-write before-image of a page with its final
// buffered content, for WAL logging.
type CapturedPage struct {
	PageID uint32
	Before []byte
	After  []byte
}

// StartCapture begins recording before-images for every page first written
// until CommitCapture or RollbackCapture. The engine wraps each write
// operation in a capture so a failed operation leaves no partial state.
func (s *Store) StartCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.capturing = true
	s.before = make(map[uint32][]byte)
	wasDirty := make(map[uint32]bool, len(s.dirty))
	for pid := range s.dirty {
		wasDirty[pid] = true
	}
	freeSet := make(map[uint32]struct{}, len(s.freeSet))
	for pid := range s.freeSet {
		freeSet[pid] = struct{}{}
	}
	s.snap = &snapshot{
		pageCount:   s.pageCount,
		freeHead:    s.freeHead,
		catalogRoot: s.catalogRoot,
		freeSet:     freeSet,
		wasDirty:    wasDirty,
	}
}

// Captured returns the pages written since StartCapture, ordered by page id.
func (s *Store) Captured() []CapturedPage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CapturedPage, 0, len(s.before))
	for pid, before := range s.before {
		after := s.dirty[pid]
		cp := CapturedPage{PageID: pid, Before: before}
		cp.After = make([]byte, len(after))
		copy(cp.After, after)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out
}

// CommitCapture keeps the buffered mutations and stops recording.
func (s *Store) CommitCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = false
	s.before = nil
	s.snap = nil
}

// RollbackCapture restores every page touched since StartCapture to its
// before-image and rewinds the allocator state.
func (s *Store) RollbackCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pid, img := range s.before {
		if s.snap != nil && !s.snap.wasDirty[pid] {
			// page was clean before the capture; its before-image equals
			// the on-disk content, dropping the buffer restores it
			delete(s.dirty, pid)
			continue
		}
		s.dirty[pid] = img
	}
	if s.snap != nil {
		s.pageCount = s.snap.pageCount
		s.freeHead = s.snap.freeHead
		s.catalogRoot = s.snap.catalogRoot
		s.freeSet = s.snap.freeSet
	}
	s.capturing = false
	s.before = nil
	s.snap = nil
}
