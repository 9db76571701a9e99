package pagestore

import (
	"encoding/binary"
	"fmt"
)

// Free pages form a singly linked list: the first 4 bytes of a free page
// hold the next free page id, the head lives in the file header.

// Allocate returns a page from the free list, or extends the file by one
// page. The returned page reads back zero-filled.
func (s *Store) Allocate() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.freeHead != 0 {
		pid := s.freeHead
		page, err := s.readLocked(pid)
		if err != nil {
			return 0, err
		}
		s.freeHead = binary.LittleEndian.Uint32(page)
		delete(s.freeSet, pid)

		zero := make([]byte, s.pageSize)
		if err := s.writeLocked(pid, zero); err != nil {
			return 0, err
		}
		if err := s.writeHeaderLocked(); err != nil {
			return 0, err
		}
		return pid, nil
	}

	if s.pageCount >= MaxPageCount {
		return 0, ErrStorageFull
	}
	pid := s.pageCount
	zero := make([]byte, s.pageSize)
	if err := s.writeLocked(pid, zero); err != nil {
		return 0, err
	}
	return pid, nil
}

// Free appends the page to the free list. Freeing the header page, an
// unallocated page or an already-free page is a programming error.
func (s *Store) Free(pid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pid == 0 || pid >= s.pageCount {
		return fmt.Errorf("%w: free of page %d outside allocated range", ErrInvariant, pid)
	}
	if _, ok := s.freeSet[pid]; ok {
		return fmt.Errorf("%w: double free of page %d", ErrInvariant, pid)
	}

	page := make([]byte, s.pageSize)
	binary.LittleEndian.PutUint32(page, s.freeHead)
	if err := s.writeLocked(pid, page); err != nil {
		return err
	}
	s.freeHead = pid
	s.freeSet[pid] = struct{}{}
	return s.writeHeaderLocked()
}

// RebuildFreeSet re-walks the free chain. Called after WAL recovery has
// replayed pages into the buffer.
func (s *Store) RebuildFreeSet() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildFreeSet()
}

func (s *Store) rebuildFreeSet() error {
	set := make(map[uint32]struct{})
	for pid := s.freeHead; pid != 0; {
		if pid >= s.pageCount {
			return fmt.Errorf("%w: free list references page %d beyond file", ErrInvariant, pid)
		}
		if _, ok := set[pid]; ok {
			return fmt.Errorf("%w: free list cycle at page %d", ErrInvariant, pid)
		}
		set[pid] = struct{}{}
		page, err := s.readLocked(pid)
		if err != nil {
			return err
		}
		pid = binary.LittleEndian.Uint32(page)
	}
	s.freeSet = set
	return nil
}
