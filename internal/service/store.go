package service

import "sync"

// childStore holds the handle of the one running sidecar. Every operation
// is a single critical section, so a check and the following update can't
// interleave with another caller.
type childStore struct {
	mx    sync.Mutex
	child Child
}

func (s *childStore) present() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.child != nil
}

// spawnIfEmpty calls spawn and stores its child, unless a child is already
// stored. It reports whether spawn was called and succeeded.
func (s *childStore) spawnIfEmpty(spawn func() (Child, error)) (Child, bool, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.child != nil {
		return s.child, false, nil
	}
	child, err := spawn()
	if err != nil {
		return nil, false, err
	}
	s.child = child
	return child, true, nil
}

// take removes and returns the stored child, nil if there was none.
func (s *childStore) take() Child {
	s.mx.Lock()
	defer s.mx.Unlock()
	child := s.child
	s.child = nil
	return child
}

// release clears the store if it still holds child. A handle which has been
// replaced or taken in the meantime is left alone.
func (s *childStore) release(child Child) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.child == nil || s.child != child {
		return false
	}
	s.child = nil
	return true
}
