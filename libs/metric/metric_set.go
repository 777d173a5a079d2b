package metric

import (
	"errors"
	"sync"
)

var (
	ErrLabelExist = errors.New("metric label already exist")
)

func NewSet() *Set {
	return &Set{
		items: make(map[string]Item),
	}
}

// Set is the label-keyed registry behind the metrics snapshot interface.
type Set struct {
	mtx   sync.RWMutex
	items map[string]Item
}

// Register binds an Item to a label; registering an existing label fails.
func (s *Set) Register(label string, item Item) error {
	if s.Has(label) {
		return ErrLabelExist
	}

	s.mtx.Lock()
	s.items[label] = item
	s.mtx.Unlock()
	return nil
}

func (s *Set) Has(label string) bool {
	s.mtx.RLock()
	_, existed := s.items[label]
	s.mtx.RUnlock()
	return existed
}

func (s *Set) Get(label string) Item {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	item, existed := s.items[label]
	if !existed {
		return nil
	}
	return item
}

func (s *Set) Labels() []string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	labels := make([]string, 0, len(s.items))
	for label := range s.items {
		labels = append(labels, label)
	}
	return labels
}

// Snapshot renders every registered item, keyed by label.
func (s *Set) Snapshot() map[string]string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	out := make(map[string]string, len(s.items))
	for label, item := range s.items {
		out[label] = item.JSONString()
	}
	return out
}
