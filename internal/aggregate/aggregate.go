// Package aggregate keeps the latest event snapshot per source and flattens
// them into one time-ordered list.
package aggregate

import (
	"cmp"
	"slices"

	"monthcal/internal/model"
)

// SourceInfo describes one registered source.
type SourceInfo struct {
	ID         string `json:"id"`
	EventCount int    `json:"event_count"`
}

// Store maps source ids to their most recent batch. It is not safe for
// concurrent use; the coalescer owns it.
type Store struct {
	order   []string
	entries map[string][]model.Event
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string][]model.Event),
	}
}

// Apply replaces the whole entry for sourceID. A source seen for the first
// time is registered after all existing ones.
func (s *Store) Apply(sourceID string, events []model.Event) {
	if _, ok := s.entries[sourceID]; !ok {
		s.order = append(s.order, sourceID)
	}
	s.entries[sourceID] = slices.Clone(events)
}

// Flatten returns every stored event ordered by start instant. Events with
// the same start keep a fixed order by source id and then by their position
// in the source batch, so the result does not depend on which source reported
// first.
func (s *Store) Flatten() []model.Event {
	total := 0
	for _, id := range s.order {
		total += len(s.entries[id])
	}

	out := make([]model.Event, 0, total)
	for _, id := range s.order {
		out = append(out, s.entries[id]...)
	}

	slices.SortStableFunc(out, func(a, b model.Event) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.SourceID, b.SourceID)
	})
	return out
}

// Sources lists registered sources in registration order.
func (s *Store) Sources() []SourceInfo {
	out := make([]SourceInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, SourceInfo{ID: id, EventCount: len(s.entries[id])})
	}
	return out
}

func (s *Store) Len() int {
	return len(s.order)
}
