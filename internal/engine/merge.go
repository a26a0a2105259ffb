package engine

import (
	"slices"

	"github.com/lalith-99/echoclient/internal/models"
	"github.com/samber/lo"
)

// MessageSet is the per-activation message list: unique by id, kept in
// display order (createdAt, then id) on every insert.
//
// Why not append and sort?
//   - History and stream deliveries interleave arbitrarily. Inserting at the
//     binary-search position keeps the slice ordered after every single
//     merge, so a snapshot taken between two deliveries is already correct.
type MessageSet struct {
	byID    map[int64]models.Message
	ordered []models.Message
}

func NewMessageSet() *MessageSet {
	return &MessageSet{byID: make(map[int64]models.Message)}
}

func compareMessages(a, b models.Message) int {
	switch {
	case a.Before(b):
		return -1
	case b.Before(a):
		return 1
	default:
		return 0
	}
}

// Add inserts m unless a message with the same id is already present.
// It reports whether the set changed.
func (s *MessageSet) Add(m models.Message) bool {
	if _, ok := s.byID[m.ID]; ok {
		return false
	}
	s.byID[m.ID] = m
	pos, _ := slices.BinarySearchFunc(s.ordered, m, compareMessages)
	s.ordered = slices.Insert(s.ordered, pos, m)
	return true
}

// Merge adds every message in ms and returns how many were new. It is a
// union: nothing already in the set is replaced or dropped.
func (s *MessageSet) Merge(ms []models.Message) int {
	added := 0
	for _, m := range lo.UniqBy(ms, func(m models.Message) int64 { return m.ID }) {
		if s.Add(m) {
			added++
		}
	}
	return added
}

func (s *MessageSet) Get(id int64) (models.Message, bool) {
	m, ok := s.byID[id]
	return m, ok
}

// Messages returns a copy in display order.
func (s *MessageSet) Messages() []models.Message {
	return slices.Clone(s.ordered)
}

func (s *MessageSet) Len() int {
	return len(s.ordered)
}
