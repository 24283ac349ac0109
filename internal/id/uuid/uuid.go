// Package uuid generates run identifiers. Run IDs are UUIDv7 so that ledger
// rows and manifests sort by creation time.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator hands out run IDs.
type Generator interface {
	NewRunID() (uuid.UUID, error)
}

// V7 is the production Generator.
type V7 struct{}

// NewRunID returns a fresh UUIDv7.
func (V7) NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

// Sequence replays fixed IDs in order, then repeats the last one. Tests use
// it to pin run IDs.
type Sequence struct {
	ids []uuid.UUID
	pos int
}

// NewSequence builds a Sequence over ids.
func NewSequence(ids ...uuid.UUID) *Sequence {
	return &Sequence{ids: ids}
}

// NewRunID returns the next ID.
func (s *Sequence) NewRunID() (uuid.UUID, error) {
	if len(s.ids) == 0 {
		return uuid.Nil, fmt.Errorf("generate run id: empty sequence")
	}
	id := s.ids[min(s.pos, len(s.ids)-1)]
	s.pos++
	return id, nil
}
