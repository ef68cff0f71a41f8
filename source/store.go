// SPDX-License-Identifier: EPL-2.0

package source

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// TrackNamespace scopes track UIDs.
var TrackNamespace = uuid.MustParse("6f0d5bd4-5b0a-4c53-9a8e-3d0b2a6d7e11")

// TrackUID derives a stable identifier from a file reference.
func TrackUID(ref string) uuid.UUID {
	return uuid.NewSHA1(TrackNamespace, []byte(ref))
}

// LoudnessStore keeps serialized loudness analyzer state per track.
type LoudnessStore interface {
	LoudnessState(ctx context.Context, track uuid.UUID) ([]byte, bool, error)
	SaveLoudnessState(ctx context.Context, track uuid.UUID, state []byte) error
}

// MemoryStore is a LoudnessStore that lives as long as the process.
type MemoryStore struct {
	mu    sync.RWMutex
	state map[uuid.UUID][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[uuid.UUID][]byte)}
}

func (m *MemoryStore) LoudnessState(_ context.Context, track uuid.UUID) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.state[track]
	return st, ok, nil
}

func (m *MemoryStore) SaveLoudnessState(_ context.Context, track uuid.UUID, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state[track] = append([]byte(nil), state...)
	return nil
}

// Len reports how many tracks have saved state.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state)
}
