// SPDX-License-Identifier: EPL-2.0

package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
)

// File is random access to the bytes of one track.
type File interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
	Close() error
}

// Opener resolves a file reference into a File.
type Opener interface {
	Open(ctx context.Context, ref string) (File, error)
}

// OSOpener opens references as local paths.
type OSOpener struct{}

type osFile struct {
	*os.File
	size int64
}

func (f osFile) Size() int64 { return f.size }

func (OSOpener) Open(ctx context.Context, ref string) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", ref, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", ref, err)
	}

	return osFile{File: f, size: st.Size()}, nil
}

// MemoryOpener serves tracks held in memory.
type MemoryOpener struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{files: make(map[string][]byte)}
}

// Add stores data under ref.
func (m *MemoryOpener) Add(ref string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[ref] = data
}

type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

func (m *MemoryOpener) Open(_ context.Context, ref string) (File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, ref)
	}
	return memFile{bytes.NewReader(data)}, nil
}
