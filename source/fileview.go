// SPDX-License-Identifier: EPL-2.0

package source

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ik5/audfeed/cancel"
)

const (
	// DefaultBlockSize is the read-ahead used when decoders read without a
	// preceding Prefetch.
	DefaultBlockSize = 64 * 1024

	readAttempts = 3
)

// FileView is an io.ReadSeeker over a File that keeps one block of the file
// in memory. Reads outside the block replace it. Transient read failures
// are retried with a linear backoff.
type FileView struct {
	mu sync.Mutex

	file File
	size int64
	pos  int64

	block      []byte
	blockStart int64

	reading bool
	backoff time.Duration
}

func NewFileView(f File) *FileView {
	return &FileView{
		file:    f,
		size:    f.Size(),
		backoff: 10 * time.Millisecond,
	}
}

func (v *FileView) Size() int64 { return v.size }

// Read serves bytes at the current position.
func (v *FileView) Read(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.pos >= v.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if !v.covers(v.pos, 1) {
		if err := v.readBlockAt(nil, max(int64(len(p)), DefaultBlockSize), v.pos, 1); err != nil {
			return 0, err
		}
	}

	n := copy(p, v.block[v.pos-v.blockStart:])
	v.pos += int64(n)
	return n, nil
}

func (v *FileView) Seek(offset int64, whence int) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = v.pos + offset
	case io.SeekEnd:
		abs = v.size + offset
	default:
		return 0, fmt.Errorf("fileview: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("fileview: negative position %d", abs)
	}
	v.pos = abs
	return abs, nil
}

// Prefetch loads size bytes starting at the current position unless they
// are already in memory.
func (v *FileView) Prefetch(tok *cancel.Token, size int64) error {
	return v.ReadBlockOfSizeAt(tok, size, v.Position(), 1)
}

// Position returns the read offset.
func (v *FileView) Position() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pos
}

// ReadBlockOfSizeAt makes [offset, offset+size) resident. When it is not
// already, the block loaded is size*paddingFactor bytes long.
func (v *FileView) ReadBlockOfSizeAt(tok *cancel.Token, size, offset int64, paddingFactor float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if size <= 0 || v.size == 0 {
		return nil
	}
	start := max(0, min(offset, v.size-1))
	if v.covers(start, min(size, v.size-start)) {
		return nil
	}
	return v.readBlockAt(tok, size, start, paddingFactor)
}

func (v *FileView) covers(offset, length int64) bool {
	return v.block != nil && v.blockStart <= offset && offset+length <= v.blockStart+int64(len(v.block))
}

func (v *FileView) readBlockAt(tok *cancel.Token, size, start int64, paddingFactor float64) error {
	if v.reading {
		return ErrParallelRead
	}
	v.reading = true
	defer func() { v.reading = false }()

	if paddingFactor < 1 {
		paddingFactor = 1
	}
	end := min(v.size, start+int64(float64(size)*paddingFactor))
	buf := make([]byte, end-start)

	var err error
	for attempt := range readAttempts {
		if tok != nil {
			if cerr := tok.Check(); cerr != nil {
				return cerr
			}
		}

		var n int
		n, err = v.file.ReadAt(buf, start)
		if n == len(buf) {
			err = nil
		}
		if err == nil || !retryable(err) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * v.backoff)
	}

	if err != nil {
		v.block = nil
		return fmt.Errorf("reading %d bytes at %d: %w", len(buf), start, err)
	}

	v.block = buf
	v.blockStart = start
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || cancel.IsCancellation(err) {
		return false
	}
	if errors.Is(err, ErrTransientRead) {
		return true
	}
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// Close releases the underlying file.
func (v *FileView) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.block = nil
	if err := v.file.Close(); err != nil {
		return fmt.Errorf("fileview: %w", err)
	}
	return nil
}
