// SPDX-License-Identifier: EPL-2.0

package source

import "errors"

var (
	// ErrParallelFill is returned by FillBuffers while another fill runs.
	ErrParallelFill = errors.New("invalid parallel buffer fill loop")

	ErrDestroyed      = errors.New("audio source destroyed")
	ErrNotInitialized = errors.New("audio source not loaded")
	ErrAlreadyLoaded  = errors.New("audio source already loaded")

	// ErrUnsupportedFile means no registered codec recognized the file.
	ErrUnsupportedFile = errors.New("not an audio file or an unsupported audio file")

	// ErrTransientRead marks read failures worth retrying. Openers wrap
	// their recoverable errors with it.
	ErrTransientRead = errors.New("transient read failure")

	ErrParallelRead = errors.New("invalid parallel read")
	ErrFileNotFound = errors.New("file not found")
)
