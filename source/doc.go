// SPDX-License-Identifier: EPL-2.0

// Package source loads one track and decodes it in chunks.
//
// A Source opens a file reference through an Opener, sniffs the codec from
// the leading bytes, and builds a pipeline.Pipeline converting the track to
// the player's output format. FillBuffers then produces chunks on demand.
// Every operation takes a cancel.Token; superseding a token stops the work
// at the next chunk boundary and Destroy waits for that acknowledgement
// before releasing the decoder.
//
// Bytes are read through a FileView, which keeps one block of the file in
// memory and retries transient read errors.
package source
