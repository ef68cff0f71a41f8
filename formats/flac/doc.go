// SPDX-License-Identifier: EPL-2.0

// Package flac decodes native FLAC streams with github.com/mewkiz/flac.
//
// Samples are normalized by the frame bit depth. With an io.ReadSeeker input
// the source seeks through the SEEKTABLE and trims the landed frame down to
// the exact requested sample.
package flac
