// SPDX-License-Identifier: EPL-2.0

// Package backend keeps two ring buffers filled with decoded audio for a
// real-time renderer.
//
// A host drives it with handler calls (or Handle for JSON messages) and
// receives results through a Sink. The renderer calls TimeUpdate from its
// own tick; every wait inside the backend is bounded by those ticks.
//
// The first ring is the foreground feeder, the second the background one.
// A track that ends with a next track already preloaded is either swapped
// gaplessly, keeping the same feeder, or crossfaded, in which case the
// preload decodes into the other feeder and the two exchange roles.
package backend
