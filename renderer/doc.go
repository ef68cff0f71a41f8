// SPDX-License-Identifier: EPL-2.0

// Package renderer is the consuming side of the ring buffers: it mixes the
// foreground and background rings into interleaved float32 audio and pulls
// it at the device rate, either through an oto output device or a headless
// clock. Both drive the backend's scheduling tick.
//
// Build with the headless tag to drop the oto dependency on systems without
// an audio stack; OpenDevice then returns ErrNoDevice.
package renderer
