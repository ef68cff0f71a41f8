// SPDX-License-Identifier: EPL-2.0

// Package utils holds the small numeric helpers shared by the decoding and
// playback packages.
package utils

// CubicInterpolate evaluates the Catmull-Rom spline through y0..y3 at x in
// [0, 1] between y1 and y2.
func CubicInterpolate(y0, y1, y2, y3, x float32) float32 {
	a := 1.5*(y1-y2) + 0.5*(y3-y0)
	b := y0 - 2.5*y1 + 2*y2 - 0.5*y3
	c := 0.5 * (y2 - y0)

	return ((a*x+b)*x+c)*x + y1
}
