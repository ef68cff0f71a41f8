// SPDX-License-Identifier: EPL-2.0

package pipeline

import "math"

const (
	// CurveLength is the number of segments in the fade lookup table.
	CurveLength = 8
	// FadeMinimumVolume is where every fade-in starts.
	FadeMinimumVolume = 0.2
	// RenderQuantum is the renderer's block size in frames.
	RenderQuantum = 128
)

// Curve fills an exponential ramp from v0 to v1 sampled at CurveLength+1 points.
func Curve(v0, v1 float64) [CurveLength + 1]float64 {
	var ret [CurveLength + 1]float64
	for t := range ret {
		ret[t] = v0 * math.Pow(v1/v0, float64(t)/CurveLength)
	}
	return ret
}

var fadeInCurve = Curve(FadeMinimumVolume, 1)

// fadeInGain interpolates the fade-in table at pos out of total frames.
func fadeInGain(pos, total int64) float32 {
	if total <= 0 || pos >= total {
		return 1
	}
	if pos < 0 {
		pos = 0
	}

	x := float64(pos) / float64(total) * CurveLength
	i := int(x)
	frac := x - float64(i)
	return float32(fadeInCurve[i] + (fadeInCurve[i+1]-fadeInCurve[i])*frac)
}

// Smoothstep is the Hermite easing used by crossfades: 0 at 0, 1 at 1,
// with zero slope at both ends.
func Smoothstep(x float64) float64 {
	x = max(0, min(1, x))
	return x * x * (3 - 2*x)
}
