// SPDX-License-Identifier: EPL-2.0

package utils

import "math"

// ClampSample limits x to the float sample range [-1, 1].
func ClampSample(x float32) float32 {
	return min(1, max(-1, x))
}

// Float32ToInt16 converts a float sample to 16 bit PCM. Out of range input
// is clamped; 1 maps to 32767, not 32768.
func Float32ToInt16(x float32) int16 {
	return int16(ClampSample(x) * math.MaxInt16)
}

// SecondsToFrames rounds a position in seconds to the nearest frame.
func SecondsToFrames(seconds float64, rate int) int64 {
	return int64(math.Round(seconds * float64(rate)))
}

func FramesToSeconds(frames int64, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(frames) / float64(rate)
}

// DBToGain converts a level change in decibels to a linear factor.
func DBToGain(db float64) float64 {
	return math.Pow(10, db/20)
}
