package main

import "github.com/WispAyr/overwatch-sub003/pkg/models"

// averageBrightness estimates a frame's luminance as the mean byte value of
// its pixel buffer, normalized to 0..1. It is intentionally codec-agnostic:
// decoding frame.Pixels into a real image is a Transport's job (spec §1's
// codec-library non-goal), so this only needs a monotonic brightness proxy
// for the day/night detector's hysteresis, not a color-accurate one.
func averageBrightness(f models.Frame) float64 {
	if len(f.Pixels) == 0 {
		return 0
	}
	var sum uint64
	for _, b := range f.Pixels {
		sum += uint64(b)
	}
	return float64(sum) / float64(len(f.Pixels)) / 255.0
}
