// Package frames selects representative timestamps within a scene and
// computes cheap visual signatures over decoded images.
package frames

import (
	"github.com/forPelevin/dejavu/internal/types"
)

// Timestamps returns up to maxPerScene evenly spaced sample points inside the
// scene span: the midpoint when one frame is enough, otherwise
// start + step*(i+1) with step = duration/(n+1). Very short scenes get fewer
// frames (one per two seconds of audio, at least one).
func Timestamps(sc types.Scene, maxPerScene int) []float64 {
	if maxPerScene <= 0 {
		maxPerScene = 1
	}
	n := int(sc.Duration / 2)
	if n < 1 {
		n = 1
	}
	if n > maxPerScene {
		n = maxPerScene
	}

	if n == 1 {
		return []float64{sc.Start + sc.Duration/2}
	}
	step := sc.Duration / float64(n+1)
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, sc.Start+step*float64(i+1))
	}
	return out
}
