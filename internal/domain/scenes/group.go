// Package scenes partitions a video's ordered sentence stream into
// pause-delimited scenes.
package scenes

import (
	"strings"

	"github.com/forPelevin/dejavu/internal/types"
)

type Config struct {
	// SilenceThreshold is the minimum gap, in seconds, between one sentence's
	// end and the next sentence's start that closes the current scene.
	SilenceThreshold float64
	// MinDuration drops scenes shorter than this many seconds. Undersized
	// scenes are dropped, not merged into neighbors.
	MinDuration float64
}

const (
	DefaultSilenceThreshold = 5.0
	DefaultMinDuration      = 10.0
)

func (c Config) withDefaults() Config {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.MinDuration <= 0 {
		c.MinDuration = DefaultMinDuration
	}
	return c
}

// Group walks sentences in order, closing the current scene whenever the gap
// to the next sentence reaches the silence threshold. The final in-progress
// scene is always closed and evaluated. Scene indexes are assigned after the
// minimum-duration filter so persisted indexes stay contiguous.
func Group(video string, ss []types.Sentence, cfg Config) []types.Scene {
	cfg = cfg.withDefaults()
	if len(ss) == 0 {
		return nil
	}

	var out []types.Scene
	cur := []types.Sentence{ss[0]}
	for i := 1; i < len(ss); i++ {
		gap := ss[i].Start - ss[i-1].End
		if gap >= cfg.SilenceThreshold {
			if sc, ok := closeScene(video, cur, cfg.MinDuration); ok {
				out = append(out, sc)
			}
			cur = nil
		}
		cur = append(cur, ss[i])
	}
	if sc, ok := closeScene(video, cur, cfg.MinDuration); ok {
		out = append(out, sc)
	}

	for i := range out {
		out[i].Index = i
	}
	return out
}

func closeScene(video string, ss []types.Sentence, minDuration float64) (types.Scene, bool) {
	if len(ss) == 0 {
		return types.Scene{}, false
	}
	start := ss[0].Start
	end := ss[len(ss)-1].End
	duration := end - start
	if duration < minDuration {
		return types.Scene{}, false
	}

	parts := make([]string, 0, len(ss))
	var confSum float64
	for _, s := range ss {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
		confSum += s.Confidence
	}
	combined := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")

	return types.Scene{
		Video:         video,
		Start:         start,
		End:           end,
		Duration:      duration,
		SentenceCount: len(ss),
		CombinedText:  combined,
		WordCount:     len(strings.Fields(combined)),
		AvgConfidence: confSum / float64(len(ss)),
		Difficulty:    EstimateDifficulty(combined),
		Sentences:     ss,
	}, true
}
