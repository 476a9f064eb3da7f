// Package sentences turns raw transcript segments into timestamped sentences
// and removes within-video duplicates.
package sentences

import (
	"strings"
	"unicode/utf8"

	"github.com/forPelevin/dejavu/internal/domain/textnorm"
	"github.com/forPelevin/dejavu/internal/types"
)

// minSentenceLen filters out splitter artifacts: fragments shorter than this
// (after trimming) are dropped.
const minSentenceLen = 10

// Split breaks one segment into sentences on runs of terminal punctuation,
// keeping the delimiter attached to the preceding clause. Each sentence's end
// time is interpolated proportionally to its position within the segment and
// clamped to the segment end; the next sentence starts where the previous one
// ended. A trailing clause without terminal punctuation is emitted with the
// segment's end time.
func Split(video string, seg types.Segment) []types.Sentence {
	parts := splitParts(seg.Text)
	if len(parts) == 0 {
		return nil
	}

	var out []types.Sentence
	var buf strings.Builder
	start := seg.Start
	span := seg.End - seg.Start

	for i, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		buf.WriteString(part)
		if !isDelimiterRun(part) {
			continue
		}

		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text == "" {
			continue
		}

		end := seg.Start + span*float64(i+1)/float64(len(parts))
		if end > seg.End {
			end = seg.End
		}
		out = appendSentence(out, video, text, start, end, seg.Confidence)
		start = end
	}

	if text := strings.TrimSpace(buf.String()); text != "" {
		out = appendSentence(out, video, text, start, seg.End, seg.Confidence)
	}
	return out
}

func appendSentence(out []types.Sentence, video, text string, start, end, conf float64) []types.Sentence {
	if !keepSentence(text) {
		return out
	}
	return append(out, types.Sentence{
		Video:      video,
		Text:       text,
		Normalized: textnorm.Normalize(text),
		Start:      start,
		End:        end,
		Confidence: conf,
	})
}

// keepSentence drops fragments that are too short or consist solely of
// punctuation and whitespace. Length is measured in runes so non-ASCII
// sentences are not over-counted.
func keepSentence(text string) bool {
	if utf8.RuneCountInString(text) < minSentenceLen {
		return false
	}
	for _, r := range text {
		switch r {
		case '.', '!', '?', ' ', '\t', '\n':
		default:
			return true
		}
	}
	return false
}

// SplitAll validates and splits every segment of a video. Malformed segments
// (empty text, or end not after start) are skipped and counted instead of
// aborting the video.
func SplitAll(video string, segs []types.Segment) (out []types.Sentence, skipped int) {
	for _, seg := range segs {
		if strings.TrimSpace(seg.Text) == "" || !(seg.End > seg.Start) || seg.Start < 0 {
			skipped++
			continue
		}
		out = append(out, Split(video, seg)...)
	}
	return out, skipped
}

// Dedup removes sentences whose normalized text has already been seen in the
// same video; the first occurrence wins. Single pass, emission order kept.
func Dedup(ss []types.Sentence) []types.Sentence {
	seen := make(map[string]struct{}, len(ss))
	out := ss[:0:0]
	for _, s := range ss {
		if _, ok := seen[s.Normalized]; ok {
			continue
		}
		seen[s.Normalized] = struct{}{}
		out = append(out, s)
	}
	return out
}

// splitParts slices text into alternating runs of clause text and terminal
// punctuation, preserving both.
func splitParts(text string) []string {
	var parts []string
	var buf strings.Builder
	inDelim := false
	for _, r := range text {
		d := r == '.' || r == '!' || r == '?'
		if d != inDelim && buf.Len() > 0 {
			parts = append(parts, buf.String())
			buf.Reset()
		}
		inDelim = d
		buf.WriteRune(r)
	}
	if buf.Len() > 0 {
		parts = append(parts, buf.String())
	}
	return parts
}

func isDelimiterRun(part string) bool {
	if part == "" {
		return false
	}
	for _, r := range part {
		if r != '.' && r != '!' && r != '?' {
			return false
		}
	}
	return true
}
