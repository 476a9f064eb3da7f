package scenes

import "strings"

const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// EstimateDifficulty scores a scene's combined text with cheap lexical
// signals: long sentences, vocabulary size and average word length. The
// label drives UI filtering only, so a rough heuristic is enough.
func EstimateDifficulty(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return DifficultyBeginner
	}

	words := strings.Fields(text)
	unique := make(map[string]struct{}, len(words))
	var runeCount int
	for _, w := range words {
		unique[strings.ToLower(w)] = struct{}{}
		runeCount += len([]rune(w))
	}
	avgWordLen := float64(runeCount) / float64(len(words))

	var longSentences int
	for _, s := range strings.Split(text, ". ") {
		if len(strings.Fields(s)) > 15 {
			longSentences++
		}
	}

	score := float64(longSentences)*2 + float64(len(unique))/10
	if avgWordLen > 4 {
		score += (avgWordLen - 4) * 2
	}

	switch {
	case score < 5:
		return DifficultyBeginner
	case score < 15:
		return DifficultyIntermediate
	default:
		return DifficultyAdvanced
	}
}
