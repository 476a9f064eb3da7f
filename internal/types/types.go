package types

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

type Transcript struct {
	Segments []Segment `json:"segments"`
}

// Segment is raw transcription output: one timestamped chunk of speech,
// pre-sentence-splitting.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Sentence is a single spoken sentence derived from a segment, with
// per-sentence times interpolated inside the segment span.
type Sentence struct {
	Video      string
	Text       string
	Normalized string
	Start      float64
	End        float64
	Confidence float64

	// Cross-corpus dedup result, filled by corpus.Match.
	HasCachedAnnotations bool
	OriginVideo          string
	AnnotationCount      int
}

// Scene is a contiguous run of sentences separated from its neighbors by a
// silence gap of at least the configured threshold.
type Scene struct {
	ID            int64
	Video         string
	Index         int
	Start         float64
	End           float64
	Duration      float64
	SentenceCount int
	CombinedText  string
	WordCount     int
	AvgConfidence float64
	Difficulty    string

	Sentences []Sentence
	Frames    []Frame
}

// Frame is one sampled still image with a cheap visual signature.
// SceneIndex is -1 when the timestamp falls outside every persisted scene;
// the store then keeps the row with a NULL scene reference.
type Frame struct {
	Video      string
	SceneIndex int
	Timestamp  float64
	ImagePath  string
	ThumbPath  string
	Signature  []float32 // [brightness, edge density, contrast], each in [0,1]
}

// Annotation is a cached AI response (translation, grammar explanation or a
// custom-prompt answer) tied to one sentence occurrence by fingerprint.
type Annotation struct {
	Fingerprint  string
	Type         string
	Body         string
	Client       string
	CustomPrompt string
	IsEdited     bool
	EditedBody   string
	Version      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	AnnotationTranslation = "translation"
	AnnotationGrammar     = "grammar"
)

// ResponseTypes are the annotation kinds the pipeline counts and copies.
var ResponseTypes = []string{AnnotationTranslation, AnnotationGrammar}

// VideoState tracks per-video processing progress. Completed only becomes
// true after the full pipeline (through frame sampling) finishes.
type VideoState struct {
	Video         string
	Path          string
	ContentHash   string
	SentenceCount int
	Completed     bool
	LastProcessed time.Time
}

// Report summarizes one processVideo run for CLI/GUI consumers.
type Report struct {
	Video                  string `json:"video"`
	Skipped                bool   `json:"skipped"`
	SentencesTotal         int    `json:"sentences_total"`
	DuplicatesFound        int    `json:"duplicates_found"`
	AnnotationsReused      int    `json:"annotations_reused"`
	AnnotationCopyFailures int    `json:"annotation_copy_failures"`
	ScenesCreated          int    `json:"scenes_created"`
	FramesExtracted        int    `json:"frames_extracted"`
	FramesFailed           int    `json:"frames_failed"`
	SegmentsSkipped        int    `json:"segments_skipped"`
}

// Fingerprint derives the identity key for an annotation from the sentence
// occurrence it belongs to. Start time is rounded to two decimals so that
// float noise from re-derivation does not split identities.
func Fingerprint(text, video string, start float64) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%s_%.2f", text, video, start)))
	return hex.EncodeToString(sum[:])
}
