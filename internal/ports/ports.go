package ports

import (
	"context"

	"github.com/forPelevin/dejavu/internal/types"
)

type VideoTool interface {
	ExtractAudioMono16k(ctx context.Context, inVideo, outWav string) error
	// FrameAt decodes the single frame nearest to timestamp into outJPEG.
	FrameAt(ctx context.Context, inVideo string, timestamp float64, outJPEG string) error
	ProbeDuration(ctx context.Context, inVideo string) (float64, error)
}

type ASR interface {
	Transcribe(ctx context.Context, wavPath, cacheDir string) (types.Transcript, error)
}

// Annotator produces fresh AI annotations. The dedup/copy path never calls it;
// it is invoked only when no cached annotation exists for a sentence.
type Annotator interface {
	Translate(ctx context.Context, text string) (string, error)
	ExplainGrammar(ctx context.Context, text string) (string, error)
	Client() string
}

// Store is the persistence contract. Replace* operations are transactional per
// video: either all old derived rows for that video are removed and the new
// ones inserted, or none are.
type Store interface {
	UpsertVideoState(ctx context.Context, st types.VideoState) error
	MarkCompleted(ctx context.Context, video string, sentenceCount int) error
	VideoState(ctx context.Context, video string) (types.VideoState, bool, error)
	CompletedVideos(ctx context.Context) ([]types.VideoState, error)

	ReplaceSegments(ctx context.Context, video string, segs []types.Segment) error
	Segments(ctx context.Context, video string) ([]types.Segment, error)
	ReplaceSentences(ctx context.Context, video string, ss []types.Sentence) error

	ReplaceScenes(ctx context.Context, video string, scenes []types.Scene) error
	// InsertFrames resolves each frame's scene by timestamp containment;
	// frames outside every scene are kept with a NULL scene reference.
	InsertFrames(ctx context.Context, video string, frames []types.Frame) error
	Scenes(ctx context.Context, video string) ([]types.Scene, error)

	// SaveAnnotation upserts by (fingerprint, type, custom prompt); an existing
	// row gets the new body, a bumped version and its edit state cleared.
	SaveAnnotation(ctx context.Context, ann types.Annotation) error
	GetAnnotation(ctx context.Context, fingerprint, responseType, customPrompt string) (types.Annotation, bool, error)
	EditAnnotation(ctx context.Context, fingerprint, responseType, editedBody string) error
}
