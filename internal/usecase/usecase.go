// Package usecase orchestrates the per-video ingestion pipeline: transcribe,
// split, deduplicate against the corpus, copy cached annotations, group
// scenes, sample frames and persist.
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/forPelevin/dejavu/internal/corpus"
	"github.com/forPelevin/dejavu/internal/domain/scenes"
	"github.com/forPelevin/dejavu/internal/domain/sentences"
	"github.com/forPelevin/dejavu/internal/ports"
	"github.com/forPelevin/dejavu/internal/types"
)

type Deps struct {
	Video     ports.VideoTool
	ASR       ports.ASR
	Annotator ports.Annotator
	Store     ports.Store
	Logf      func(format string, args ...any)
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase { return Usecase{d: d} }

func (u Usecase) logf(format string, args ...any) {
	if u.d.Logf != nil {
		u.d.Logf(format, args...)
	}
}

type Input struct {
	VideoPath string
	CacheDir  string
	FramesDir string

	SilenceThreshold  float64
	MinSceneDuration  float64
	MaxFramesPerScene int
	FrameWorkers      int
	FrameTimeout      time.Duration

	// Force reprocesses even when the content hash says nothing changed.
	Force bool
}

// ProcessVideo runs the full pipeline for one video. Reprocessing is
// idempotent: an unchanged completed video is skipped, a changed one has all
// its derived rows replaced transactionally. The returned report is filled as
// far as the run got, even on error.
func (u Usecase) ProcessVideo(ctx context.Context, in Input) (types.Report, error) {
	video := filepath.Base(in.VideoPath)
	rep := types.Report{Video: video}

	hash, err := contentHash(in.VideoPath)
	if err != nil {
		return rep, &InputError{Err: err}
	}

	st, found, err := u.d.Store.VideoState(ctx, video)
	if err != nil {
		return rep, &PersistenceError{Err: err}
	}
	if found && st.Completed && st.ContentHash == hash && !in.Force {
		u.logf("%s unchanged, skipping", video)
		rep.Skipped = true
		rep.SentencesTotal = st.SentenceCount
		return rep, nil
	}

	if err := os.MkdirAll(in.CacheDir, 0o755); err != nil {
		return rep, &InputError{Err: err}
	}

	duration, err := u.d.Video.ProbeDuration(ctx, in.VideoPath)
	if err != nil {
		u.logf("%s duration unknown: %v", video, err)
		duration = 0
	}

	wav := filepath.Join(in.CacheDir, "audio.wav")
	u.logf("extracting audio from %s", video)
	if err := u.d.Video.ExtractAudioMono16k(ctx, in.VideoPath, wav); err != nil {
		return rep, classifyExtraction("extract audio", err)
	}

	u.logf("transcribing %s", video)
	tr, err := u.d.ASR.Transcribe(ctx, wav, in.CacheDir)
	if err != nil {
		return rep, classifyExtraction("transcribe", err)
	}

	// The state row is only touched once there is something to persist. A
	// failure before this point leaves a previously completed video intact,
	// so the corpus index can still reuse it.
	if err := u.d.Store.UpsertVideoState(ctx, types.VideoState{
		Video:       video,
		Path:        in.VideoPath,
		ContentHash: hash,
	}); err != nil {
		return rep, &PersistenceError{Err: err}
	}
	if err := u.d.Store.ReplaceSegments(ctx, video, tr.Segments); err != nil {
		return rep, &PersistenceError{Err: err}
	}

	ss, skipped := sentences.SplitAll(video, tr.Segments)
	rep.SegmentsSkipped = skipped
	ss = sentences.Dedup(ss)
	rep.SentencesTotal = len(ss)
	u.logf("%d sentences (%d malformed segments skipped)", len(ss), skipped)

	ix, err := corpus.Build(ctx, u.d.Store, video, u.d.Logf)
	if err != nil {
		return rep, &DuplicateResolutionError{Err: err}
	}
	rep.DuplicatesFound = ix.Match(ss)
	reused, copyFailed := ix.CopyAnnotations(ctx, u.d.Store, ss)
	rep.AnnotationsReused = reused
	rep.AnnotationCopyFailures = copyFailed
	u.logf("%d duplicates across corpus, %d annotations reused (%d copy failures)",
		rep.DuplicatesFound, reused, copyFailed)

	if err := u.d.Store.ReplaceSentences(ctx, video, ss); err != nil {
		return rep, &PersistenceError{Err: err}
	}

	scs := scenes.Group(video, ss, scenes.Config{
		SilenceThreshold: in.SilenceThreshold,
		MinDuration:      in.MinSceneDuration,
	})
	rep.ScenesCreated = len(scs)
	if err := u.d.Store.ReplaceScenes(ctx, video, scs); err != nil {
		return rep, &PersistenceError{Err: err}
	}

	fs, failed := u.sampleFrames(ctx, in, video, scs, duration)
	rep.FramesExtracted = len(fs)
	rep.FramesFailed = failed
	if err := ctx.Err(); err != nil {
		return rep, &TimeoutError{Op: "frame sampling", Err: err}
	}
	if err := u.d.Store.InsertFrames(ctx, video, fs); err != nil {
		return rep, &PersistenceError{Err: err}
	}

	if err := u.d.Store.MarkCompleted(ctx, video, len(ss)); err != nil {
		return rep, &PersistenceError{Err: err}
	}
	u.logf("%s done: %d scenes, %d frames (%d failed)", video, len(scs), len(fs), failed)
	return rep, nil
}

// Scenes returns a video's persisted scenes with their frames, in index order.
func (u Usecase) Scenes(ctx context.Context, video string) ([]types.Scene, error) {
	scs, err := u.d.Store.Scenes(ctx, video)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}
	return scs, nil
}

// Annotate returns the cached annotation for a sentence occurrence, producing
// a fresh one through the Annotator only when no cached row exists.
func (u Usecase) Annotate(ctx context.Context, video, text string, start float64, responseType string) (types.Annotation, error) {
	fp := types.Fingerprint(text, video, start)
	ann, ok, err := u.d.Store.GetAnnotation(ctx, fp, responseType, "")
	if err != nil {
		return types.Annotation{}, &PersistenceError{Err: err}
	}
	if ok {
		return ann, nil
	}

	var body string
	switch responseType {
	case types.AnnotationTranslation:
		body, err = u.d.Annotator.Translate(ctx, text)
	case types.AnnotationGrammar:
		body, err = u.d.Annotator.ExplainGrammar(ctx, text)
	default:
		return types.Annotation{}, &InputError{Err: fmt.Errorf("unknown response type %q", responseType)}
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.Annotation{}, &TimeoutError{Op: "annotate", Err: err}
		}
		return types.Annotation{}, fmt.Errorf("annotate %q: %w", responseType, err)
	}

	if err := u.d.Store.SaveAnnotation(ctx, types.Annotation{
		Fingerprint: fp,
		Type:        responseType,
		Body:        body,
		Client:      u.d.Annotator.Client(),
	}); err != nil {
		return types.Annotation{}, &PersistenceError{Err: err}
	}
	ann, _, err = u.d.Store.GetAnnotation(ctx, fp, responseType, "")
	if err != nil {
		return types.Annotation{}, &PersistenceError{Err: err}
	}
	return ann, nil
}

// EditAnnotation overlays a user edit on a cached annotation.
func (u Usecase) EditAnnotation(ctx context.Context, fingerprint, responseType, editedBody string) error {
	if err := u.d.Store.EditAnnotation(ctx, fingerprint, responseType, editedBody); err != nil {
		return &PersistenceError{Err: err}
	}
	return nil
}

func classifyExtraction(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TimeoutError{Op: op, Err: err}
	}
	return &ExtractionError{Err: fmt.Errorf("%s: %w", op, err)}
}

func contentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeFile(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
