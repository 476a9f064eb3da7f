package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/forPelevin/dejavu/internal/types"
)

type fakeVideoTool struct {
	mu        sync.Mutex
	frameAts  []float64
	failBelow float64 // FrameAt fails for timestamps below this
	duration  float64 // ProbeDuration result, 60 when zero
}

func (f *fakeVideoTool) ExtractAudioMono16k(_ context.Context, _, outWav string) error {
	return os.WriteFile(outWav, []byte("wav"), 0o644)
}

func (f *fakeVideoTool) FrameAt(_ context.Context, _ string, timestamp float64, outJPEG string) error {
	f.mu.Lock()
	f.frameAts = append(f.frameAts, timestamp)
	f.mu.Unlock()
	if timestamp < f.failBelow {
		return fmt.Errorf("decode failed at %.2f", timestamp)
	}
	out, err := os.Create(outJPEG)
	if err != nil {
		return err
	}
	defer out.Close()
	return jpeg.Encode(out, image.NewGray(image.Rect(0, 0, 8, 8)), nil)
}

func (f *fakeVideoTool) ProbeDuration(_ context.Context, _ string) (float64, error) {
	if f.duration > 0 {
		return f.duration, nil
	}
	return 60, nil
}

type fakeASR struct {
	tr  types.Transcript
	err error
}

func (f fakeASR) Transcribe(_ context.Context, _, _ string) (types.Transcript, error) {
	if f.err != nil {
		return types.Transcript{}, f.err
	}
	return f.tr, nil
}

type fakeAnnotator struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeAnnotator) Translate(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return "translated: " + text, nil
}

func (f *fakeAnnotator) ExplainGrammar(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return "grammar: " + text, nil
}

func (f *fakeAnnotator) Client() string { return "fake-model" }

type fakeStore struct {
	mu          sync.Mutex
	states      map[string]types.VideoState
	segments    map[string][]types.Segment
	sentences   map[string][]types.Sentence
	scenes      map[string][]types.Scene
	frames      map[string][]types.Frame
	annotations map[string]types.Annotation
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		states:      make(map[string]types.VideoState),
		segments:    make(map[string][]types.Segment),
		sentences:   make(map[string][]types.Sentence),
		scenes:      make(map[string][]types.Scene),
		frames:      make(map[string][]types.Frame),
		annotations: make(map[string]types.Annotation),
	}
}

func annKey(fp, rt, cp string) string { return fp + "|" + rt + "|" + cp }

func (f *fakeStore) UpsertVideoState(_ context.Context, st types.VideoState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st.LastProcessed = time.Now()
	f.states[st.Video] = st
	return nil
}

func (f *fakeStore) MarkCompleted(_ context.Context, video string, sentenceCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.states[video]
	st.Video = video
	st.Completed = true
	st.SentenceCount = sentenceCount
	f.states[video] = st
	return nil
}

func (f *fakeStore) VideoState(_ context.Context, video string) (types.VideoState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[video]
	return st, ok, nil
}

func (f *fakeStore) CompletedVideos(_ context.Context) ([]types.VideoState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.VideoState
	for _, st := range f.states {
		if st.Completed {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeStore) ReplaceSegments(_ context.Context, video string, segs []types.Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments[video] = segs
	return nil
}

func (f *fakeStore) Segments(_ context.Context, video string) ([]types.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.segments[video], nil
}

func (f *fakeStore) ReplaceSentences(_ context.Context, video string, ss []types.Sentence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentences[video] = ss
	return nil
}

func (f *fakeStore) ReplaceScenes(_ context.Context, video string, scs []types.Scene) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scenes[video] = scs
	f.frames[video] = nil
	return nil
}

func (f *fakeStore) InsertFrames(_ context.Context, video string, fs []types.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fr := range fs {
		fr.SceneIndex = -1
		for _, sc := range f.scenes[video] {
			if sc.Start <= fr.Timestamp && fr.Timestamp <= sc.End {
				fr.SceneIndex = sc.Index
				break
			}
		}
		f.frames[video] = append(f.frames[video], fr)
	}
	return nil
}

func (f *fakeStore) Scenes(_ context.Context, video string) ([]types.Scene, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scenes[video], nil
}

func (f *fakeStore) SaveAnnotation(_ context.Context, ann types.Annotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := annKey(ann.Fingerprint, ann.Type, ann.CustomPrompt)
	if old, ok := f.annotations[key]; ok {
		ann.Version = old.Version + 1
		ann.CreatedAt = old.CreatedAt
	} else {
		ann.Version = 1
		ann.CreatedAt = time.Now()
	}
	ann.IsEdited = false
	ann.EditedBody = ""
	ann.UpdatedAt = time.Now()
	f.annotations[key] = ann
	return nil
}

func (f *fakeStore) GetAnnotation(_ context.Context, fp, rt, cp string) (types.Annotation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ann, ok := f.annotations[annKey(fp, rt, cp)]
	return ann, ok, nil
}

func (f *fakeStore) EditAnnotation(_ context.Context, fp, rt, editedBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := annKey(fp, rt, "")
	ann, ok := f.annotations[key]
	if !ok {
		return fmt.Errorf("no annotation for %s", fp)
	}
	ann.IsEdited = true
	ann.EditedBody = editedBody
	ann.UpdatedAt = time.Now()
	f.annotations[key] = ann
	return nil
}

func writeVideoFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write video file: %v", err)
	}
	return path
}

func testInput(t *testing.T, tmp, videoPath string) Input {
	t.Helper()
	return Input{
		VideoPath:         videoPath,
		CacheDir:          filepath.Join(tmp, "cache"),
		FramesDir:         filepath.Join(tmp, "frames"),
		SilenceThreshold:  5,
		MinSceneDuration:  1,
		MaxFramesPerScene: 2,
		FrameWorkers:      3,
		FrameTimeout:      5 * time.Second,
	}
}

// Two segments separated by an 8s silence: two scenes, three sentences.
func transcriptA() types.Transcript {
	return types.Transcript{Segments: []types.Segment{
		{Start: 0, End: 12, Text: "You are finally awake. Good to see you made it here.", Confidence: 0.9},
		{Start: 20, End: 32, Text: "Something else happened here today.", Confidence: 0.8},
	}}
}

func transcriptB() types.Transcript {
	return types.Transcript{Segments: []types.Segment{
		{Start: 0, End: 12, Text: "You are finally awake. Brand new sentence appears now.", Confidence: 0.9},
	}}
}

func TestProcessVideo_FullRun(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	store := newFakeStore()
	uc := New(Deps{
		Video:     &fakeVideoTool{},
		ASR:       fakeASR{tr: transcriptA()},
		Annotator: &fakeAnnotator{},
		Store:     store,
	})

	path := writeVideoFile(t, tmp, "a.mkv", "media-a-v1")
	rep, err := uc.ProcessVideo(context.Background(), testInput(t, tmp, path))
	if err != nil {
		t.Fatalf("ProcessVideo: %v", err)
	}
	if rep.Skipped {
		t.Fatalf("first run must not be skipped")
	}
	if rep.SentencesTotal != 3 {
		t.Fatalf("expected 3 sentences, got %d", rep.SentencesTotal)
	}
	if rep.ScenesCreated != 2 {
		t.Fatalf("expected 2 scenes, got %d", rep.ScenesCreated)
	}
	// Two 12s scenes, capped at 2 frames each.
	if rep.FramesExtracted != 4 || rep.FramesFailed != 0 {
		t.Fatalf("expected 4 frames, got %d extracted %d failed", rep.FramesExtracted, rep.FramesFailed)
	}

	st, ok, _ := store.VideoState(context.Background(), "a.mkv")
	if !ok || !st.Completed || st.SentenceCount != 3 {
		t.Fatalf("video not marked completed: %+v", st)
	}
	if len(store.frames["a.mkv"]) != 4 {
		t.Fatalf("frames not persisted: %d", len(store.frames["a.mkv"]))
	}
	for _, fr := range store.frames["a.mkv"] {
		if fr.SceneIndex < 0 {
			t.Fatalf("frame at %.2f not attached to a scene", fr.Timestamp)
		}
		if len(fr.Signature) != 3 {
			t.Fatalf("frame signature missing: %+v", fr)
		}
		if _, err := os.Stat(fr.ThumbPath); err != nil {
			t.Fatalf("thumbnail not written: %v", err)
		}
	}
}

func TestProcessVideo_SkipsUnchangedVideo(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	store := newFakeStore()
	video := &fakeVideoTool{}
	uc := New(Deps{Video: video, ASR: fakeASR{tr: transcriptA()}, Annotator: &fakeAnnotator{}, Store: store})

	path := writeVideoFile(t, tmp, "a.mkv", "media-a-v1")
	in := testInput(t, tmp, path)
	if _, err := uc.ProcessVideo(context.Background(), in); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstCalls := len(video.frameAts)

	rep, err := uc.ProcessVideo(context.Background(), in)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !rep.Skipped {
		t.Fatalf("unchanged completed video must be skipped")
	}
	if len(video.frameAts) != firstCalls {
		t.Fatalf("skipped run must not touch the video tool")
	}

	// Changed content invalidates the skip.
	writeVideoFile(t, tmp, "a.mkv", "media-a-v2")
	rep, err = uc.ProcessVideo(context.Background(), in)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if rep.Skipped {
		t.Fatalf("changed content must be reprocessed")
	}

	// Force overrides the hash check.
	in.Force = true
	rep, err = uc.ProcessVideo(context.Background(), in)
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if rep.Skipped {
		t.Fatalf("forced run must not be skipped")
	}
}

func TestProcessVideo_CrossVideoDedup(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	store := newFakeStore()
	ann := &fakeAnnotator{}
	ucA := New(Deps{Video: &fakeVideoTool{}, ASR: fakeASR{tr: transcriptA()}, Annotator: ann, Store: store})

	pathA := writeVideoFile(t, tmp, "a.mkv", "media-a")
	if _, err := ucA.ProcessVideo(context.Background(), testInput(t, tmp, pathA)); err != nil {
		t.Fatalf("process a.mkv: %v", err)
	}

	// Annotate the shared sentence once; the corpus now carries one cached
	// translation for it.
	got, err := ucA.Annotate(context.Background(), "a.mkv", "You are finally awake.", 0, types.AnnotationTranslation)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if got.Body != "translated: You are finally awake." || got.Version != 1 {
		t.Fatalf("unexpected fresh annotation: %+v", got)
	}
	if ann.calls != 1 {
		t.Fatalf("expected 1 AI call, got %d", ann.calls)
	}

	ucB := New(Deps{Video: &fakeVideoTool{}, ASR: fakeASR{tr: transcriptB()}, Annotator: ann, Store: store})
	pathB := writeVideoFile(t, tmp, "b.mkv", "media-b")
	rep, err := ucB.ProcessVideo(context.Background(), testInput(t, tmp, pathB))
	if err != nil {
		t.Fatalf("process b.mkv: %v", err)
	}
	if rep.DuplicatesFound != 1 {
		t.Fatalf("expected 1 cross-video duplicate, got %d", rep.DuplicatesFound)
	}
	if rep.AnnotationsReused != 1 {
		t.Fatalf("expected 1 reused annotation, got %d", rep.AnnotationsReused)
	}
	if ann.calls != 1 {
		t.Fatalf("reuse must never call the annotator, got %d calls", ann.calls)
	}

	// The copy lives under b's own fingerprint and is a value copy.
	fpB := types.Fingerprint("You are finally awake.", "b.mkv", 0)
	copied, ok, _ := store.GetAnnotation(context.Background(), fpB, types.AnnotationTranslation, "")
	if !ok {
		t.Fatalf("expected copied annotation for b.mkv")
	}
	if copied.Body != "translated: You are finally awake." {
		t.Fatalf("unexpected copied body: %q", copied.Body)
	}

	if err := ucB.EditAnnotation(context.Background(), fpB, types.AnnotationTranslation, "my own wording"); err != nil {
		t.Fatalf("EditAnnotation: %v", err)
	}
	fpA := types.Fingerprint("You are finally awake.", "a.mkv", 0)
	orig, _, _ := store.GetAnnotation(context.Background(), fpA, types.AnnotationTranslation, "")
	if orig.IsEdited {
		t.Fatalf("editing the copy must not touch the origin")
	}
}

func TestProcessVideo_FrameFailuresAreIsolated(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	store := newFakeStore()
	// Frames before 10s fail to decode: both frames of scene 0 (at 4s and 8s).
	video := &fakeVideoTool{failBelow: 10}
	uc := New(Deps{Video: video, ASR: fakeASR{tr: transcriptA()}, Annotator: &fakeAnnotator{}, Store: store})

	path := writeVideoFile(t, tmp, "a.mkv", "media-a")
	rep, err := uc.ProcessVideo(context.Background(), testInput(t, tmp, path))
	if err != nil {
		t.Fatalf("ProcessVideo: %v", err)
	}
	if rep.FramesFailed != 2 {
		t.Fatalf("expected 2 failed frames, got %d", rep.FramesFailed)
	}
	if rep.FramesExtracted != 2 {
		t.Fatalf("expected 2 extracted frames, got %d", rep.FramesExtracted)
	}
	// The run still completes.
	st, ok, _ := store.VideoState(context.Background(), "a.mkv")
	if !ok || !st.Completed {
		t.Fatalf("frame failures must not abort the video: %+v", st)
	}
}

func TestProcessVideo_FailedReprocessKeepsCompletedState(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	store := newFakeStore()
	uc := New(Deps{Video: &fakeVideoTool{}, ASR: fakeASR{tr: transcriptA()}, Annotator: &fakeAnnotator{}, Store: store})

	path := writeVideoFile(t, tmp, "a.mkv", "media-a-v1")
	in := testInput(t, tmp, path)
	if _, err := uc.ProcessVideo(context.Background(), in); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, _, _ := store.VideoState(context.Background(), "a.mkv")

	// The file changed on disk but transcription of the new content fails.
	writeVideoFile(t, tmp, "a.mkv", "media-a-v2")
	broken := New(Deps{Video: &fakeVideoTool{}, ASR: fakeASR{err: errors.New("model crashed")}, Annotator: &fakeAnnotator{}, Store: store})
	if _, err := broken.ProcessVideo(context.Background(), in); err == nil {
		t.Fatalf("expected the reprocess to fail")
	}

	st, ok, _ := store.VideoState(context.Background(), "a.mkv")
	if !ok || !st.Completed {
		t.Fatalf("failed reprocess must keep the prior completed state: %+v", st)
	}
	if st.ContentHash != before.ContentHash {
		t.Fatalf("failed reprocess must not record the new content hash")
	}

	// The old corpus entry still serves new videos.
	ucB := New(Deps{Video: &fakeVideoTool{}, ASR: fakeASR{tr: transcriptB()}, Annotator: &fakeAnnotator{}, Store: store})
	pathB := writeVideoFile(t, tmp, "b.mkv", "media-b")
	rep, err := ucB.ProcessVideo(context.Background(), testInput(t, tmp, pathB))
	if err != nil {
		t.Fatalf("process b.mkv: %v", err)
	}
	if rep.DuplicatesFound != 1 {
		t.Fatalf("corpus must still index a.mkv, got %d duplicates", rep.DuplicatesFound)
	}
}

func TestProcessVideo_SkipsFramesBeyondMediaEnd(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	store := newFakeStore()
	// Scene timestamps land at 4, 8, 24 and 28s; a 25s file cuts off the last.
	video := &fakeVideoTool{duration: 25}
	uc := New(Deps{Video: video, ASR: fakeASR{tr: transcriptA()}, Annotator: &fakeAnnotator{}, Store: store})

	path := writeVideoFile(t, tmp, "a.mkv", "media-a")
	rep, err := uc.ProcessVideo(context.Background(), testInput(t, tmp, path))
	if err != nil {
		t.Fatalf("ProcessVideo: %v", err)
	}
	if rep.FramesExtracted != 3 {
		t.Fatalf("expected 3 frames within the media, got %d", rep.FramesExtracted)
	}
	if rep.FramesFailed != 0 {
		t.Fatalf("out-of-range timestamps are skipped, not failed: %d", rep.FramesFailed)
	}
	for _, ts := range video.frameAts {
		if ts > 25 {
			t.Fatalf("seeked past media end at %.2fs", ts)
		}
	}
}

func TestAnnotate_CachedHit(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	ann := &fakeAnnotator{}
	uc := New(Deps{Video: &fakeVideoTool{}, ASR: fakeASR{}, Annotator: ann, Store: store})

	first, err := uc.Annotate(context.Background(), "a.mkv", "Something happened here.", 1.5, types.AnnotationGrammar)
	if err != nil {
		t.Fatalf("first Annotate: %v", err)
	}
	second, err := uc.Annotate(context.Background(), "a.mkv", "Something happened here.", 1.5, types.AnnotationGrammar)
	if err != nil {
		t.Fatalf("second Annotate: %v", err)
	}
	if ann.calls != 1 {
		t.Fatalf("cached hit must not call the annotator, got %d calls", ann.calls)
	}
	if first.Body != second.Body || second.Version != 1 {
		t.Fatalf("cached annotation changed: %+v vs %+v", first, second)
	}

	if _, err := uc.Annotate(context.Background(), "a.mkv", "text here okay", 0, "sentiment"); err == nil {
		t.Fatalf("unknown response type must fail")
	}
}
