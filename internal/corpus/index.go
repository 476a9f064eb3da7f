// Package corpus builds an in-memory index of every sentence already spoken
// in completed videos, matches new sentences against it and copies cached
// annotations from the first occurrence to the new one.
package corpus

import (
	"context"
	"fmt"
	"sort"

	"github.com/forPelevin/dejavu/internal/domain/sentences"
	"github.com/forPelevin/dejavu/internal/types"
)

// Store is the slice of the persistence contract the corpus needs. ports.Store
// satisfies it; tests fake just these four methods.
type Store interface {
	CompletedVideos(ctx context.Context) ([]types.VideoState, error)
	Segments(ctx context.Context, video string) ([]types.Segment, error)
	GetAnnotation(ctx context.Context, fingerprint, responseType, customPrompt string) (types.Annotation, bool, error)
	SaveAnnotation(ctx context.Context, ann types.Annotation) error
}

// Entry records where a normalized sentence was first spoken. Text and Start
// come from the origin occurrence so its fingerprint can be re-derived.
type Entry struct {
	Video           string
	Text            string
	Start           float64
	AnnotationCount int
}

// Index maps normalized sentence text to its first occurrence across the
// completed corpus.
type Index struct {
	entries map[string]Entry
	logf    func(format string, args ...any)
}

// Len reports how many distinct normalized sentences the index holds.
func (ix *Index) Len() int { return len(ix.entries) }

// Lookup returns the first-occurrence entry for a normalized sentence.
func (ix *Index) Lookup(normalized string) (Entry, bool) {
	e, ok := ix.entries[normalized]
	return e, ok
}

// Build loads every completed video except exclude, re-derives its sentences
// from the stored segments and indexes them by normalized text. Videos are
// visited in filename order and the first occurrence wins, so the index is
// deterministic regardless of processing history. Each entry also counts the
// cached annotations available at the origin occurrence.
//
// Failures scope to one video: unreadable segment rows skip that video, an
// unreadable annotation count degrades to zero. Only a failed video listing
// aborts the build.
func Build(ctx context.Context, store Store, exclude string, logf func(string, ...any)) (*Index, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	states, err := store.CompletedVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("list completed videos: %w", err)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Video < states[j].Video })

	ix := &Index{entries: make(map[string]Entry), logf: logf}
	for _, st := range states {
		if st.Video == exclude {
			continue
		}
		segs, err := store.Segments(ctx, st.Video)
		if err != nil {
			logf("corpus: skipping %s: %v", st.Video, err)
			continue
		}
		ss, _ := sentences.SplitAll(st.Video, segs)
		for _, s := range sentences.Dedup(ss) {
			if _, ok := ix.entries[s.Normalized]; ok {
				continue
			}
			n, err := countAnnotations(ctx, store, s)
			if err != nil {
				logf("corpus: annotation count for %s unavailable: %v", st.Video, err)
				n = 0
			}
			ix.entries[s.Normalized] = Entry{
				Video:           s.Video,
				Text:            s.Text,
				Start:           s.Start,
				AnnotationCount: n,
			}
		}
	}
	return ix, nil
}

func countAnnotations(ctx context.Context, store Store, s types.Sentence) (int, error) {
	fp := types.Fingerprint(s.Text, s.Video, s.Start)
	var n int
	for _, rt := range types.ResponseTypes {
		if _, ok, err := store.GetAnnotation(ctx, fp, rt, ""); err != nil {
			return 0, err
		} else if ok {
			n++
		}
	}
	return n, nil
}

// Match flags every sentence whose normalized text already exists in the
// index, recording the origin video and how many annotations can be reused.
// It returns the number of cross-video duplicates found.
func (ix *Index) Match(ss []types.Sentence) int {
	var dups int
	for i := range ss {
		e, ok := ix.entries[ss[i].Normalized]
		if !ok {
			continue
		}
		dups++
		ss[i].OriginVideo = e.Video
		ss[i].AnnotationCount = e.AnnotationCount
		ss[i].HasCachedAnnotations = e.AnnotationCount > 0
	}
	return dups
}

// CopyAnnotations copies cached annotations from each flagged sentence's
// origin occurrence to the new occurrence. Each response type is copied
// independently: a fetch or save failure on one type is logged and counted,
// and the remaining types still copy. The copy is by value: later edits to
// either occurrence never affect the other. Returns the number of annotations
// reused and the number of per-type copy failures.
func (ix *Index) CopyAnnotations(ctx context.Context, store Store, ss []types.Sentence) (reused, failed int) {
	for _, s := range ss {
		if !s.HasCachedAnnotations {
			continue
		}
		e, ok := ix.entries[s.Normalized]
		if !ok {
			continue
		}
		originFP := types.Fingerprint(e.Text, e.Video, e.Start)
		targetFP := types.Fingerprint(s.Text, s.Video, s.Start)
		for _, rt := range types.ResponseTypes {
			ann, ok, err := store.GetAnnotation(ctx, originFP, rt, "")
			if err != nil {
				ix.logf("corpus: %s annotation from %s unavailable: %v", rt, e.Video, err)
				failed++
				continue
			}
			if !ok {
				continue
			}
			ann.Fingerprint = targetFP
			ann.IsEdited = false
			ann.EditedBody = ""
			if err := store.SaveAnnotation(ctx, ann); err != nil {
				ix.logf("corpus: copying %s annotation to %s failed: %v", rt, s.Video, err)
				failed++
				continue
			}
			reused++
		}
	}
	return reused, failed
}
