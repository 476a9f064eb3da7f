package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forPelevin/dejavu/internal/domain/frames"
	"github.com/forPelevin/dejavu/internal/types"
)

const (
	defaultFrameWorkers = 3
	defaultFrameTimeout = 30 * time.Second
	thumbWidth          = 320
	thumbHeight         = 240
)

type frameJob struct {
	sceneIndex int
	timestamp  float64
}

// sampleFrames extracts one still per selected timestamp with a fixed-size
// worker pool. Every frame runs under its own deadline; a decode failure or
// timeout skips that frame only. Timestamps past the media duration are
// skipped up front since seeking there cannot produce a frame. The pool is
// fully drained before returning, so persistence never races extraction.
func (u Usecase) sampleFrames(ctx context.Context, in Input, video string, scs []types.Scene, duration float64) ([]types.Frame, int) {
	var jobs []frameJob
	for _, sc := range scs {
		for _, ts := range frames.Timestamps(sc, in.MaxFramesPerScene) {
			if duration > 0 && ts > duration {
				u.logf("frame at %.2fs beyond media end (%.2fs), skipping", ts, duration)
				continue
			}
			jobs = append(jobs, frameJob{sceneIndex: sc.Index, timestamp: ts})
		}
	}
	if len(jobs) == 0 {
		return nil, 0
	}

	workers := in.FrameWorkers
	if workers <= 0 {
		workers = defaultFrameWorkers
	}
	timeout := in.FrameTimeout
	if timeout <= 0 {
		timeout = defaultFrameTimeout
	}

	jobCh := make(chan frameJob)
	results := make(chan types.Frame, len(jobs))
	var failed int
	var failedMu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				f, err := u.extractFrame(ctx, in, video, job, timeout)
				if err != nil {
					u.logf("frame at %.2fs skipped: %v", job.timestamp, err)
					failedMu.Lock()
					failed++
					failedMu.Unlock()
					continue
				}
				results <- f
			}
		}()
	}

	for _, job := range jobs {
		select {
		case jobCh <- job:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobCh)
	wg.Wait()
	close(results)

	out := make([]types.Frame, 0, len(jobs))
	for f := range results {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SceneIndex != out[j].SceneIndex {
			return out[i].SceneIndex < out[j].SceneIndex
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, failed
}

func (u Usecase) extractFrame(ctx context.Context, in Input, video string, job frameJob, timeout time.Duration) (types.Frame, error) {
	frameCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stem := uuid.NewString()
	imagePath := filepath.Join(in.FramesDir, videoStem(video), stem+".jpg")
	if err := os.MkdirAll(filepath.Dir(imagePath), 0o755); err != nil {
		return types.Frame{}, err
	}
	if err := u.d.Video.FrameAt(frameCtx, in.VideoPath, job.timestamp, imagePath); err != nil {
		return types.Frame{}, err
	}

	img, err := frames.Load(imagePath)
	if err != nil {
		return types.Frame{}, err
	}

	thumbPath := filepath.Join(in.FramesDir, videoStem(video), stem+"_thumb.jpg")
	thumb, err := frames.Thumbnail(img, thumbWidth, thumbHeight)
	if err != nil {
		return types.Frame{}, fmt.Errorf("thumbnail: %w", err)
	}
	if err := writeFile(thumbPath, thumb); err != nil {
		return types.Frame{}, err
	}

	return types.Frame{
		Video:      video,
		SceneIndex: job.sceneIndex,
		Timestamp:  job.timestamp,
		ImagePath:  imagePath,
		ThumbPath:  thumbPath,
		Signature:  frames.Signature(img),
	}, nil
}

func videoStem(video string) string {
	return strings.TrimSuffix(video, filepath.Ext(video))
}
