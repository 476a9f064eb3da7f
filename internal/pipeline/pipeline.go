// Package pipeline wires the adapters together and runs the ingestion
// usecase for one video or a whole directory.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/forPelevin/dejavu/internal/ports"
	"github.com/forPelevin/dejavu/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/dejavu/internal/ports/adapters/openaichat"
	"github.com/forPelevin/dejavu/internal/ports/adapters/postgres"
	"github.com/forPelevin/dejavu/internal/ports/adapters/whispercpp"
	"github.com/forPelevin/dejavu/internal/types"
	"github.com/forPelevin/dejavu/internal/usecase"
)

// supportedExtensions are the container formats the directory scan picks up.
var supportedExtensions = map[string]bool{
	".mkv": true,
	".mp4": true,
	".avi": true,
	".mov": true,
	".wmv": true,
}

type Config struct {
	// VideoPath is a single video to process; VideosDir is scanned instead
	// when processing a whole library.
	VideoPath string
	VideosDir string

	// CacheDir is the base directory for local artifacts (audio, transcripts).
	// If empty, defaults to ".cache".
	CacheDir string
	// FramesDir is where sampled stills and thumbnails land. Defaults to
	// "frames".
	FramesDir string

	SilenceThreshold  float64
	MinSceneDuration  float64
	MaxFramesPerScene int
	FrameWorkers      int
	FrameTimeout      time.Duration
	Force             bool

	Logf func(format string, args ...any)

	FFmpegPath  string
	FFprobePath string

	WhisperBin   string
	WhisperModel string

	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAIBaseURL  string
	TargetLanguage string

	PostgresDSN string
}

func (c Config) Validate() error {
	if c.VideoPath == "" && c.VideosDir == "" {
		return errors.New("either a video path or a videos directory is required")
	}
	if c.VideoPath != "" {
		if _, err := os.Stat(c.VideoPath); err != nil {
			return fmt.Errorf("stat video: %w", err)
		}
	}
	if c.VideosDir != "" {
		info, err := os.Stat(c.VideosDir)
		if err != nil {
			return fmt.Errorf("stat videos dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", c.VideosDir)
		}
	}
	if c.WhisperModel == "" {
		return errors.New("whisper model path is required")
	}
	if c.PostgresDSN == "" {
		return errors.New("postgres dsn is required")
	}
	if c.MaxFramesPerScene < 0 {
		return errors.New("max frames per scene must be >= 0")
	}
	if c.FrameWorkers < 0 {
		return errors.New("frame workers must be >= 0")
	}
	return nil
}

// Run processes Config.VideoPath and returns its report.
func Run(ctx context.Context, cfg Config) (types.Report, error) {
	uc, store, err := build(ctx, cfg)
	if err != nil {
		return types.Report{}, err
	}
	defer store.Close()
	return runOne(ctx, cfg, uc, cfg.VideoPath)
}

// RunAll scans Config.VideosDir for supported containers and processes each
// in filename order. A failed video does not abort the rest; its error lands
// in the log and the scan continues.
func RunAll(ctx context.Context, cfg Config) ([]types.Report, error) {
	logf := logfOrNop(cfg.Logf)
	uc, store, err := build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	paths, err := scanVideos(cfg.VideosDir)
	if err != nil {
		return nil, err
	}
	logf("found %d videos in %s", len(paths), cfg.VideosDir)

	var reports []types.Report
	for _, p := range paths {
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		rep, err := runOne(ctx, cfg, uc, p)
		if err != nil {
			logf("%s failed: %v", filepath.Base(p), err)
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// Scenes loads the persisted scenes of one processed video.
func Scenes(ctx context.Context, cfg Config, video string) ([]types.Scene, error) {
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	uc := usecase.New(usecase.Deps{Store: store, Logf: cfg.Logf})
	return uc.Scenes(ctx, video)
}

func build(ctx context.Context, cfg Config) (usecase.Usecase, *postgres.Store, error) {
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return usecase.Usecase{}, nil, err
	}

	uc := usecase.New(usecase.Deps{
		Video:     ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath),
		ASR:       whispercpp.New(cfg.WhisperBin, cfg.WhisperModel),
		Annotator: openaichat.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.TargetLanguage),
		Store:     store,
		Logf:      logfOrNop(cfg.Logf),
	})
	return uc, store, nil
}

func runOne(ctx context.Context, cfg Config, uc usecase.Usecase, videoPath string) (types.Report, error) {
	baseCache := cfg.CacheDir
	if baseCache == "" {
		baseCache = ".cache"
	}
	framesDir := cfg.FramesDir
	if framesDir == "" {
		framesDir = "frames"
	}
	cacheDir := filepath.Join(baseCache, "runs", hash(videoPath))
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return types.Report{}, err
	}

	return uc.ProcessVideo(ctx, usecase.Input{
		VideoPath:         videoPath,
		CacheDir:          cacheDir,
		FramesDir:         framesDir,
		SilenceThreshold:  cfg.SilenceThreshold,
		MinSceneDuration:  cfg.MinSceneDuration,
		MaxFramesPerScene: cfg.MaxFramesPerScene,
		FrameWorkers:      cfg.FrameWorkers,
		FrameTimeout:      cfg.FrameTimeout,
		Force:             cfg.Force,
	})
}

func scanVideos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read videos dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func logfOrNop(logf func(string, ...any)) func(string, ...any) {
	if logf == nil {
		return func(string, ...any) {}
	}
	return logf
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// ensure adapters implement ports
var _ ports.VideoTool = (*ffmpeg.Adapter)(nil)
var _ ports.ASR = (*whispercpp.Adapter)(nil)
var _ ports.Annotator = (*openaichat.Adapter)(nil)
var _ ports.Store = (*postgres.Store)(nil)
