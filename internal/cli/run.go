package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/dejavu/internal/pipeline"
)

func runProcess(cmd *cobra.Command, input string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	cfg.VideoPath = abs
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Hour)
	defer cancel()

	rep, err := pipeline.Run(ctx, cfg)
	if err != nil {
		return err
	}
	return printJSON(cmd, rep)
}

func runProcessAll(cmd *cobra.Command, dir string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	cfg.VideosDir = abs
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Hour)
	defer cancel()

	reports, err := pipeline.RunAll(ctx, cfg)
	if err != nil {
		return err
	}
	return printJSON(cmd, reports)
}

func runScenes(cmd *cobra.Command, video string) error {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return errors.New("DATABASE_URL is required (set it in .env)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scs, err := pipeline.Scenes(ctx, pipeline.Config{PostgresDSN: dsn, Logf: log.Printf}, video)
	if err != nil {
		return err
	}
	return printJSON(cmd, scs)
}

func buildConfig(cmd *cobra.Command) (pipeline.Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return pipeline.Config{}, errors.New("DATABASE_URL is required (set it in .env)")
	}

	force, _ := cmd.Flags().GetBool("force")
	silence, _ := cmd.Flags().GetFloat64("silence")
	minScene, _ := cmd.Flags().GetFloat64("min-scene")
	maxFrames, _ := cmd.Flags().GetInt("max-frames")
	workers, _ := cmd.Flags().GetInt("workers")
	framesDir, _ := cmd.Flags().GetString("frames-dir")
	cacheDir, _ := cmd.Flags().GetString("cache-dir")

	return pipeline.Config{
		CacheDir:  cacheDir,
		FramesDir: framesDir,

		SilenceThreshold:  silence,
		MinSceneDuration:  minScene,
		MaxFramesPerScene: maxFrames,
		FrameWorkers:      workers,
		Force:             force,

		Logf: log.Printf,

		FFmpegPath:  getenvDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getenvDefault("FFPROBE_PATH", "ffprobe"),

		WhisperBin:   getenvDefault("WHISPER_BIN", ".cache/bin/whisper.cpp"),
		WhisperModel: getenvDefault("WHISPER_MODEL", ".cache/models/ggml-base.bin"),

		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:  os.Getenv("OPENAI_BASE_URL"),
		TargetLanguage: os.Getenv("TARGET_LANGUAGE"),

		PostgresDSN: dsn,
	}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
