package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := &cobra.Command{
		Use:          "dejavu",
		Short:        "Ingest narrated videos into a dedup-aware sentence corpus",
		SilenceUsage: true,
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	process := &cobra.Command{
		Use:   "process <video>",
		Short: "Transcribe, deduplicate and persist one video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, args[0])
		},
	}
	addProcessFlags(process)

	processAll := &cobra.Command{
		Use:   "process-all <dir>",
		Short: "Scan a directory and process every new or changed video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcessAll(cmd, args[0])
		},
	}
	addProcessFlags(processAll)

	scenes := &cobra.Command{
		Use:   "scenes <video>",
		Short: "Print the persisted scenes of a processed video as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenes(cmd, args[0])
		},
	}

	root.AddCommand(process, processAll, scenes)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addProcessFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("force", false, "Reprocess even if the video is unchanged")
	cmd.Flags().Float64("silence", 5.0, "Silence gap in seconds that starts a new scene")
	cmd.Flags().Float64("min-scene", 10.0, "Minimum scene duration in seconds")
	cmd.Flags().Int("max-frames", 3, "Maximum frames sampled per scene")
	cmd.Flags().Int("workers", 3, "Concurrent frame extraction workers")
	cmd.Flags().String("frames-dir", "frames", "Directory for sampled stills and thumbnails")
	cmd.Flags().String("cache-dir", ".cache", "Directory for audio and transcript artifacts")
}
