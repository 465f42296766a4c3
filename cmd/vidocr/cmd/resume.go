package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/vidocr/internal/pipeline"
)

// resumeCmd reruns detect through recognize for a video that is already stored.
var resumeCmd = &cobra.Command{
	Use:   "resume <video-id>",
	Short: "Run the stages after ingest on a stored video",
	Long: `Run detect, preprocess-a, refine, preprocess-b and recognize for a video
that was ingested earlier, for example after a run failed midway. Every
rerun adds a new detection batch to the video's lineage.

Examples:
  vidocr resume 4
  vidocr resume 4 --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != "json" && format != "yaml" {
			return fmt.Errorf("invalid format %q (must be json or yaml)", format)
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid video id %q: must be a positive integer", args[0])
		}

		comps, err := pipeline.Build(GetConfig())
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		defer func() { _ = comps.Close() }()

		progress, _ := cmd.Flags().GetBool("progress")
		orch, err := pipeline.New(comps.Stages, pipeline.WithObserver(runObserver(cmd, progress)))
		if err != nil {
			return err
		}

		res := orch.Resume(cmd.Context(), id)
		if err := printStructured(cmd.OutOrStdout(), format, res); err != nil {
			return err
		}
		if !res.OK() {
			return fmt.Errorf("video %d failed at %s (%s): %s", id, res.StageFailed, res.Code, res.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().StringP("format", "f", "json", "output format (json, yaml)")
	resumeCmd.Flags().Bool("progress", false, "show stage progress on stderr")
}
