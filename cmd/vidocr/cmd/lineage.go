package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/vidocr/internal/pipeline"
)

// lineageCmd prints every record derived from one video.
var lineageCmd = &cobra.Command{
	Use:   "lineage <video-id>",
	Short: "Show the lineage of a video",
	Long: `Print the video record and everything derived from it: detection batches,
crops, preprocessed images, refined detections, sharpened images and
recognized texts.

Examples:
  vidocr lineage 3
  vidocr lineage 3 --format yaml --verify`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != "json" && format != "yaml" {
			return fmt.Errorf("invalid format %q (must be json or yaml)", format)
		}
		verify, _ := cmd.Flags().GetBool("verify")
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid video id %q: must be a positive integer", args[0])
		}

		st, err := pipeline.OpenStore(GetConfig().Database)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		chain, err := st.Lineage(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("lineage of video %d: %w", id, err)
		}
		if verify {
			if err := chain.Verify(); err != nil {
				return fmt.Errorf("lineage of video %d is broken: %w", id, err)
			}
		}
		return printStructured(cmd.OutOrStdout(), format, chain)
	},
}

func init() {
	rootCmd.AddCommand(lineageCmd)
	lineageCmd.Flags().StringP("format", "f", "json", "output format (json, yaml)")
	lineageCmd.Flags().Bool("verify", false, "check that every record links back to the video")
}
