package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/vidocr/internal/batch"
	"github.com/MeKo-Tech/vidocr/internal/pipeline"
)

// runCmd runs the full pipeline on local files.
var runCmd = &cobra.Command{
	Use:   "run <file|dir>...",
	Short: "Run the full pipeline on videos or images",
	Long: `Run every stage on one or more inputs. Directories are searched for
video and image files. Each input is an independent run with its own lineage.

Examples:
  vidocr run clip.mp4
  vidocr run ./videos --recursive --continue-on-error
  vidocr run a.mp4 b.mp4 --format csv --output texts.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if !slices.Contains(batch.Formats, format) {
			return fmt.Errorf("invalid format %q (must be one of %v)", format, batch.Formats)
		}
		recursive, _ := cmd.Flags().GetBool("recursive")
		include, _ := cmd.Flags().GetStringSlice("include")
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		continueOnError, _ := cmd.Flags().GetBool("continue-on-error")
		progress, _ := cmd.Flags().GetBool("progress")
		outputFile, _ := cmd.Flags().GetString("output")

		cfg := GetConfig()
		comps, err := pipeline.Build(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		defer func() {
			if err := comps.Close(); err != nil {
				slog.Error("Pipeline cleanup error", "error", err)
			}
		}()

		orch, err := pipeline.New(comps.Stages, pipeline.WithObserver(runObserver(cmd, progress)))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := batch.ProcessBatch(ctx, orch, args, batch.Config{
			Recursive:       recursive,
			IncludePatterns: include,
			ExcludePatterns: exclude,
			ContinueOnError: continueOnError,
		})
		if err != nil && res == nil {
			return err
		}

		out, ferr := batch.FormatResults(res, format)
		if ferr != nil {
			return ferr
		}
		if werr := writeOutput(cmd, outputFile, out); werr != nil {
			return werr
		}
		if err != nil {
			return err
		}
		if n := res.Failed(); n > 0 {
			return fmt.Errorf("%d of %d runs failed: %w", n, len(res.Items), res.Err())
		}
		return nil
	},
}

// runObserver logs stage events at debug level and, with progress, draws
// them on stderr.
func runObserver(cmd *cobra.Command, progress bool) pipeline.Observer {
	var observer pipeline.Observer = pipeline.NewLogObserver(slog.Default(), slog.LevelDebug)
	if progress {
		observer = pipeline.MultiObserver{observer, pipeline.NewConsoleObserver(cmd.ErrOrStderr())}
	}
	return observer
}

// writeOutput writes to the file if given, else to stdout.
func writeOutput(cmd *cobra.Command, path, out string) error {
	if path == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	}
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	slog.Info("Results written", "path", path)
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("format", "f", "text", "output format (text, json, yaml, csv)")
	runCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	runCmd.Flags().BoolP("recursive", "r", false, "search directories recursively")
	runCmd.Flags().StringSlice("include", nil, "file patterns to include (e.g. *.mp4)")
	runCmd.Flags().StringSlice("exclude", nil, "file patterns to exclude")
	runCmd.Flags().Bool("continue-on-error", false, "keep going after a failed run")
	runCmd.Flags().Bool("progress", true, "show stage progress on stderr")
}
