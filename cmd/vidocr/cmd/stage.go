package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/pipeline"
	"github.com/MeKo-Tech/vidocr/internal/stage"
)

// stageCmd runs one stage, the CLI counterpart of POST /stages/{stage}.
var stageCmd = &cobra.Command{
	Use:   "stage <name> <id|file>",
	Short: "Run a single stage",
	Long: `Run one stage on the record it consumes. Stages after ingest take the
id printed by the previous stage; ingest takes a file path.

Stages: ingest, detect, preprocess-a, refine, preprocess-b, recognize

Examples:
  vidocr stage ingest clip.mp4
  vidocr stage detect 1
  vidocr stage recognize 7 --format yaml`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != "json" && format != "yaml" {
			return fmt.Errorf("invalid format %q (must be json or yaml)", format)
		}
		st, err := lineage.ParseStage(args[0])
		if err != nil {
			return err
		}
		var id int64
		if st != lineage.StageIngest {
			id, err = strconv.ParseInt(args[1], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid id %q: must be a positive integer", args[1])
			}
		}

		comps, err := pipeline.Build(GetConfig())
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		defer func() { _ = comps.Close() }()

		res := runStage(cmd.Context(), comps.Stages, st, id, args[1])
		if err := printStructured(cmd.OutOrStdout(), format, res); err != nil {
			return err
		}
		if res.Status.IsError() {
			return res.Err()
		}
		return nil
	},
}

func runStage(ctx context.Context, stages pipeline.Stages, st lineage.Stage, id int64, path string) stage.Result {
	start := time.Now()
	var res stage.Result
	if st == lineage.StageIngest {
		res = stages.Ingest.IngestFile(ctx, path)
	} else if exec, ok := stages.Executor(st); ok {
		res = exec.Execute(ctx, id)
	} else {
		res = stage.ClientError(st, "no executor for stage %s", st)
	}
	slog.Info("Stage executed", "stage", st, "status", res.Status, "outputs", len(res.IDs),
		"duration", time.Since(start).Round(time.Millisecond))
	return res
}

// printStructured writes v as indented JSON or YAML.
func printStructured(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func init() {
	rootCmd.AddCommand(stageCmd)
	stageCmd.Flags().StringP("format", "f", "json", "output format (json, yaml)")
}
