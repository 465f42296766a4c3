package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/vidocr/internal/models"
)

// modelsCmd lists the model files each stage loads and whether they exist.
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model files the stages need",
	Long: `List every model and label file the pipeline loads, where it is expected
under the models directory and whether it is present.

Examples:
  vidocr models
  vidocr models --models-dir /opt/vidocr/models`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir := GetConfig().ModelsDir
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "NAME\tTYPE\tSTATUS\tPATH")

		missing := 0
		for _, m := range models.ListAvailableModels() {
			path := models.ResolveModelPath(dir, m.Type, m.Filename)
			status := "ok"
			if err := models.ValidateModelExists(path); err != nil {
				status = "missing"
				missing++
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, m.Type, status, path)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if strict, _ := cmd.Flags().GetBool("strict"); strict && missing > 0 {
			return fmt.Errorf("%d model files missing in %s", missing, models.GetModelsDir(dir))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().Bool("strict", false, "fail when any model file is missing")
}
