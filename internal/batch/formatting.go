package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Formats lists the accepted output formats.
var Formats = []string{"text", "json", "yaml", "csv"}

// FormatResults renders a batch in the given format.
func FormatResults(res *Result, format string) (string, error) {
	switch format {
	case "json":
		return formatJSON(res)
	case "yaml":
		return formatYAML(res)
	case "csv":
		return formatCSV(res)
	case "text", "":
		return formatText(res), nil
	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}
}

func formatJSON(res *Result) (string, error) {
	bts, err := json.MarshalIndent(res, "", "  ")
	return string(bts) + "\n", err
}

func formatYAML(res *Result) (string, error) {
	bts, err := yaml.Marshal(res)
	return string(bts), err
}

// formatCSV writes one row per recognized text, or one row per input that
// produced none.
func formatCSV(res *Result) (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)
	rows := [][]string{{"file", "state", "video_id", "stage_failed", "code", "text_id", "text"}}

	for _, it := range res.Items {
		r := it.Result
		base := []string{it.File, string(r.State), strconv.FormatInt(r.VideoID, 10), string(r.StageFailed), r.Code.String()}
		if r.FinalPayload == nil || len(r.FinalPayload.Texts) == 0 {
			rows = append(rows, append(base, "", ""))
			continue
		}
		for i, text := range r.FinalPayload.Texts {
			var id string
			if i < len(r.FinalPayload.IDs) {
				id = strconv.FormatInt(r.FinalPayload.IDs[i], 10)
			}
			rows = append(rows, append(slices.Clone(base), id, text))
		}
	}

	if err := writer.WriteAll(rows); err != nil {
		return "", err
	}
	return output.String(), nil
}

func formatText(res *Result) string {
	var output strings.Builder
	for i, it := range res.Items {
		if i > 0 {
			output.WriteString("\n")
		}
		r := it.Result
		fmt.Fprintf(&output, "# %s\n", it.File)
		if !r.OK() {
			fmt.Fprintf(&output, "failed at %s (%s): %s\n", r.StageFailed, r.Code, r.Message)
			continue
		}
		fmt.Fprintf(&output, "video %d\n", r.VideoID)
		if r.FinalPayload == nil {
			continue
		}
		for _, text := range r.FinalPayload.Texts {
			output.WriteString(text)
			output.WriteString("\n")
		}
	}
	fmt.Fprintf(&output, "\n%d inputs, %d failed, %v\n", len(res.Items), res.Failed(), res.Duration.Round(time.Millisecond))
	return output.String()
}
