package detector

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadLabels reads class names, one per line. Blank lines and lines starting
// with # are skipped. An empty path yields no labels.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path) //nolint:gosec // G304: configured path
	if err != nil {
		return nil, fmt.Errorf("open labels %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read labels %s: %w", path, err)
	}
	return labels, nil
}

// label returns the name for class, or "" when unknown.
func label(labels []string, class int) string {
	if class >= 0 && class < len(labels) {
		return labels[class]
	}
	return ""
}
