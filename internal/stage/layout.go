package stage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
)

// Layout decides where stage outputs are written. Every name embeds the
// parent record id and a fresh UUID, so concurrent runs and re-runs over the
// same input never write to the same path.
type Layout struct {
	Root string
}

// Dir returns the directory that holds a stage's outputs.
func (l Layout) Dir(s lineage.Stage) string {
	return filepath.Join(l.Root, string(s))
}

// NewPath returns a fresh file path for an output derived from parentID.
func (l Layout) NewPath(s lineage.Stage, parentID int64, ext string) string {
	name := fmt.Sprintf("%s_%d_%s%s", prefix(s), parentID, uuid.NewString(), ext)
	return filepath.Join(l.Dir(s), name)
}

// NewDir returns a fresh directory path for a batch of outputs derived from
// parentID. The directory is not created.
func (l Layout) NewDir(s lineage.Stage, parentID int64) string {
	return filepath.Join(l.Dir(s), fmt.Sprintf("%s_%d_%s", prefix(s), parentID, uuid.NewString()))
}

func prefix(s lineage.Stage) string {
	return strings.ReplaceAll(string(s), "-", "_")
}
