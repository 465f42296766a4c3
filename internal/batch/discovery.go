package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/MeKo-Tech/vidocr/internal/utils"
	"github.com/MeKo-Tech/vidocr/internal/video"
)

// IsSupportedInput reports whether a file can be ingested, as a video or a
// single still.
func IsSupportedInput(path string) bool {
	return video.IsVideo(path) || utils.IsSupportedImage(path)
}

// DiscoverInputs expands files and directories into the list of inputs to
// run. Files named explicitly are kept even without a known extension;
// directory entries must be supported inputs.
func DiscoverInputs(args []string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	var inputs []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			files, err := discoverInDirectory(arg, recursive, includePatterns, excludePatterns)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, files...)
		} else if shouldIncludeFile(arg, includePatterns, excludePatterns) {
			inputs = append(inputs, arg)
		}
	}

	return slices.Compact(inputs), nil
}

// discoverInDirectory walks a directory for supported inputs in lexical order.
func discoverInDirectory(dir string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	var files []string

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		if IsSupportedInput(path) && shouldIncludeFile(path, includePatterns, excludePatterns) {
			files = append(files, path)
		}
		return nil
	}

	return files, filepath.WalkDir(dir, walkFn)
}

// shouldIncludeFile applies exclude patterns first, then include patterns if any.
func shouldIncludeFile(path string, includePatterns, excludePatterns []string) bool {
	if matchesAnyPattern(path, excludePatterns) {
		return false
	}
	if len(includePatterns) == 0 {
		return true
	}
	return matchesAnyPattern(path, includePatterns)
}

// matchesAnyPattern matches the base name of path against shell patterns.
func matchesAnyPattern(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
