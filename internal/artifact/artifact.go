// Package artifact collects build outputs: best-effort extraction of known
// files from the shared volume mount, and glob-pattern archiving into the
// build's artifact directory.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-zglob"

	"github.com/rancher/qa-infra-pipeline/internal/resources"
)

// Store archives files from SrcDir into DestDir.
type Store struct {
	SrcDir  string
	DestDir string
}

func NewStore(srcDir, destDir string) *Store {
	return &Store{SrcDir: srcDir, DestDir: destDir}
}

// Extract copies known files into the store. Missing sources are logged and
// skipped, never fatal: failure artifacts are collected on a best-effort
// basis.
func (s *Store) Extract(files map[string]string) {
	for src, dst := range files {
		srcPath := src
		if !filepath.IsAbs(srcPath) {
			srcPath = filepath.Join(s.SrcDir, src)
		}

		if _, err := os.Stat(srcPath); err != nil {
			resources.LogLevel("warn", "Skipping missing artifact source: %s", srcPath)
			continue
		}

		destPath := filepath.Join(s.DestDir, dst)
		if err := resources.CopyFileContents(srcPath, destPath); err != nil {
			resources.LogLevel("warn", "Failed to extract %s: %v", srcPath, err)
		}
	}
}

// Archive copies every file matching the ordered pattern list into DestDir,
// preserving paths relative to SrcDir. An empty pattern list archives nothing
// and is not an error. Returns the relative paths of archived files.
func (s *Store) Archive(patterns []string) ([]string, error) {
	var archived []string

	for _, pattern := range patterns {
		matches, err := zglob.Glob(filepath.Join(s.SrcDir, pattern))
		if err != nil {
			resources.LogLevel("warn", "Bad artifact pattern %q: %v", pattern, err)
			continue
		}

		for _, match := range matches {
			info, statErr := os.Stat(match)
			if statErr != nil || info.IsDir() {
				continue
			}

			rel, relErr := filepath.Rel(s.SrcDir, match)
			if relErr != nil {
				rel = filepath.Base(match)
			}

			if err := resources.CopyFileContents(match, filepath.Join(s.DestDir, rel)); err != nil {
				return archived, fmt.Errorf("archive %s: %w", rel, err)
			}
			archived = append(archived, rel)
		}
	}

	resources.LogLevel("info", "Archived %d artifact(s) into %s", len(archived), s.DestDir)

	return archived, nil
}
