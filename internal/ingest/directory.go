package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/doc-analyzer/constants"
)

// DirStats summarizes a directory scan.
type DirStats struct {
	Scanned uint32
	Matched uint32
	Skipped uint32
	Failed  uint32
}

// CollectDirectory walks root in lexical order and returns a FileHandle for every
// file with an allowed extension. Unreadable entries are counted, not fatal.
func CollectDirectory(root string, skipHidden bool) ([]Handle, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var handles []Handle
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			stats.Skipped++
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			stats.Skipped++
			return nil
		}
		stats.Matched++
		handles = append(handles, FileHandle{
			Path: path,
			Type: constants.MediaTypeForExt(filepath.Ext(path)),
		})
		return nil
	})
	if err != nil {
		return handles, stats, fmt.Errorf("walk: %w", err)
	}
	return handles, stats, nil
}
