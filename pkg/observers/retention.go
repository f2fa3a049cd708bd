package observers

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

const timelineExt = ".jsonl"

// PurgeTimelines removes timeline files in dir whose last write is older
// than maxAge and returns how many were deleted. A missing dir or a
// non-positive maxAge is a no-op.
func PurgeTimelines(dir string, maxAge time.Duration) (int, error) {
	if dir == "" || maxAge <= 0 {
		return 0, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*"+timelineExt))
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs error
	for _, p := range paths {
		info, err := os.Stat(p)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			errs = errors.Join(errs, err)
			continue
		case info.IsDir() || info.ModTime().After(cutoff):
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = errors.Join(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}
