package storage

import (
	"errors"
	"io/fs"
	"path/filepath"
)

// Usage is the on-disk footprint of an index root.
type Usage struct {
	Bytes int64
	Files int
}

// MeasureUsage sums the regular files below root. A missing root measures as
// empty, and files that vanish during the walk are skipped, because a
// concurrent rebuild may prune generations while the walk runs.
func MeasureUsage(root string) (Usage, error) {
	var u Usage
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		u.Bytes += info.Size()
		u.Files++
		return nil
	})
	if err != nil {
		return Usage{}, err
	}
	return u, nil
}
