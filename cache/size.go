package cache

import (
	"os"

	"github.com/go-git/go-billy/v5/util"
)

// MeasureSize returns the disk usage of path: the summed size of every
// regular file below it. Symlinks are not followed.
func (s *Store) MeasureSize(path string) (int64, error) {
	var size int64

	err := util.Walk(s.fs, path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, diskError(err, "failed to measure clone size", path)
	}

	return size, nil
}
