package diskusage

import (
	"errors"
	"io/fs"
	"path/filepath"
)

// Size returns the total size in bytes of the file or directory tree rooted
// at path. A missing path counts as zero; files vanishing mid-walk are
// tolerated.
func Size(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	return total, err
}
