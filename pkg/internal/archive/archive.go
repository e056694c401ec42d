package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CheckRelative returns an error if the filename path escapes dir.
// This is used to protect against path traversal attacks when extracting
// archives. It also rejects absolute filename paths.
func CheckRelative(dir, filename string) (string, error) {
	if filepath.IsAbs(filename) {
		return "", fmt.Errorf("archive path has absolute path: %q", filename)
	}
	target := filepath.Join(dir, filename)
	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		target = resolved
		if resolved, err = filepath.EvalSymlinks(dir); err == nil {
			dir = resolved
		}
	}
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("archive file %q escapes %q", target, dir)
	}
	return target, nil
}

// CheckSymlink returns an error if the link path escapes dir.
// This is used to protect against path traversal attacks when extracting
// archives. It also rejects absolute linkname paths.
func CheckSymlink(dir, name, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("archive path has absolute link: %q", linkname)
	}
	_, err := CheckRelative(dir, filepath.Join(filepath.Dir(name), linkname))
	return err
}

// Untar extracts a tar stream into destination. Entries that would escape the
// destination directory are rejected. Note this doesn't handle files which
// have been deleted in layers.
func Untar(from io.Reader, destination string) error {
	tarReader := tar.NewReader(from)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		path, err := CheckRelative(destination, header.Name)
		if err != nil {
			return err
		}
		info := header.FileInfo()
		if info.IsDir() {
			if err = os.MkdirAll(path, info.Mode()); err != nil {
				return err
			}
			continue
		}

		if info.Mode()&os.ModeSymlink == os.ModeSymlink {
			if err := CheckSymlink(destination, header.Name, header.Linkname); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, path); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
		if err != nil {
			return err
		}
		if _, err := io.Copy(file, tarReader); err != nil {
			_ = file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return err
		}
	}
	return nil
}
