package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

const blobsDir = "blobs"

var allowedAlgorithms = map[digest.Algorithm]int{
	digest.SHA256: 64,
	digest.SHA512: 128,
}

// validateDigest ensures a digest's components are safe to use in filesystem
// paths before any path construction happens.
func validateDigest(dgst digest.Digest) error {
	hexLength, ok := allowedAlgorithms[dgst.Algorithm()]
	if !ok {
		return fmt.Errorf("digest algorithm %q not in allowlist", dgst.Algorithm())
	}
	encoded := dgst.Encoded()
	if len(encoded) != hexLength {
		return fmt.Errorf("digest hex has length %d, want %d", len(encoded), hexLength)
	}
	for _, c := range encoded {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("digest hex contains non-hexadecimal character %q", c)
		}
	}
	return nil
}

// blobPath returns the path of the blob with the given digest, guarding
// against traversal out of the store root.
func (s *LocalStore) blobPath(dgst digest.Digest) (string, error) {
	if err := validateDigest(dgst); err != nil {
		return "", fmt.Errorf("unsafe digest: %w", err)
	}

	path := filepath.Clean(filepath.Join(s.rootPath, blobsDir, string(dgst.Algorithm()), dgst.Encoded()))
	rel, err := filepath.Rel(filepath.Clean(s.rootPath), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path traversal attempt detected: %s", path)
	}
	return path, nil
}

func (s *LocalStore) hasBlob(dgst digest.Digest) (bool, error) {
	path, err := s.blobPath(dgst)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err == nil {
		return true, nil
	}
	return false, nil
}

func (s *LocalStore) removeBlob(dgst digest.Digest) error {
	path, err := s.blobPath(dgst)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// WriteBlob stores data whose digest is already known. Existing blobs are not
// rewritten and the reader is not consumed for them.
func (s *LocalStore) WriteBlob(dgst digest.Digest, r io.Reader) error {
	has, err := s.hasBlob(dgst)
	if err != nil {
		return fmt.Errorf("check blob existence: %w", err)
	}
	if has {
		return nil
	}

	path, err := s.blobPath(dgst)
	if err != nil {
		return err
	}
	f, err := createFile(incompletePath(path))
	if err != nil {
		return fmt.Errorf("create blob file: %w", err)
	}
	defer os.Remove(incompletePath(path))
	defer f.Close()

	verifier := dgst.Verifier()
	if _, err := io.Copy(io.MultiWriter(f, verifier), r); err != nil {
		return fmt.Errorf("copy blob %s to store: %w", dgst, err)
	}
	if !verifier.Verified() {
		return fmt.Errorf("blob %s content does not match digest", dgst)
	}

	f.Close() // Rename fails on Windows while the file is open.
	if err := os.Rename(incompletePath(path), path); err != nil {
		return fmt.Errorf("rename blob file: %w", err)
	}
	return nil
}

// ingestFile copies a staged file into the blob store, hashing while copying.
// It returns the blob digest and size.
func (s *LocalStore) ingestFile(src string) (digest.Digest, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("open staged file: %w", err)
	}
	defer in.Close()

	dir := filepath.Join(s.rootPath, blobsDir, string(digest.SHA256))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create blob directory: %w", err)
	}
	out, err := os.CreateTemp(dir, "ingest-*.incomplete")
	if err != nil {
		return "", 0, fmt.Errorf("create staging file: %w", err)
	}
	stagingPath := out.Name()
	defer os.Remove(stagingPath)
	defer out.Close()

	digester := digest.SHA256.Digester()
	size, err := io.Copy(io.MultiWriter(out, digester.Hash()), in)
	if err != nil {
		return "", 0, fmt.Errorf("ingest %s: %w", filepath.Base(src), err)
	}
	out.Close()

	dgst := digester.Digest()
	path, err := s.blobPath(dgst)
	if err != nil {
		return "", 0, err
	}
	if _, err := os.Stat(path); err == nil {
		// Blob already present, keep the existing copy.
		return dgst, size, nil
	}
	if err := os.Rename(stagingPath, path); err != nil {
		return "", 0, fmt.Errorf("publish blob %s: %w", dgst, err)
	}
	return dgst, size, nil
}

// createFile creates path along with any missing parent directories.
func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory %q: %w", filepath.Dir(path), err)
	}
	return os.Create(path)
}

// incompletePath returns the in-flight path used before a blob is published.
func incompletePath(path string) string {
	return path + ".incomplete"
}
