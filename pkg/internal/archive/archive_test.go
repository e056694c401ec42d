package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func makeTar(t *testing.T, entries map[string]string) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	tw := tar.NewWriter(buf)
	for name, content := range entries {
		if err := tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}); err != nil {
			t.Fatalf("writing header for %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("writing content for %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
	return buf
}

func TestUntar(t *testing.T) {
	dir := t.TempDir()
	src := makeTar(t, map[string]string{
		"bin/engine":      "binary bits",
		"lib/libggml.so":  "library bits",
		"share/README.md": "docs",
	})
	if err := Untar(src, dir); err != nil {
		t.Fatalf("Untar failed: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "bin", "engine"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(content) != "binary bits" {
		t.Errorf("unexpected content: %q", content)
	}
	if _, err := os.Stat(filepath.Join(dir, "lib", "libggml.so")); err != nil {
		t.Errorf("expected lib/libggml.so to exist: %v", err)
	}
}

func TestUntarRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	src := makeTar(t, map[string]string{
		"../escape": "should not be written",
	})
	if err := Untar(src, dir); err == nil {
		t.Fatal("expected traversal entry to be rejected")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape")); err == nil {
		t.Error("traversal entry was written outside the destination")
	}
}

func TestCheckRelative(t *testing.T) {
	dir := t.TempDir()
	if _, err := CheckRelative(dir, "/etc/passwd"); err == nil {
		t.Error("expected absolute path to be rejected")
	}
	if _, err := CheckRelative(dir, "../sibling"); err == nil {
		t.Error("expected parent escape to be rejected")
	}
	path, err := CheckRelative(dir, "nested/file.bin")
	if err != nil {
		t.Fatalf("unexpected error for safe path: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(dir, "nested") {
		t.Errorf("unexpected resolved path: %s", path)
	}
}

func TestCheckSymlink(t *testing.T) {
	dir := t.TempDir()
	if err := CheckSymlink(dir, "lib/liba.so", "liba.so.1"); err != nil {
		t.Errorf("sibling link should be allowed: %v", err)
	}
	if err := CheckSymlink(dir, "lib/liba.so", "/usr/lib/liba.so"); err == nil {
		t.Error("absolute link should be rejected")
	}
	if err := CheckSymlink(dir, "lib/liba.so", "../../outside"); err == nil {
		t.Error("escaping link should be rejected")
	}
}
