package artifact_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
)

func newTestStore(t *testing.T) *artifact.LocalStore {
	t.Helper()
	s, err := artifact.NewLocalStore(artifact.Options{
		RootPath: filepath.Join(t.TempDir(), "artifact-store"),
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

func stageFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to stage file: %v", err)
	}
	return path
}

func testSaveOptions(t *testing.T, weightContent string) artifact.SaveOptions {
	t.Helper()
	return artifact.SaveOptions{
		Config: artifact.Config{
			Family:     "flan-t5",
			Pretrained: "google/flan-t5-large",
			Backend:    "llamacpp",
			Task:       "text2text-generation",
			Format:     "gguf",
		},
		Weights: []artifact.Source{
			{Name: "model.gguf", Path: stageFile(t, "model.gguf", weightContent)},
		},
		CustomObjects: map[string]artifact.Source{
			artifact.TokenizerObject: {
				Name: "tokenizer.json",
				Path: stageFile(t, "tokenizer.json", `{"model":{"type":"unigram"}}`),
			},
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const tag = "llamacpp/google--flan-t5-large:0123456789ab"
	saved, err := s.Save(ctx, tag, testSaveOptions(t, "weights-v1"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.Tag() != tag {
		t.Errorf("saved tag = %q, want %q", saved.Tag(), tag)
	}
	if saved.ID() == "" {
		t.Error("saved artifact has empty ID")
	}

	got, err := s.Get(ctx, tag)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID() != saved.ID() {
		t.Errorf("Get ID = %s, want %s", got.ID(), saved.ID())
	}
	if got.Config().Family != "flan-t5" {
		t.Errorf("config family = %q, want flan-t5", got.Config().Family)
	}
	paths := got.WeightPaths()
	if len(paths) != 1 {
		t.Fatalf("got %d weight paths, want 1", len(paths))
	}
	content, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("reading weight blob: %v", err)
	}
	if string(content) != "weights-v1" {
		t.Errorf("weight blob content = %q, want weights-v1", content)
	}

	tokPath, ok := got.CustomObject(artifact.TokenizerObject)
	if !ok {
		t.Fatal("tokenizer custom object missing")
	}
	if _, err := os.Stat(tokPath); err != nil {
		t.Errorf("tokenizer blob unreadable: %v", err)
	}
	objects := got.CustomObjects()
	if len(objects) != 1 {
		t.Errorf("custom objects = %v", objects)
	}
	if obj, ok := objects[artifact.TokenizerObject]; !ok || obj.Name != "tokenizer.json" {
		t.Errorf("tokenizer object = %+v", obj)
	}
	weights := got.Weights()
	if len(weights) != 1 || weights[0].Name != "model.gguf" {
		t.Errorf("weights = %+v", weights)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "llamacpp/nope:000000000000")
	if !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestSaveValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Save(ctx, "Bad Tag!", testSaveOptions(t, "w")); !errors.Is(err, artifact.ErrInvalidTag) {
		t.Errorf("invalid tag error = %v, want ErrInvalidTag", err)
	}
	if _, err := s.Save(ctx, "llamacpp/m:000000000000", artifact.SaveOptions{}); err == nil {
		t.Error("expected error for save without weights")
	}
}

func TestSaveIsIdempotentForTag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	const tag = "llamacpp/m:aaaaaaaaaaaa"

	first, err := s.Save(ctx, tag, testSaveOptions(t, "same-bytes"))
	if err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	second, err := s.Save(ctx, tag, testSaveOptions(t, "same-bytes"))
	if err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	if first.WeightPaths()[0] != second.WeightPaths()[0] {
		t.Error("identical content should share a blob")
	}

	got, err := s.Get(ctx, tag)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Tag() != tag {
		t.Errorf("tag = %q, want %q", got.Tag(), tag)
	}
}

func TestSaveMovesTag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	const tag = "llamacpp/m:bbbbbbbbbbbb"

	old, err := s.Save(ctx, tag, testSaveOptions(t, "old-weights"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	updated, err := s.Save(ctx, tag, testSaveOptions(t, "new-weights"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if old.ID() == updated.ID() {
		t.Fatal("different content should produce different IDs")
	}

	got, err := s.Get(ctx, tag)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID() != updated.ID() {
		t.Errorf("tag resolves to %s, want %s", got.ID(), updated.ID())
	}
	// The previous artifact is still reachable by ID.
	if _, err := s.Get(ctx, old.ID().String()); err != nil {
		t.Errorf("old artifact by ID: %v", err)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	arts, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(arts) != 0 {
		t.Fatalf("empty store lists %d artifacts", len(arts))
	}

	if _, err := s.Save(ctx, "llamacpp/a:111111111111", testSaveOptions(t, "a")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := s.Save(ctx, "llamacpp/b:222222222222", testSaveOptions(t, "b")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	arts, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(arts) != 2 {
		t.Errorf("List returned %d artifacts, want 2", len(arts))
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	const tag = "llamacpp/m:cccccccccccc"

	saved, err := s.Save(ctx, tag, testSaveOptions(t, "delete-me"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	weightPath := saved.WeightPaths()[0]

	if err := s.Delete(ctx, tag); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, tag); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(weightPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("weight blob should be removed, stat err = %v", err)
	}

	if err := s.Delete(ctx, tag); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteKeepsSharedBlobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Two artifacts with identical weight bytes share the weight blob but
	// differ in config, hence in identity.
	optsA := testSaveOptions(t, "shared-weights")
	optsA.Config.Pretrained = "org/model-a"
	optsB := testSaveOptions(t, "shared-weights")
	optsB.Config.Pretrained = "org/model-b"

	a, err := s.Save(ctx, "llamacpp/a:dddddddddddd", optsA)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	b, err := s.Save(ctx, "llamacpp/b:eeeeeeeeeeee", optsB)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if a.ID() == b.ID() {
		t.Fatal("artifacts with different configs must have different IDs")
	}

	if err := s.Delete(ctx, "llamacpp/a:dddddddddddd"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err := s.Get(ctx, "llamacpp/b:eeeeeeeeeeee")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := os.Stat(got.WeightPaths()[0]); err != nil {
		t.Errorf("shared weight blob should survive: %v", err)
	}
}

func TestGetCorrupt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	const tag = "llamacpp/m:ffffffffffff"

	saved, err := s.Save(ctx, tag, testSaveOptions(t, "soon-gone"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := os.Remove(saved.WeightPaths()[0]); err != nil {
		t.Fatalf("removing blob: %v", err)
	}
	if _, err := s.Get(ctx, tag); !errors.Is(err, artifact.ErrCorrupt) {
		t.Errorf("Get = %v, want ErrCorrupt", err)
	}
}
