package artifact

import (
	"errors"
	"testing"
)

func entryWith(id string, tags ...string) IndexEntry {
	return IndexEntry{ID: id, Tags: tags, Files: []string{"sha256:" + id[7:]}}
}

const (
	idA = "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	idB = "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func TestIndexTagMovesBetweenEntries(t *testing.T) {
	idx := Index{Artifacts: []IndexEntry{
		entryWith(idA, "llamacpp/m:v1"),
		entryWith(idB),
	}}

	idx, err := idx.Tag(idB, "llamacpp/m:v1")
	if err != nil {
		t.Fatalf("Tag failed: %v", err)
	}
	if idx.Artifacts[0].HasTag("llamacpp/m:v1") {
		t.Error("tag should have moved off the first entry")
	}
	if !idx.Artifacts[1].HasTag("llamacpp/m:v1") {
		t.Error("tag should point at the second entry")
	}
}

func TestIndexTagUnknownReference(t *testing.T) {
	idx := Index{Artifacts: []IndexEntry{entryWith(idA)}}
	if _, err := idx.Tag(idB, "llamacpp/m:v1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Tag error = %v, want ErrNotFound", err)
	}
}

func TestIndexTagInvalid(t *testing.T) {
	idx := Index{Artifacts: []IndexEntry{entryWith(idA)}}
	if _, err := idx.Tag(idA, "not a tag!"); !errors.Is(err, ErrInvalidTag) {
		t.Errorf("Tag error = %v, want ErrInvalidTag", err)
	}
}

func TestIndexFindByTagAndID(t *testing.T) {
	idx := Index{Artifacts: []IndexEntry{entryWith(idA, "llamacpp/m:v1")}}

	if _, _, ok := idx.Find("llamacpp/m:v1"); !ok {
		t.Error("Find by tag failed")
	}
	if _, _, ok := idx.Find(idA); !ok {
		t.Error("Find by ID failed")
	}
	// Tag matching normalizes references, so the fully qualified form of the
	// same tag also matches.
	if _, _, ok := idx.Find("index.docker.io/llamacpp/m:v1"); !ok {
		t.Error("Find by qualified tag failed")
	}
	if _, _, ok := idx.Find("llamacpp/m:v2"); ok {
		t.Error("Find matched a tag that was never applied")
	}
}

func TestIndexAddIsIdempotent(t *testing.T) {
	idx := Index{}
	idx = idx.Add(entryWith(idA))
	idx = idx.Add(entryWith(idA))
	if len(idx.Artifacts) != 1 {
		t.Errorf("index has %d entries, want 1", len(idx.Artifacts))
	}
}

func TestIndexRemove(t *testing.T) {
	idx := Index{Artifacts: []IndexEntry{entryWith(idA), entryWith(idB)}}
	idx = idx.Remove(idA)
	if len(idx.Artifacts) != 1 || idx.Artifacts[0].ID != idB {
		t.Errorf("unexpected index after Remove: %+v", idx.Artifacts)
	}
}

func TestEntryTagIdempotent(t *testing.T) {
	entry := entryWith(idA, "llamacpp/m:v1")
	idx := Index{Artifacts: []IndexEntry{entry}}
	idx, err := idx.Tag(idA, "llamacpp/m:v1")
	if err != nil {
		t.Fatalf("Tag failed: %v", err)
	}
	if n := len(idx.Artifacts[0].Tags); n != 1 {
		t.Errorf("entry has %d tags, want 1", n)
	}
}
