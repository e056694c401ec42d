package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
)

// Index is the store's tag index, persisted as artifacts.json. All operations
// are value-semantics: they return updated copies.
type Index struct {
	Artifacts []IndexEntry `json:"artifacts"`
}

// IndexEntry records one stored artifact with its tags and blob files.
type IndexEntry struct {
	// ID is the artifact's manifest digest.
	ID string `json:"id"`
	// Tags are the references pointing at this artifact.
	Tags []string `json:"tags"`
	// Files are the digests of all blobs the artifact references.
	Files []string `json:"files"`
	// Created is the time the artifact was first saved.
	Created time.Time `json:"created,omitempty"`
}

// Tag points tag at the entry matching reference, removing it from every
// other entry. The same tag never refers to two artifacts.
func (i Index) Tag(reference, tag string) (Index, error) {
	tagRef, err := name.NewTag(tag)
	if err != nil {
		return Index{}, fmt.Errorf("%w: %q: %v", ErrInvalidTag, tag, err)
	}

	result := Index{}
	var tagged bool
	for _, entry := range i.Artifacts {
		if entry.MatchesReference(reference) {
			result.Artifacts = append(result.Artifacts, entry.Tag(tagRef))
			tagged = true
		} else {
			result.Artifacts = append(result.Artifacts, entry.UnTag(tagRef))
		}
	}
	if !tagged {
		return Index{}, ErrNotFound
	}
	return result, nil
}

// UnTag removes tag from every entry.
func (i Index) UnTag(tag string) Index {
	tagRef, err := name.NewTag(tag)
	if err != nil {
		return i
	}
	result := Index{Artifacts: make([]IndexEntry, 0, len(i.Artifacts))}
	for _, entry := range i.Artifacts {
		result.Artifacts = append(result.Artifacts, entry.UnTag(tagRef))
	}
	return result
}

// Find returns the entry matching reference along with its position.
func (i Index) Find(reference string) (IndexEntry, int, bool) {
	for n, entry := range i.Artifacts {
		if entry.MatchesReference(reference) {
			return i.Artifacts[n], n, true
		}
	}
	return IndexEntry{}, 0, false
}

// Remove drops the entry matching reference.
func (i Index) Remove(reference string) Index {
	var result Index
	for _, entry := range i.Artifacts {
		if entry.MatchesReference(reference) {
			continue
		}
		result.Artifacts = append(result.Artifacts, entry)
	}
	return result
}

// Add appends entry unless an entry with the same ID already exists.
func (i Index) Add(entry IndexEntry) Index {
	if _, _, ok := i.Find(entry.ID); ok {
		return i
	}
	return Index{Artifacts: append(i.Artifacts, entry)}
}

// MatchesReference reports whether reference names this entry, either by ID
// or by one of its tags.
func (e IndexEntry) MatchesReference(reference string) bool {
	if e.ID == reference {
		return true
	}
	ref, err := name.ParseReference(reference)
	if err != nil {
		return false
	}
	if dgst, ok := ref.(name.Digest); ok && dgst.DigestStr() == e.ID {
		return true
	}
	return e.hasTagNamed(ref.Name())
}

// HasTag reports whether tag points at this entry.
func (e IndexEntry) HasTag(tag string) bool {
	ref, err := name.NewTag(tag)
	if err != nil {
		return false
	}
	return e.hasTagNamed(ref.Name())
}

func (e IndexEntry) hasTagNamed(fullName string) bool {
	for _, t := range e.Tags {
		tr, err := name.ParseReference(t)
		if err != nil {
			continue
		}
		if tr.Name() == fullName {
			return true
		}
	}
	return false
}

// Tag returns the entry with tag added (idempotent).
func (e IndexEntry) Tag(tag name.Tag) IndexEntry {
	if e.hasTagNamed(tag.Name()) {
		return e
	}
	return IndexEntry{
		ID:      e.ID,
		Tags:    append(append([]string{}, e.Tags...), tag.String()),
		Files:   e.Files,
		Created: e.Created,
	}
}

// UnTag returns the entry with tag removed.
func (e IndexEntry) UnTag(tag name.Tag) IndexEntry {
	var tags []string
	for _, t := range e.Tags {
		tr, err := name.ParseReference(t)
		if err != nil || tr.Name() == tag.Name() {
			continue
		}
		tags = append(tags, t)
	}
	return IndexEntry{
		ID:      e.ID,
		Tags:    tags,
		Files:   e.Files,
		Created: e.Created,
	}
}

// indexPath returns the path to the index file.
func (s *LocalStore) indexPath() string {
	return filepath.Join(s.rootPath, "artifacts.json")
}

// writeIndex persists the index atomically.
func (s *LocalStore) writeIndex(index Index) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}
	if err := writeFile(s.indexPath(), data); err != nil {
		return fmt.Errorf("writing index file: %w", err)
	}
	return nil
}

// readIndex loads the index file.
func (s *LocalStore) readIndex() (Index, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return Index{}, fmt.Errorf("reading index file: %w", err)
	}
	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return Index{}, fmt.Errorf("unmarshaling index: %w", err)
	}
	return index, nil
}
