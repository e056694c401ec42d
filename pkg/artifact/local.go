package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/Vortextech01/OpenLLM/pkg/diskusage"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

// CurrentVersion is the current version of the store layout.
const CurrentVersion = "1.0.0"

const manifestsDir = "manifests"

// Layout records the on-disk schema version.
type Layout struct {
	Version string `json:"version"`
}

// LocalStore is a content-addressed artifact store on the local filesystem:
//
//	<root>/layout.json
//	<root>/artifacts.json
//	<root>/blobs/<alg>/<hex>
//	<root>/manifests/<alg>/<hex>
type LocalStore struct {
	rootPath string
	log      logging.Logger
}

var _ Store = (*LocalStore)(nil)

// Options configures a LocalStore.
type Options struct {
	RootPath string
	Logger   logging.Logger
}

// NewLocalStore opens (initializing if necessary) a store rooted at
// opts.RootPath.
func NewLocalStore(opts Options) (*LocalStore, error) {
	if opts.RootPath == "" {
		return nil, errors.New("store root path must not be empty")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	store := &LocalStore{rootPath: opts.RootPath, log: opts.Logger}
	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return store, nil
}

// RootPath returns the root path of the store.
func (s *LocalStore) RootPath() string {
	return s.rootPath
}

// Version returns the store layout version.
func (s *LocalStore) Version() string {
	data, err := os.ReadFile(s.layoutPath())
	if err != nil {
		return "unknown"
	}
	var layout Layout
	if err := json.Unmarshal(data, &layout); err != nil {
		return "unknown"
	}
	return layout.Version
}

func (s *LocalStore) layoutPath() string {
	return filepath.Join(s.rootPath, "layout.json")
}

func (s *LocalStore) initialize() error {
	if _, err := os.Stat(s.layoutPath()); os.IsNotExist(err) {
		data, err := json.MarshalIndent(Layout{Version: CurrentVersion}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling layout: %w", err)
		}
		if err := writeFile(s.layoutPath(), data); err != nil {
			return fmt.Errorf("initializing layout file: %w", err)
		}
	}
	if _, err := os.Stat(s.indexPath()); os.IsNotExist(err) {
		if err := s.writeIndex(Index{Artifacts: []IndexEntry{}}); err != nil {
			return fmt.Errorf("initializing index file: %w", err)
		}
	}
	return nil
}

// Save implements Store.Save: it ingests the staged weight and custom object
// files into the blob store, writes the config and manifest, and points tag
// at the result.
func (s *LocalStore) Save(ctx context.Context, tag string, opts SaveOptions) (*Artifact, error) {
	if _, err := name.NewTag(tag); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTag, tag, err)
	}
	if len(opts.Weights) == 0 {
		return nil, errors.New("artifact must have at least one weight file")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := opts.Config
	if cfg.Created.IsZero() {
		cfg.Created = time.Now().UTC()
	}

	configData, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	configDigest := digest.FromBytes(configData)
	if err := s.WriteBlob(configDigest, bytes.NewReader(configData)); err != nil {
		return nil, fmt.Errorf("writing config blob: %w", err)
	}

	manifest := ocispec.Manifest{
		MediaType: MediaTypeManifest,
		Config: ocispec.Descriptor{
			MediaType: MediaTypeConfig,
			Digest:    configDigest,
			Size:      int64(len(configData)),
		},
		Annotations: map[string]string{
			ocispec.AnnotationCreated: cfg.Created.Format(time.RFC3339),
		},
	}
	manifest.SchemaVersion = 2

	for _, src := range opts.Weights {
		desc, err := s.ingestSource(ctx, src, RoleWeights)
		if err != nil {
			return nil, err
		}
		manifest.Layers = append(manifest.Layers, desc)
	}
	for objName, src := range opts.CustomObjects {
		desc, err := s.ingestSource(ctx, src, objName)
		if err != nil {
			return nil, err
		}
		manifest.Layers = append(manifest.Layers, desc)
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}
	manifestDigest := digest.FromBytes(manifestData)
	if err := s.writeManifest(manifestDigest, manifestData); err != nil {
		return nil, err
	}

	entry := IndexEntry{
		ID:      manifestDigest.String(),
		Files:   manifestFiles(manifest),
		Created: cfg.Created,
	}
	idx, err := s.readIndex()
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	idx = idx.Add(entry)
	idx, err = idx.Tag(entry.ID, tag)
	if err != nil {
		return nil, fmt.Errorf("tagging artifact: %w", err)
	}
	if err := s.writeIndex(idx); err != nil {
		return nil, err
	}

	return s.assemble(manifestDigest, tag, manifest, cfg)
}

// ingestSource copies one staged file into the blob store and describes it as
// a manifest layer.
func (s *LocalStore) ingestSource(ctx context.Context, src Source, role string) (ocispec.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return ocispec.Descriptor{}, err
	}
	dgst, size, err := s.ingestFile(src.Path)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("ingesting %s: %w", src.Name, err)
	}
	mediaType := src.MediaType
	if mediaType == "" {
		mediaType = inferMediaType(src.Path)
	}
	title := src.Name
	if title == "" {
		title = filepath.Base(src.Path)
	}
	return ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    dgst,
		Size:      size,
		Annotations: map[string]string{
			ocispec.AnnotationTitle: title,
			AnnotationRole:          role,
		},
	}, nil
}

// Get implements Store.Get.
func (s *LocalStore) Get(ctx context.Context, tag string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := s.readIndex()
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	entry, _, ok := idx.Find(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	return s.load(entry, tag)
}

// List implements Store.List.
func (s *LocalStore) List(ctx context.Context) ([]*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := s.readIndex()
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	artifacts := make([]*Artifact, 0, len(idx.Artifacts))
	for _, entry := range idx.Artifacts {
		tag := entry.ID
		if len(entry.Tags) > 0 {
			tag = entry.Tags[0]
		}
		art, err := s.load(entry, tag)
		if err != nil {
			if s.log != nil {
				s.log.Warnf("Skipping unreadable artifact %s: %v", entry.ID, err)
			}
			continue
		}
		artifacts = append(artifacts, art)
	}
	return artifacts, nil
}

// Delete implements Store.Delete. Deleting a tag removes the tag; the entry
// and its blobs go once the last tag is gone. Blobs shared with other
// artifacts survive.
func (s *LocalStore) Delete(ctx context.Context, reference string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := s.readIndex()
	if err != nil {
		return fmt.Errorf("reading index: %w", err)
	}
	entry, i, ok := idx.Find(reference)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, reference)
	}
	idx = idx.UnTag(reference)
	if reference == entry.ID {
		// Deleting by ID drops the whole entry regardless of tags.
		idx.Artifacts[i].Tags = nil
	}

	if len(idx.Artifacts[i].Tags) == 0 {
		if dgst, err := digest.Parse(entry.ID); err == nil {
			if err := os.Remove(s.manifestPath(dgst)); err != nil && !errors.Is(err, os.ErrNotExist) && s.log != nil {
				s.log.Warnf("Failed to remove manifest %s: %v", entry.ID, err)
			}
		}
		referenced := make(map[string]int)
		for _, other := range idx.Artifacts {
			if other.ID == entry.ID {
				continue
			}
			for _, file := range other.Files {
				referenced[file]++
			}
		}
		for _, file := range entry.Files {
			if referenced[file] > 0 {
				continue
			}
			dgst, err := digest.Parse(file)
			if err != nil {
				continue
			}
			if err := s.removeBlob(dgst); err != nil && !errors.Is(err, os.ErrNotExist) && s.log != nil {
				s.log.Warnf("Failed to remove blob %s: %v", file, err)
			}
		}
		idx = idx.Remove(entry.ID)
	}

	return s.writeIndex(idx)
}

// DiskUsage implements Store.DiskUsage.
func (s *LocalStore) DiskUsage(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return diskusage.Size(s.rootPath)
}

func (s *LocalStore) manifestPath(dgst digest.Digest) string {
	return filepath.Join(s.rootPath, manifestsDir, string(dgst.Algorithm()), dgst.Encoded())
}

func (s *LocalStore) writeManifest(dgst digest.Digest, raw []byte) error {
	if err := validateDigest(dgst); err != nil {
		return fmt.Errorf("unsafe manifest digest: %w", err)
	}
	if err := writeFile(s.manifestPath(dgst), raw); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// load materializes an Artifact for an index entry.
func (s *LocalStore) load(entry IndexEntry, tag string) (*Artifact, error) {
	dgst, err := digest.Parse(entry.ID)
	if err != nil {
		return nil, fmt.Errorf("parsing artifact id: %w", err)
	}
	raw, err := os.ReadFile(s.manifestPath(dgst))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var manifest ocispec.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshaling manifest: %w", err)
	}

	configPath, err := s.blobPath(manifest.Config.Digest)
	if err != nil {
		return nil, err
	}
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: missing config blob: %v", ErrCorrupt, err)
	}
	var cfg Config
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return s.assemble(dgst, tag, manifest, cfg)
}

// assemble resolves manifest layers to blob paths and builds the Artifact.
func (s *LocalStore) assemble(id digest.Digest, tag string, manifest ocispec.Manifest, cfg Config) (*Artifact, error) {
	art := &Artifact{
		id:      id,
		tag:     tag,
		config:  cfg,
		objects: make(map[string]Source),
		created: cfg.Created,
	}
	art.size = manifest.Config.Size
	for _, layer := range manifest.Layers {
		path, err := s.blobPath(layer.Digest)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: missing blob %s", ErrCorrupt, layer.Digest)
		}
		src := Source{
			Name:      layer.Annotations[ocispec.AnnotationTitle],
			Path:      path,
			MediaType: layer.MediaType,
		}
		if src.Name == "" {
			src.Name = layer.Digest.Encoded()
		}
		switch role := layer.Annotations[AnnotationRole]; role {
		case RoleWeights, "":
			art.weights = append(art.weights, src)
		default:
			art.objects[role] = src
		}
		art.size += layer.Size
	}
	return art, nil
}

func manifestFiles(manifest ocispec.Manifest) []string {
	files := make([]string, 0, len(manifest.Layers)+1)
	for _, layer := range manifest.Layers {
		files = append(files, layer.Digest.String())
	}
	return append(files, manifest.Config.Digest.String())
}

// writeFile writes data to path atomically, creating parent directories as
// needed.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temporary file %q: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temporary file %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temporary file %q: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temporary file %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %q with temporary file: %w", path, err)
	}
	return nil
}
