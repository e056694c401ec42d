package enginepull

import (
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/remotes"
	"github.com/containerd/containerd/v2/core/remotes/docker"
	"github.com/containerd/containerd/v2/plugins/content/local"
	"github.com/containerd/platforms"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/Vortextech01/OpenLLM/pkg/internal/archive"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

const (
	// pullAttempts is the number of times a fetch is attempted before giving
	// up.
	pullAttempts = 3
	// pullRetryDelay is the pause between fetch attempts.
	pullRetryDelay = 2 * time.Second
)

// Pull fetches an engine release image from an OCI registry and unpacks the
// layers matching the required platform into destination. Engine images ship
// the server binary under bin/ and its libraries under lib/, so destination
// ends up with the same layout. A nil httpClient falls back to the
// resolver's own client.
func Pull(ctx context.Context, log logging.Logger, httpClient *http.Client, image, destination, requiredOS, requiredArch string) error {
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("creating destination directory %s: %w", destination, err)
	}
	tmpDir, err := os.MkdirTemp("", "engine-pull")
	if err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)
	store, err := local.NewStore(tmpDir)
	if err != nil {
		return fmt.Errorf("creating content store: %w", err)
	}
	platform := platforms.Only(v1.Platform{OS: requiredOS, Architecture: requiredArch})
	desc, err := retry(ctx, log, pullAttempts, pullRetryDelay, func() (*v1.Descriptor, error) {
		return fetch(ctx, store, httpClient, image, platform)
	})
	if err != nil {
		return fmt.Errorf("fetching image: %w", err)
	}
	manifest, err := images.Manifest(ctx, store, *desc, platform)
	if err != nil {
		return fmt.Errorf("resolving manifest for %s/%s: %w", requiredOS, requiredArch, err)
	}
	for _, layer := range manifest.Layers {
		if err := extractLayer(ctx, store, layer, destination); err != nil {
			return fmt.Errorf("extracting layer %s: %w", layer.Digest, err)
		}
	}
	return nil
}

func retry(ctx context.Context, log logging.Logger, attempts int, sleep time.Duration, f func() (*v1.Descriptor, error)) (*v1.Descriptor, error) {
	var err error
	var result *v1.Descriptor
	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.Warnf("retry %d after error: %v", i, err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
		}
		result, err = f()
		if err == nil {
			return result, nil
		}
	}
	return nil, fmt.Errorf("after %d attempts, last error: %w", attempts, err)
}

func fetch(ctx context.Context, store content.Store, httpClient *http.Client, ref string, platform platforms.MatchComparer) (*v1.Descriptor, error) {
	registryOpts := []docker.RegistryOpt{
		docker.WithAuthorizer(
			docker.NewDockerAuthorizer(
				docker.WithAuthCreds(registryCredentials))),
	}
	if httpClient != nil {
		registryOpts = append(registryOpts, docker.WithClient(httpClient))
	}
	resolver := docker.NewResolver(docker.ResolverOptions{
		Hosts: docker.ConfigureDefaultRegistries(registryOpts...),
	})
	name, desc, err := resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	fetcher, err := resolver.Fetcher(ctx, name)
	if err != nil {
		return nil, err
	}

	childrenHandler := images.LimitManifests(
		images.FilterPlatforms(images.ChildrenHandler(store), platform), platform, 1)
	h := images.Handlers(remotes.FetchHandler(store, fetcher), childrenHandler)
	if err := images.Dispatch(ctx, h, nil, desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

func extractLayer(ctx context.Context, store content.Store, layer v1.Descriptor, destination string) error {
	ra, err := store.ReaderAt(ctx, layer)
	if err != nil {
		return fmt.Errorf("opening blob: %w", err)
	}
	defer ra.Close()
	var reader io.Reader = content.NewReader(ra)
	if strings.HasSuffix(layer.MediaType, "+gzip") || strings.HasSuffix(layer.MediaType, ".gzip") {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return fmt.Errorf("decompressing: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	return archive.Untar(reader, destination)
}

// registryCredentials resolves credentials for an engine registry host. It
// prefers environment variables and falls back to the standard Docker
// credential file, so engine images can be served from private registries
// without extra configuration.
func registryCredentials(host string) (string, string, error) {
	user, token := os.Getenv("OPENLLM_REGISTRY_USER"), os.Getenv("OPENLLM_REGISTRY_TOKEN")
	if user != "" && token != "" {
		return user, token, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	credentialConfig := filepath.Join(home, ".docker", "config.json")
	data, err := os.ReadFile(credentialConfig)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", "", nil
		}
		return "", "", err
	}
	cfg := struct {
		Auths map[string]struct {
			Auth string
		}
	}{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", "", err
	}
	for h, r := range cfg.Auths {
		if h != host {
			continue
		}
		creds, err := base64.StdEncoding.DecodeString(r.Auth)
		if err != nil {
			return "", "", err
		}
		parts := strings.SplitN(string(creds), ":", 2)
		if len(parts) != 2 {
			return "", "", nil
		}
		return parts[0], parts[1], nil
	}
	return "", "", nil
}
