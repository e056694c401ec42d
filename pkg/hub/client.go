// Package hub implements a client for HuggingFace-style model hubs. It
// resolves repository file listings and downloads weight files with stable
// on-disk staging, so interrupted downloads resume instead of restarting.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"

	"github.com/Vortextech01/OpenLLM/pkg/internal/archive"
	"github.com/Vortextech01/OpenLLM/pkg/internal/utils"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

var (
	// ErrRepoNotFound indicates that the hub has no repository with the
	// requested name.
	ErrRepoNotFound = errors.New("repository not found")
	// ErrFileNotFound indicates that the repository exists but does not
	// contain the requested file.
	ErrFileNotFound = errors.New("file not found in repository")
	// ErrUnauthorized indicates that the hub rejected the request for lack of
	// (valid) credentials, typically on gated repositories.
	ErrUnauthorized = errors.New("hub authorization required")
)

const (
	// defaultConcurrency bounds the number of files downloaded in parallel
	// for a single repository.
	defaultConcurrency = 4
	// defaultRevision is the revision used when none is specified.
	defaultRevision = "main"
	// progressInterval is the minimum time between progress log lines for a
	// single download.
	progressInterval = 5 * time.Second
	// incompleteSuffix marks partially downloaded files. Files carrying it
	// are resumed with a Range request on the next attempt.
	incompleteSuffix = ".incomplete"
)

// FileInfo describes a single file in a hub repository.
type FileInfo struct {
	Name string `json:"rfilename"`
	Size int64  `json:"size"`
}

// Client talks to a HuggingFace-style hub.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	log         logging.Logger
	concurrency int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for hub requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithToken sets the bearer token sent with hub requests. Gated repositories
// require one.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithConcurrency bounds parallel file downloads for DownloadFiles.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewClient creates a hub client for the given base URL, e.g.
// "https://huggingface.co". If no token option is given, the client falls
// back to the OPENLLM_HUB_TOKEN environment variable.
func NewClient(baseURL string, log logging.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       os.Getenv("OPENLLM_HUB_TOKEN"),
		httpClient:  http.DefaultClient,
		log:         log,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListFiles returns the files available in a repository at the default
// revision.
func (c *Client) ListFiles(ctx context.Context, repo string) ([]FileInfo, error) {
	endpoint := fmt.Sprintf("%s/api/models/%s", c.baseURL, pathEscapeRepo(repo))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", repo, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, repo, ErrRepoNotFound); err != nil {
		return nil, err
	}
	var payload struct {
		Siblings []FileInfo `json:"siblings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding repository listing for %s: %w", repo, err)
	}
	return payload.Siblings, nil
}

// GetFile fetches a single (small) repository file into memory. It is meant
// for configuration files like config.json and tokenizer_config.json, not for
// weights.
func (c *Client) GetFile(ctx context.Context, repo, filename string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolveURL(repo, filename), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s from %s: %w", filename, repo, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, repo, ErrFileNotFound); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// DownloadFile downloads a repository file into destDir, preserving the
// file's relative path within the repository. Partial downloads are staged
// next to the final path and resumed with a Range request on retry. It
// returns the path of the completed file.
func (c *Client) DownloadFile(ctx context.Context, repo, filename, destDir string) (string, error) {
	dest, err := archive.CheckRelative(destDir, filepath.FromSlash(filename))
	if err != nil {
		return "", fmt.Errorf("unsafe repository filename %q: %w", filename, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}

	staging := dest + incompleteSuffix
	out, err := os.OpenFile(staging, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	defer out.Close()
	offset, err := out.Seek(0, io.SeekEnd)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolveURL(repo, filename), nil)
	if err != nil {
		return "", err
	}
	c.authorize(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s from %s: %w", filename, repo, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// Continue appending at the current offset.
	case http.StatusOK:
		// The server ignored the Range request (or there was no partial
		// file), so start over.
		if offset > 0 {
			if err := out.Truncate(0); err != nil {
				return "", err
			}
			if _, err := out.Seek(0, io.SeekStart); err != nil {
				return "", err
			}
			offset = 0
		}
	case http.StatusRequestedRangeNotSatisfiable:
		// The staging file already holds the complete content.
		if err := out.Close(); err != nil {
			return "", err
		}
		if err := os.Rename(staging, dest); err != nil {
			return "", err
		}
		return dest, nil
	default:
		return "", checkStatus(resp, repo, ErrFileNotFound)
	}

	total := offset + resp.ContentLength
	if resp.ContentLength < 0 {
		total = -1
	}
	copied, err := io.Copy(out, c.progressReader(resp.Body, filename, offset, total))
	if err != nil {
		// Keep the staging file so the next attempt resumes at offset+copied.
		return "", fmt.Errorf("downloading %s from %s: %w", filename, repo, err)
	}
	if err := out.Sync(); err != nil {
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(staging, dest); err != nil {
		return "", err
	}
	c.log.Infof("downloaded %s (%s)", utils.SanitizeForLog(filename), units.HumanSize(float64(offset+copied)))
	return dest, nil
}

// DownloadFiles downloads the named repository files into destDir, up to the
// client's concurrency limit at a time. It returns the completed paths in the
// same order as filenames. The first failure cancels the remaining
// downloads.
func (c *Client) DownloadFiles(ctx context.Context, repo string, filenames []string, destDir string) ([]string, error) {
	paths := make([]string, len(filenames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, filename := range filenames {
		g.Go(func() error {
			path, err := c.DownloadFile(gctx, repo, filename, destDir)
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// ResolveURL returns the URL the named repository file resolves to at the
// default revision. It lets callers hand hub files to range-capable parsers
// without downloading them first.
func (c *Client) ResolveURL(repo, filename string) string {
	return c.resolveURL(repo, filename)
}

// Token returns the bearer token the client authenticates with, if any.
func (c *Client) Token() string {
	return c.token
}

func (c *Client) resolveURL(repo, filename string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s",
		c.baseURL, pathEscapeRepo(repo), defaultRevision, pathEscapeRepo(filename))
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// progressReader wraps a download stream so that long transfers log progress
// at most once per progressInterval.
func (c *Client) progressReader(r io.Reader, filename string, offset, total int64) io.Reader {
	return &progressLogger{
		reader:   r,
		log:      c.log,
		filename: utils.SanitizeForLog(filename),
		read:     offset,
		total:    total,
		last:     time.Now(),
	}
}

type progressLogger struct {
	reader   io.Reader
	log      logging.Logger
	filename string
	read     int64
	total    int64
	last     time.Time
}

func (p *progressLogger) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	p.read += int64(n)
	if now := time.Now(); now.Sub(p.last) >= progressInterval {
		p.last = now
		if p.total > 0 {
			p.log.Infof("downloading %s: %s of %s", p.filename,
				units.HumanSize(float64(p.read)), units.HumanSize(float64(p.total)))
		} else {
			p.log.Infof("downloading %s: %s", p.filename, units.HumanSize(float64(p.read)))
		}
	}
	return n, err
}

// pathEscapeRepo escapes a repository or file path segment-wise, keeping the
// separating slashes intact.
func pathEscapeRepo(repo string) string {
	segments := strings.Split(repo, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func checkStatus(resp *http.Response, repo string, notFound error) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%q: %w", repo, notFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%q: %w", repo, ErrUnauthorized)
	default:
		return fmt.Errorf("unexpected hub response for %q: %s", repo, resp.Status)
	}
}
