// Package client implements the HTTP client the CLI uses to talk to a
// running OpenLLM daemon, either over its unix socket or over TCP.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/Vortextech01/OpenLLM/pkg/activity"
	"github.com/Vortextech01/OpenLLM/pkg/auth"
	"github.com/Vortextech01/OpenLLM/pkg/models"
	"github.com/Vortextech01/OpenLLM/pkg/scheduling"
)

var (
	// ErrNotFound indicates that the daemon has no such resource.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates a missing or invalid API key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrServiceUnavailable indicates that the daemon could not be reached.
	ErrServiceUnavailable = errors.New("the OpenLLM daemon is not running")
)

// Client talks to a running daemon.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New creates a client for the daemon at target. A target with an http:// or
// https:// scheme is dialed over TCP; anything else is treated as the path of
// the daemon's unix socket.
func New(target, apiKey string) *Client {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return &Client{
			httpClient: http.DefaultClient,
			baseURL:    strings.TrimRight(target, "/"),
			apiKey:     apiKey,
		}
	}
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return (&net.Dialer{}).DialContext(ctx, "unix", target)
				},
			},
		},
		baseURL: "http://localhost",
		apiKey:  apiKey,
	}
}

// doRequest performs one API request. A non-nil body is sent as JSON; a
// non-nil out receives the decoded response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.startRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// startRequest issues the request and maps dial failures to
// ErrServiceUnavailable. The caller owns the response body.
func (c *Client) startRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		return nil, err
	}
	return resp, nil
}

// checkStatus turns a non-2xx response into an error carrying the daemon's
// message. It consumes the body on failure.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	message := readErrorMessage(resp.Body)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, message)
	default:
		return fmt.Errorf("%s (status %d)", message, resp.StatusCode)
	}
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return "request failed"
	}
	return string(bytes.TrimSpace(raw))
}

// Status returns the daemon status, or ErrServiceUnavailable when the daemon
// cannot be reached.
func (c *Client) Status(ctx context.Context) (*scheduling.StatusResponse, error) {
	var status scheduling.StatusResponse
	if err := c.doRequest(ctx, http.MethodGet, "/v1/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Models lists the stored models.
func (c *Client) Models(ctx context.Context) (models.ModelList, error) {
	var list models.ModelList
	if err := c.doRequest(ctx, http.MethodGet, "/v1/models", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Model looks up one stored model by tag.
func (c *Client) Model(ctx context.Context, tag string) (*models.Model, error) {
	var model models.Model
	if err := c.doRequest(ctx, http.MethodGet, "/v1/models/"+tag, nil, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// ImportModel imports a model into the daemon's store, returning its stored
// form. Importing an already stored model is a cheap no-op.
func (c *Client) ImportModel(ctx context.Context, req models.ImportRequest) (*models.Model, error) {
	var model models.Model
	if err := c.doRequest(ctx, http.MethodPost, "/v1/models/import", req, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// DeleteModel removes a stored model by tag.
func (c *Client) DeleteModel(ctx context.Context, tag string) error {
	return c.doRequest(ctx, http.MethodDelete, "/v1/models/"+tag, nil, nil)
}

// Families lists the registered model families.
func (c *Client) Families(ctx context.Context) ([]*models.Family, error) {
	var families []*models.Family
	if err := c.doRequest(ctx, http.MethodGet, "/v1/families", nil, &families); err != nil {
		return nil, err
	}
	return families, nil
}

// DiskUsage reports the daemon's disk footprint.
func (c *Client) DiskUsage(ctx context.Context) (*models.DiskUsage, error) {
	var usage models.DiskUsage
	if err := c.doRequest(ctx, http.MethodGet, "/v1/df", nil, &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

// Runners lists the active runners.
func (c *Client) Runners(ctx context.Context) ([]*scheduling.RunnerState, error) {
	var runners []*scheduling.RunnerState
	if err := c.doRequest(ctx, http.MethodGet, "/v1/runners", nil, &runners); err != nil {
		return nil, err
	}
	return runners, nil
}

// CreateRunner creates a runner serving the requested model.
func (c *Client) CreateRunner(ctx context.Context, req scheduling.CreateRunnerRequest) (*scheduling.RunnerState, error) {
	var state scheduling.RunnerState
	if err := c.doRequest(ctx, http.MethodPost, "/v1/runners", req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// DeleteRunner removes a runner by name.
func (c *Client) DeleteRunner(ctx context.Context, name string) error {
	return c.doRequest(ctx, http.MethodDelete, "/v1/runners/"+name, nil, nil)
}

// Generate runs a full completion against a runner.
func (c *Client) Generate(ctx context.Context, runner string, req scheduling.GenerateRequest) (*scheduling.GenerateResponse, error) {
	var response scheduling.GenerateResponse
	path := "/v1/runners/" + runner + "/generate"
	if err := c.doRequest(ctx, http.MethodPost, path, req, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GenerateStream runs a streamed completion against a runner, calling fn for
// every chunk as it arrives. A non-nil error from fn stops the stream.
func (c *Client) GenerateStream(ctx context.Context, runner string, req scheduling.GenerateRequest, fn func(scheduling.StreamChunk) error) error {
	path := "/v1/runners/" + runner + "/generate_stream"
	resp, err := c.startRequest(ctx, http.MethodPost, path, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok || data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}
		var chunk scheduling.StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decoding stream chunk: %w", err)
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// Activity lists recorded daemon events, newest first. An empty kind means
// all kinds; a zero limit means the daemon's default.
func (c *Client) Activity(ctx context.Context, kind string, limit int) ([]*activity.Event, error) {
	query := url.Values{}
	if kind != "" {
		query.Set("kind", kind)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	path := "/v1/activity"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var events []*activity.Event
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CreateKey mints a new API key. The returned secret is shown exactly once.
func (c *Client) CreateKey(ctx context.Context, name string) (*auth.CreatedKey, error) {
	request := struct {
		Name string `json:"name"`
	}{Name: name}
	var created auth.CreatedKey
	if err := c.doRequest(ctx, http.MethodPost, "/v1/auth/keys", request, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// Keys lists the registered API keys.
func (c *Client) Keys(ctx context.Context) ([]*auth.Key, error) {
	var keys []*auth.Key
	if err := c.doRequest(ctx, http.MethodGet, "/v1/auth/keys", nil, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteKey revokes an API key by ID.
func (c *Client) DeleteKey(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, "/v1/auth/keys/"+id, nil, nil)
}
