package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 10 * time.Second

// Client wraps the sync server's HTTP surface for a single tenant
// credential.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a Client pointed at baseURL (e.g.
// "http://localhost:8080"), authenticating every call with apiKey.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// File is the client-side view of a file record.
type File struct {
	Path      string     `json:"path"`
	Content   *string    `json:"content,omitempty"`
	Hash      string     `json:"hash"`
	Size      int64      `json:"size"`
	Extension string     `json:"extension"`
	IsBinary  bool       `json:"isBinary"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// ListResult is the page returned by List.
type ListResult struct {
	Files  []File `json:"files"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// APIError is returned when the server responds with a non-2xx
// status; Code matches pkg/apperr's taxonomy.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return &APIError{Status: resp.StatusCode, Code: body.Error.Code, Message: body.Error.Message}
}

// GetFile fetches a single file with content. Returns an *APIError
// with Code "NOT_FOUND" if absent.
func (c *Client) GetFile(ctx context.Context, path string) (*File, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files", url.Values{"path": {path}}, nil)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	defer resp.Body.Close()

	var f File
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode file: %w", err)
	}
	return &f, nil
}

// ListOptions mirrors the server's query engine parameters.
type ListOptions struct {
	PathPrefix      string
	PathContains    string
	Extension       string
	ContentContains string
	IsBinary        *bool
	IncludeDeleted  bool
	Limit           int
	Offset          int
}

// ListFiles runs a filtered, paginated listing.
func (c *Client) ListFiles(ctx context.Context, opts ListOptions) (*ListResult, error) {
	q := url.Values{}
	if opts.PathPrefix != "" {
		q.Set("path", opts.PathPrefix)
	}
	if opts.PathContains != "" {
		q.Set("path_contains", opts.PathContains)
	}
	if opts.Extension != "" {
		q.Set("extension", opts.Extension)
	}
	if opts.ContentContains != "" {
		q.Set("content_contains", opts.ContentContains)
	}
	if opts.IsBinary != nil {
		q.Set("is_binary", fmt.Sprintf("%t", *opts.IsBinary))
	}
	if opts.IncludeDeleted {
		q.Set("include_deleted", "true")
	}
	q.Set("limit", fmt.Sprintf("%d", nonZero(opts.Limit, 100)))
	q.Set("offset", fmt.Sprintf("%d", opts.Offset))

	resp, err := c.do(ctx, http.MethodGet, "/files", q, nil)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer resp.Body.Close()

	var result ListResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode list result: %w", err)
	}
	return &result, nil
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// CreateFile strictly creates a new file. Returns an *APIError with
// Code "CONFLICT" if an active record already exists at path.
func (c *Client) CreateFile(ctx context.Context, path, content string) (*File, error) {
	resp, err := c.do(ctx, http.MethodPost, "/files", nil, map[string]string{"path": path, "content": content})
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer resp.Body.Close()

	var f File
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode file: %w", err)
	}
	return &f, nil
}

// UpsertFile creates or overwrites a file.
func (c *Client) UpsertFile(ctx context.Context, path, content string) (*File, error) {
	resp, err := c.do(ctx, http.MethodPut, "/files", nil, map[string]string{"path": path, "content": content})
	if err != nil {
		return nil, fmt.Errorf("upsert file: %w", err)
	}
	defer resp.Body.Close()

	var f File
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode file: %w", err)
	}
	return &f, nil
}

// RenameFile moves a file from path to newPath per the server's
// rename algorithm.
func (c *Client) RenameFile(ctx context.Context, path, newPath string) (*File, error) {
	resp, err := c.do(ctx, http.MethodPatch, "/files", nil, map[string]string{"path": path, "newPath": newPath})
	if err != nil {
		return nil, fmt.Errorf("rename file: %w", err)
	}
	defer resp.Body.Close()

	var f File
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode file: %w", err)
	}
	return &f, nil
}

// DeleteFile soft-deletes a single file.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/files", url.Values{"path": {path}}, nil)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// DeleteAllFiles soft-deletes every active file for the tenant and
// returns the count affected.
func (c *Client) DeleteAllFiles(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, http.MethodDelete, "/files/all", nil, nil)
	if err != nil {
		return 0, fmt.Errorf("delete all files: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode delete all response: %w", err)
	}
	return body.Deleted, nil
}
