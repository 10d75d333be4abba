// Package provider is the HTTP client for the external game-metadata service.
//
// Every call is a single attempt with no retry loop: a failure is recorded on
// the import item by the caller, never retried here.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Error wraps a failed provider call with the operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("metadata provider %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is one search hit: enough to present a candidate to the user.
type Result struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ReleaseYear int    `json:"release_year"`
	Summary     string `json:"summary"`
}

// Release is one platform/region release row in a detail response.
type Release struct {
	Platform string `json:"platform"`
	Region   string `json:"region"`
	Released string `json:"released"` // YYYY-MM-DD, may be empty
}

// Company names an involved company and its role.
type Company struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Detail is the full metadata for one game.
type Detail struct {
	Result
	CoverURL  string    `json:"cover_url"`
	Genres    []string  `json:"genres"`
	Companies []Company `json:"companies"`
	Releases  []Release `json:"releases"`
}

// Client calls the metadata provider's JSON API.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	http     *http.Client
}

// NewClient creates a provider client. pageSize caps search results.
func NewClient(baseURL, apiKey string, timeout time.Duration, pageSize int) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		pageSize: pageSize,
		http:     &http.Client{Timeout: timeout},
	}
}

// Search queries the provider by title and returns up to pageSize results.
func (c *Client) Search(ctx context.Context, title string) ([]Result, error) {
	q := url.Values{
		"q":     {title},
		"limit": {fmt.Sprint(c.pageSize)},
	}

	var results []Result
	if err := c.get(ctx, "/v1/games/search?"+q.Encode(), &results); err != nil {
		return nil, &Error{Op: "search", Err: err}
	}
	return results, nil
}

// Fetch returns the full metadata for one provider game id.
func (c *Client) Fetch(ctx context.Context, id string) (*Detail, error) {
	var detail Detail
	if err := c.get(ctx, "/v1/games/"+url.PathEscape(id), &detail); err != nil {
		return nil, &Error{Op: "fetch", Err: err}
	}
	return &detail, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
