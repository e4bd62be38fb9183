// Package algo talks to the algorithm service that clusters subjects,
// picks cluster representatives and captions subjects.
package algo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 60 * time.Second

// Client calls the algorithm service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the service at baseURL. A zero timeout uses
// the default.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Cluster returns one cluster label per subject.
func (c *Client) Cluster(ctx context.Context, subjects []string, k int) ([]int, error) {
	req := struct {
		UUIDs     []string `json:"uuids"`
		NClusters int      `json:"nClusters"`
	}{subjects, k}

	var labels []int
	if err := c.post(ctx, "/clustering", req, &labels); err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}
	return labels, nil
}

// FindCenters returns the subject nearest each group's centre, "" for an
// empty group.
func (c *Client) FindCenters(ctx context.Context, groups [][]string) ([]string, error) {
	req := struct {
		Groups [][]string `json:"groups"`
	}{groups}

	var centers []*string
	if err := c.post(ctx, "/findCenters", req, &centers); err != nil {
		return nil, fmt.Errorf("find centers: %w", err)
	}
	return deref(centers), nil
}

// Captions returns a caption per subject. Empty subjects are sent as null
// and yield "".
func (c *Client) Captions(ctx context.Context, subjects []string) ([]string, error) {
	uuids := make([]*string, len(subjects))
	for i := range subjects {
		if subjects[i] != "" {
			uuids[i] = &subjects[i]
		}
	}
	req := struct {
		UUIDs []*string `json:"uuids"`
	}{uuids}

	var captions []*string
	if err := c.post(ctx, "/captioning", req, &captions); err != nil {
		return nil, fmt.Errorf("captioning: %w", err)
	}
	return deref(captions), nil
}

// Ping checks that the service is up.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	jsonBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func deref(in []*string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		if s != nil {
			out[i] = *s
		}
	}
	return out
}
