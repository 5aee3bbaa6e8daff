// Package arr talks to Radarr and Sonarr, the media managers that own the
// organized library and can search for a replacement release.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const basePath = "/api/v3"

// Client is one media manager instance.
type Client interface {
	Host() string
	GetRootFolders(ctx context.Context) ([]RootFolder, error)
	// RemoveAndSearch deletes the media file behind symlinkPath and searches
	// for a replacement. It reports false when no media record matches.
	RemoveAndSearch(ctx context.Context, symlinkPath string) (bool, error)
}

type RootFolder struct {
	ID   int    `json:"id"`
	Path string `json:"path"`
}

type Command struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

type apiClient struct {
	host   string
	apiKey string
	http   *http.Client
}

func newAPIClient(host, apiKey string, httpClient *http.Client) apiClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return apiClient{
		host:   strings.TrimRight(host, "/"),
		apiKey: apiKey,
		http:   httpClient,
	}
}

func (c *apiClient) Host() string {
	return c.host
}

func (c *apiClient) GetRootFolders(ctx context.Context) ([]RootFolder, error) {
	var folders []RootFolder
	if err := c.get(ctx, "/rootfolder", nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

func (c *apiClient) command(ctx context.Context, body any) (Command, error) {
	var cmd Command
	if err := c.do(ctx, http.MethodPost, "/command", nil, body, &cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func (c *apiClient) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *apiClient) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.host + basePath + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &StatusError{Method: method, URL: endpoint, StatusCode: resp.StatusCode}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// Owner returns the first client with a root folder containing path.
func Owner(ctx context.Context, clients []Client, path string) (Client, error) {
	for _, client := range clients {
		folders, err := client.GetRootFolders(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get root folders from %s: %w", client.Host(), err)
		}
		for _, folder := range folders {
			if folder.Path != "" && strings.HasPrefix(path, folder.Path) {
				return client, nil
			}
		}
	}
	return nil, nil
}
