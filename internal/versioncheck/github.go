package versioncheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultGitHubAPI is the base URL for the GitHub API.
const DefaultGitHubAPI = "https://api.github.com"

// Repository is the GitHub repository releases are published to.
const Repository = "gobeyondidentity/authpkce"

// DefaultTimeout bounds a release lookup.
const DefaultTimeout = 2 * time.Second

// Release holds the fields of a GitHub release pkcectl uses.
type Release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
	Name    string `json:"name"`
}

// ReleaseClient fetches release information from GitHub.
type ReleaseClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewReleaseClient returns a client for baseURL. A nil client gets one with
// DefaultTimeout.
func NewReleaseClient(baseURL string, client *http.Client) *ReleaseClient {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &ReleaseClient{baseURL: baseURL, httpClient: client}
}

// Latest returns the most recent published release.
func (c *ReleaseClient) Latest(ctx context.Context) (*Release, error) {
	url := c.baseURL + "/repos/" + Repository + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "pkcectl")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &release, nil
}
