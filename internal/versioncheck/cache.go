package versioncheck

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// CacheEntry is a stored release lookup.
type CacheEntry struct {
	LatestVersion string    `json:"latest_version"`
	ReleaseURL    string    `json:"release_url"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (c *CacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	if c == nil {
		return false
	}
	return now.Sub(c.CheckedAt) < ttl
}

// ReadCache reads a cache entry from path.
func ReadCache(path string) (*CacheEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// WriteCache writes entry to path, creating parent directories.
func WriteCache(path string, entry *CacheEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// CachePath returns $XDG_CACHE_HOME/authpkce/version-cache.json, falling back
// to ~/.cache.
func CachePath() string {
	dir := os.Getenv("XDG_CACHE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "authpkce", "version-cache.json")
		}
		dir = filepath.Join(home, ".cache")
	}
	return filepath.Join(dir, "authpkce", "version-cache.json")
}
