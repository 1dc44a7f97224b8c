// Package versioncheck tells pkcectl users when a newer release exists. It
// asks the GitHub releases API at most once per cache period and falls back
// to the cached answer when the API cannot be reached.
package versioncheck

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// InstallMethod indicates how the CLI was installed.
type InstallMethod int

const (
	// DirectDownload is the default fallback when nothing else is detected.
	DirectDownload InstallMethod = iota
	// Homebrew indicates the tool was installed via Homebrew.
	Homebrew
	// GoInstall indicates the binary lives in GOBIN or GOPATH/bin.
	GoInstall
)

// String returns a human-readable name for the install method.
func (m InstallMethod) String() string {
	switch m {
	case DirectDownload:
		return "direct-download"
	case Homebrew:
		return "homebrew"
	case GoInstall:
		return "go-install"
	default:
		return "unknown"
	}
}

// DefaultCacheTTL is how long a release lookup is reused.
const DefaultCacheTTL = 24 * time.Hour

// Result is the outcome of a check.
type Result struct {
	CurrentVersion  string        `json:"current_version" yaml:"current_version"`
	LatestVersion   string        `json:"latest_version,omitempty" yaml:"latest_version,omitempty"`
	ReleaseURL      string        `json:"release_url,omitempty" yaml:"release_url,omitempty"`
	UpdateAvailable bool          `json:"update_available" yaml:"update_available"`
	InstallMethod   InstallMethod `json:"-" yaml:"-"`
	UpgradeCommand  string        `json:"upgrade_command,omitempty" yaml:"upgrade_command,omitempty"`
	FromCache       bool          `json:"from_cache" yaml:"from_cache"`

	// Err is set when the lookup failed. Cached data may still be present.
	Err error `json:"-" yaml:"-"`
}

// Checker performs version checks with caching support.
type Checker struct {
	Releases  *ReleaseClient
	CachePath string
	CacheTTL  time.Duration
	Now       func() time.Time
}

// NewChecker creates a Checker against the public GitHub API.
func NewChecker() *Checker {
	return &Checker{
		Releases:  NewReleaseClient(DefaultGitHubAPI, nil),
		CachePath: CachePath(),
		CacheTTL:  DefaultCacheTTL,
		Now:       time.Now,
	}
}

// Check compares current against the latest release.
func (c *Checker) Check(ctx context.Context, current string) *Result {
	res := &Result{
		CurrentVersion: current,
		InstallMethod:  DetectInstallMethod(),
	}
	now := c.Now()

	cached, cacheErr := ReadCache(c.CachePath)
	if cacheErr == nil && cached.Fresh(now, c.CacheTTL) {
		res.LatestVersion = cached.LatestVersion
		res.ReleaseURL = cached.ReleaseURL
		res.FromCache = true
	} else {
		release, err := c.Releases.Latest(ctx)
		switch {
		case err != nil:
			res.Err = err
			if cacheErr != nil {
				return res
			}
			res.LatestVersion = cached.LatestVersion
			res.ReleaseURL = cached.ReleaseURL
			res.FromCache = true
		default:
			res.LatestVersion = strings.TrimPrefix(release.TagName, "v")
			res.ReleaseURL = release.HTMLURL
			// A failed cache write only costs another lookup next time.
			_ = WriteCache(c.CachePath, &CacheEntry{
				LatestVersion: res.LatestVersion,
				ReleaseURL:    res.ReleaseURL,
				CheckedAt:     now.UTC(),
			})
		}
	}

	res.UpdateAvailable = IsNewerVersion(current, res.LatestVersion)
	if res.UpdateAvailable {
		res.UpgradeCommand = UpgradeCommand(res.InstallMethod, res.LatestVersion)
	}
	return res
}

// DetectInstallMethod inspects the running executable's path.
func DetectInstallMethod() InstallMethod {
	execPath, err := os.Executable()
	if err != nil {
		return DirectDownload
	}
	return DetectInstallMethodFromPath(execPath, os.Getenv("GOBIN"), os.Getenv("GOPATH"))
}

// DetectInstallMethodFromPath determines the install method from a path.
func DetectInstallMethodFromPath(execPath, gobin, gopath string) InstallMethod {
	if strings.Contains(execPath, "/Cellar/") || strings.Contains(execPath, "/homebrew/") {
		return Homebrew
	}
	dir := filepath.Dir(execPath)
	if gobin != "" && dir == filepath.Clean(gobin) {
		return GoInstall
	}
	if gopath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			gopath = filepath.Join(home, "go")
		}
	}
	if gopath != "" && dir == filepath.Join(gopath, "bin") {
		return GoInstall
	}
	return DirectDownload
}

// UpgradeCommand returns how to upgrade for the given install method.
func UpgradeCommand(method InstallMethod, newVersion string) string {
	switch method {
	case Homebrew:
		return "brew upgrade gobeyondidentity/tap/pkcectl"
	case GoInstall:
		return "go install github.com/gobeyondidentity/authpkce/cmd/pkcectl@" + NormalizeVersion(newVersion)
	default:
		return "Download from https://github.com/" + Repository + "/releases"
	}
}

// IsNewerVersion returns true if latest is newer than current.
// Uses semantic versioning comparison, handling v prefix and pre-releases.
func IsNewerVersion(current, latest string) bool {
	currentNorm := NormalizeVersion(current)
	latestNorm := NormalizeVersion(latest)

	if !semver.IsValid(currentNorm) || !semver.IsValid(latestNorm) {
		return false
	}
	return semver.Compare(currentNorm, latestNorm) < 0
}

// NormalizeVersion ensures a version string has the v prefix required by semver.
func NormalizeVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
