package cli

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

// Workspace is a per-test directory holding a config file and database.
type Workspace struct {
	Dir        string
	ConfigPath string
	DBPath     string
}

// NewWorkspace creates an empty workspace under t.TempDir.
func NewWorkspace(t *testing.T) *Workspace {
	t.Helper()
	dir := t.TempDir()
	configDir := filepath.Join(dir, ".config", "authpkce")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	return &Workspace{
		Dir:        dir,
		ConfigPath: filepath.Join(configDir, "config.yaml"),
		DBPath:     filepath.Join(dir, "authpkce.db"),
	}
}

// WriteConfig writes settings as the workspace's YAML config file.
func (w *Workspace) WriteConfig(t *testing.T, settings map[string]any) string {
	t.Helper()
	data, err := yaml.Marshal(settings)
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	if err := os.WriteFile(w.ConfigPath, data, 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return w.ConfigPath
}

// Args prefixes args with the workspace's --config and --db flags.
func (w *Workspace) Args(args ...string) []string {
	return append([]string{"--config", w.ConfigPath, "--db", w.DBPath}, args...)
}
