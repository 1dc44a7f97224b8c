package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/gobeyondidentity/authpkce/pkg/clierror"
)

// CommandResult captures the output and error from a command execution.
type CommandResult struct {
	Stdout string
	Stderr string
	Err    error
}

// Run executes cmd with args and captures its output. Flags anywhere in the
// command tree are reset to their defaults first so state does not leak
// between runs of a shared root command.
func Run(cmd *cobra.Command, args ...string) *CommandResult {
	ResetFlags(cmd)

	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Err:    err,
	}
}

// ResetFlags restores every flag of cmd and its subcommands to its default
// and clears its changed mark.
func ResetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		ResetFlags(sub)
	}
}

// AssertSuccess fails the test if the command returned an error.
func (r *CommandResult) AssertSuccess(t *testing.T) {
	t.Helper()
	if r.Err != nil {
		t.Fatalf("expected command to succeed, got error: %v\nstdout: %s\nstderr: %s",
			r.Err, r.Stdout, r.Stderr)
	}
}

// AssertError fails the test if the command did not return an error.
func (r *CommandResult) AssertError(t *testing.T) {
	t.Helper()
	if r.Err == nil {
		t.Fatalf("expected command to fail, but it succeeded\nstdout: %s", r.Stdout)
	}
}

// AssertCode fails the test unless the command failed with the given
// pkcectl error code.
func (r *CommandResult) AssertCode(t *testing.T, code string) {
	t.Helper()
	r.AssertError(t)
	if got := clierror.FromError(r.Err).Code; got != code {
		t.Errorf("expected error code %s, got %s (%v)", code, got, r.Err)
	}
}

// AssertContains fails the test if stdout does not contain expected.
func (r *CommandResult) AssertContains(t *testing.T, expected string) {
	t.Helper()
	if !strings.Contains(r.Stdout, expected) {
		t.Errorf("expected stdout to contain %q, got:\n%s", expected, r.Stdout)
	}
}

// AssertNotContains fails the test if stdout contains unexpected.
func (r *CommandResult) AssertNotContains(t *testing.T, unexpected string) {
	t.Helper()
	if strings.Contains(r.Stdout, unexpected) {
		t.Errorf("expected stdout NOT to contain %q, got:\n%s", unexpected, r.Stdout)
	}
}

// AssertPrefix fails the test if trimmed stdout does not start with expected.
func (r *CommandResult) AssertPrefix(t *testing.T, expected string) {
	t.Helper()
	if !strings.HasPrefix(strings.TrimSpace(r.Stdout), expected) {
		t.Errorf("expected stdout to start with %q, got:\n%s", expected, r.Stdout)
	}
}

// AssertStderrContains fails the test if stderr does not contain expected.
func (r *CommandResult) AssertStderrContains(t *testing.T, expected string) {
	t.Helper()
	if !strings.Contains(r.Stderr, expected) {
		t.Errorf("expected stderr to contain %q, got:\n%s", expected, r.Stderr)
	}
}

// DecodeJSON unmarshals stdout into v.
func (r *CommandResult) DecodeJSON(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(r.Stdout), v); err != nil {
		t.Fatalf("stdout is not valid JSON: %v\n%s", err, r.Stdout)
	}
}

// DecodeYAML unmarshals stdout into v.
func (r *CommandResult) DecodeYAML(t *testing.T, v any) {
	t.Helper()
	if err := yaml.Unmarshal([]byte(r.Stdout), v); err != nil {
		t.Fatalf("stdout is not valid YAML: %v\n%s", err, r.Stdout)
	}
}
