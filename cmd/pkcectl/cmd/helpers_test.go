package cmd

import (
	"testing"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/authpkce/internal/testutil/cli"
	"github.com/gobeyondidentity/authpkce/internal/testutil/fakeidp"
	"github.com/gobeyondidentity/authpkce/pkg/session"
)

// Tests in this package share rootCmd and its package state, so none of
// them run in parallel.

// withIdP starts a fake provider, points a fresh workspace at it and makes
// the provider act as the browser.
func withIdP(t *testing.T, cfg fakeidp.Config, extra map[string]any) (*fakeidp.Server, *cli.Workspace) {
	t.Helper()
	idp := fakeidp.New(t, cfg)
	ws := cli.NewWorkspace(t)
	t.Setenv("XDG_CONFIG_HOME", ws.Dir+"/.config")

	settings := map[string]any{
		"issuer":       idp.Issuer(),
		"client-id":    "pkcectl",
		"redirect-uri": "http://127.0.0.1:0/callback",
		"log-level":    "error",
	}
	for k, v := range extra {
		settings[k] = v
	}
	ws.WriteConfig(t, settings)
	useOpener(t, idp)
	return idp, ws
}

func useOpener(t *testing.T, o session.Opener) {
	t.Helper()
	prev := newOpener
	newOpener = func(*cobra.Command) session.Opener { return o }
	t.Cleanup(func() { newOpener = prev })
}

// run executes pkcectl in ws with args.
func run(ws *cli.Workspace, args ...string) *cli.CommandResult {
	return cli.Run(rootCmd, ws.Args(args...)...)
}

// login signs in and fails the test if that does not work.
func login(t *testing.T, ws *cli.Workspace, args ...string) {
	t.Helper()
	result := run(ws, append([]string{"login"}, args...)...)
	result.AssertSuccess(t)
}

func readStatus(t *testing.T, ws *cli.Workspace) StatusOutput {
	t.Helper()
	result := run(ws, "status", "-o", "json")
	result.AssertSuccess(t)
	var st StatusOutput
	result.DecodeJSON(t, &st)
	return st
}

// defaultOpener is the opener pkcectl uses outside tests.
var defaultOpener = newOpener
