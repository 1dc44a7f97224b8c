// Package cli provides test helpers for cobra commands.
//
// Run a command and check its output:
//
//	result := cli.Run(rootCmd, "status", "-o", "json")
//	result.AssertSuccess(t)
//	result.AssertContains(t, `"logged_in"`)
//
// Structured output decodes straight into a value:
//
//	var st statusOutput
//	result.DecodeJSON(t, &st)
//
// Failures are checked by their pkcectl error code:
//
//	result.AssertCode(t, clierror.CodeNotLoggedIn)
//
// A Workspace gives each test its own database and config file:
//
//	ws := cli.NewWorkspace(t)
//	ws.WriteConfig(t, map[string]any{"client-id": "pkcectl", "issuer": idp.Issuer()})
//	result := cli.Run(rootCmd, ws.Args("status")...)
package cli
