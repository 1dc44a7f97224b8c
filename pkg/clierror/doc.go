// Package clierror provides structured error handling for pkcectl.
//
// CLI errors include an exit code, a stable error code, a user-facing
// message, and an optional hint. FromError maps errors from the session,
// executor, pkce and tokens packages onto this taxonomy so commands can
// return library errors directly.
//
// # Usage
//
//	if err := mgr.Login(ctx); err != nil {
//	    clierror.PrintError(clierror.FromError(err), outputFormat)
//	}
package clierror
