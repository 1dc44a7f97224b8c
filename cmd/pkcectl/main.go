// pkcectl signs in to an OAuth 2.0 / OpenID Connect provider with PKCE,
// optionally binding tokens to a DPoP key, and calls protected resources.
package main

import (
	"os"

	"github.com/gobeyondidentity/authpkce/cmd/pkcectl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
