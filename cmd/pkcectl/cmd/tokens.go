package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/authpkce/pkg/session"
	"github.com/gobeyondidentity/authpkce/pkg/tokens"
)

func init() {
	rootCmd.AddCommand(tokensCmd)
	tokensCmd.Flags().Bool("raw", false, "Include the encoded tokens")
}

// TokenOutput describes one stored token.
type TokenOutput struct {
	Name   string        `json:"name" yaml:"name"`
	Claims tokens.Claims `json:"claims,omitempty" yaml:"claims,omitempty"`
	Opaque bool          `json:"opaque,omitempty" yaml:"opaque,omitempty"`
	Raw    string        `json:"raw,omitempty" yaml:"raw,omitempty"`
}

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Decode the stored tokens",
	Long: `Show the claims of the stored access, ID and refresh tokens.

Signatures are not verified; the claims are shown as issued. Tokens that are
not JWTs are reported as opaque.

Examples:
  pkcectl tokens
  pkcectl tokens --raw -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetBool("raw")

		s, err := openSession(cmd, "")
		if err != nil {
			return err
		}
		defer s.Close()

		ts := s.Tokens()
		if ts == nil {
			return session.ErrNotLoggedIn
		}
		out := describeTokens(ts, raw)

		if outputFormat != "table" {
			return formatOutput(cmd, out)
		}
		w := cmd.OutOrStdout()
		for i, tok := range out {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%s:\n", tok.Name)
			if tok.Opaque {
				fmt.Fprintln(w, "  (opaque)")
			}
			keys := make([]string, 0, len(tok.Claims))
			for k := range tok.Claims {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "  %s: %s\n", k, formatClaim(tok.Claims, k))
			}
			if tok.Raw != "" {
				fmt.Fprintf(w, "  raw: %s\n", tok.Raw)
			}
		}
		return nil
	},
}

func describeTokens(ts *tokens.TokenSet, raw bool) []TokenOutput {
	var out []TokenOutput
	add := func(name, value string) {
		if value == "" {
			return
		}
		tok := TokenOutput{Name: name}
		if claims, err := tokens.ParseJWT(value); err == nil {
			tok.Claims = claims
		} else {
			tok.Opaque = true
		}
		if raw {
			tok.Raw = value
		}
		out = append(out, tok)
	}
	add("access_token", ts.AccessToken)
	add("id_token", ts.IDToken)
	add("refresh_token", ts.RefreshToken)
	return out
}

// formatClaim renders NumericDate claims as RFC 3339 times.
func formatClaim(claims tokens.Claims, name string) string {
	switch name {
	case "exp", "iat", "nbf", "auth_time":
		if t, ok := claims.Time(name); ok {
			return fmt.Sprintf("%s (%v)", t.UTC().Format(time.RFC3339), claims[name])
		}
	}
	return fmt.Sprint(claims[name])
}
