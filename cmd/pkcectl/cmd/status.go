package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/authpkce/pkg/session"
	"github.com/gobeyondidentity/authpkce/pkg/timeutil"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

// StatusOutput is the JSON/YAML output of status, login and refresh.
type StatusOutput struct {
	LoggedIn        bool              `json:"logged_in" yaml:"logged_in"`
	Subject         string            `json:"subject,omitempty" yaml:"subject,omitempty"`
	Email           string            `json:"email,omitempty" yaml:"email,omitempty"`
	User            string            `json:"user,omitempty" yaml:"user,omitempty"`
	TokenType       string            `json:"token_type,omitempty" yaml:"token_type,omitempty"`
	Scope           string            `json:"scope,omitempty" yaml:"scope,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	ExpiresIn       string            `json:"expires_in,omitempty" yaml:"expires_in,omitempty"`
	HasRefreshToken bool              `json:"has_refresh_token" yaml:"has_refresh_token"`
	HasIDToken      bool              `json:"has_id_token" yaml:"has_id_token"`
	DPoP            bool              `json:"dpop" yaml:"dpop"`
	Thumbprint      string            `json:"jkt,omitempty" yaml:"jkt,omitempty"`
	AutoRefresh     bool              `json:"auto_refresh" yaml:"auto_refresh"`
	DecodeErrors    map[string]string `json:"decode_errors,omitempty" yaml:"decode_errors,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	Long: `Show whether you are logged in, who the tokens belong to, when the
access token expires and whether DPoP is enabled.

Examples:
  pkcectl status
  pkcectl status -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, "")
		if err != nil {
			return err
		}
		defer s.Close()
		return printStatus(cmd, s.Status(), time.Now())
	},
}

func newStatusOutput(st session.Status) StatusOutput {
	out := StatusOutput{
		LoggedIn:        st.LoggedIn,
		Subject:         st.Subject,
		Email:           st.Email,
		User:            st.User,
		TokenType:       st.TokenType,
		Scope:           st.Scope,
		ExpiresAt:       st.ExpiresAt,
		HasRefreshToken: st.HasRefreshToken,
		HasIDToken:      st.HasIDToken,
		DPoP:            st.DPoP,
		Thumbprint:      st.Thumbprint,
		AutoRefresh:     st.AutoRefresh,
		DecodeErrors:    st.DecodeErrors,
	}
	if st.ExpiresAt != nil {
		out.ExpiresIn = timeutil.FormatCountdown(st.Remaining)
	}
	return out
}

func printStatus(cmd *cobra.Command, st session.Status, now time.Time) error {
	out := newStatusOutput(st)
	if outputFormat != "table" {
		return formatOutput(cmd, out)
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	if !out.LoggedIn {
		fmt.Fprintf(w, "Session:\t%s\n", red("not logged in"))
	} else {
		fmt.Fprintf(w, "Session:\t%s\n", green("logged in"))
		fmt.Fprintf(w, "Subject:\t%s\n", orDash(out.Subject))
		if out.User != "" {
			fmt.Fprintf(w, "User:\t%s\n", out.User)
		}
		if out.Email != "" {
			fmt.Fprintf(w, "Email:\t%s\n", out.Email)
		}
		fmt.Fprintf(w, "Token type:\t%s\n", orDash(out.TokenType))
		fmt.Fprintf(w, "Scope:\t%s\n", orDash(out.Scope))
		switch {
		case out.ExpiresAt == nil:
			fmt.Fprintf(w, "Expires:\t%s\n", "unknown")
		case st.Remaining <= 0:
			fmt.Fprintf(w, "Expires:\t%s (%s)\n", red("expired"), timeutil.Relative(*out.ExpiresAt, now))
		default:
			fmt.Fprintf(w, "Expires:\t%s (%s)\n", out.ExpiresIn, timeutil.Relative(*out.ExpiresAt, now))
		}
		fmt.Fprintf(w, "Refresh token:\t%s\n", yesNo(out.HasRefreshToken))
		fmt.Fprintf(w, "ID token:\t%s\n", yesNo(out.HasIDToken))
	}
	if out.DPoP {
		fmt.Fprintf(w, "DPoP:\t%s\n", green("enabled"))
	} else {
		fmt.Fprintf(w, "DPoP:\t%s\n", "disabled")
	}
	if out.Thumbprint != "" {
		fmt.Fprintf(w, "Key thumbprint:\t%s\n", out.Thumbprint)
	}
	fmt.Fprintf(w, "Auto-refresh:\t%s\n", onOff(out.AutoRefresh))

	names := make([]string, 0, len(out.DecodeErrors))
	for name := range out.DecodeErrors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "Warning:\t%s\n", yellow(name+" could not be decoded: "+out.DecodeErrors[name]))
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
