package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(logoutCmd)
}

// LogoutOutput is the JSON/YAML output of logout.
type LogoutOutput struct {
	LoggedOut bool   `json:"logged_out" yaml:"logged_out"`
	LogoutURL string `json:"logout_url,omitempty" yaml:"logout_url,omitempty"`
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session",
	Long: `Clear the stored tokens and open the provider's end-session endpoint.

The DPoP key pair and preference are kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, "")
		if err != nil {
			return err
		}
		defer s.Close()

		logoutURL, err := s.Logout(cmd.Context())
		if err != nil {
			if logoutURL == "" {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not open a browser. To end the provider session, open:\n\n  %s\n\n", logoutURL)
		}

		if outputFormat != "table" {
			return formatOutput(cmd, LogoutOutput{LoggedOut: true, LogoutURL: logoutURL})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}
