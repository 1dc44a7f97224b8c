package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/authpkce/pkg/clierror"
	"github.com/gobeyondidentity/authpkce/pkg/session"
)

func init() {
	rootCmd.AddCommand(userinfoCmd)
	userinfoCmd.Flags().Bool("trace", false, "Show every attempt the executor made")
}

var userinfoCmd = &cobra.Command{
	Use:   "userinfo",
	Short: "Fetch the OpenID Connect userinfo",
	Long: `Call the userinfo endpoint with the stored access token, using DPoP
when it is enabled.

Examples:
  pkcectl userinfo
  pkcectl userinfo --trace -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		trace, _ := cmd.Flags().GetBool("trace")

		s, err := openSession(cmd, "")
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.FetchUserinfo(cmd.Context())
		if errors.Is(err, session.ErrNoUserinfoEndpoint) {
			return clierror.ConfigInvalid(err)
		}
		return printResult(cmd, res, err, trace)
	},
}
