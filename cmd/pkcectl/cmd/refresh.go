package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(refreshCmd)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token for new tokens",
	Long: `Use the stored refresh token to obtain a new access token.

When the provider rejects the refresh token as invalid or expired the
session is ended and you need to log in again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, "")
		if err != nil {
			return err
		}
		defer s.Close()

		if _, err := s.Refresh(cmd.Context()); err != nil {
			return err
		}
		return printStatus(cmd, s.Status(), time.Now())
	},
}
