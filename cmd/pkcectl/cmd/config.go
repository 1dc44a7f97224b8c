package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/authpkce/internal/config"
	"github.com/gobeyondidentity/authpkce/pkg/clierror"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().Bool("discover", false, "Fill missing endpoints from the issuer's discovery document")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings",
	Long: `Show the settings after merging flags, AUTHPKCE_* environment variables
and the config file.

Examples:
  pkcectl config show
  pkcectl config show --discover -o yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		discover, _ := cmd.Flags().GetBool("discover")
		cfg := *settings
		if discover {
			if err := cfg.Resolve(cmd.Context(), newHTTPClient(cfg.HTTPTimeout)); err != nil {
				return fmt.Errorf("resolve endpoints: %w", err)
			}
		}

		if outputFormat != "table" {
			return formatOutput(cmd, cfg)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		rows := []struct{ key, value string }{
			{config.KeyConfig, orDash(cfg.File)},
			{config.KeyIssuer, orDash(cfg.Issuer)},
			{config.KeyClientID, orDash(cfg.ClientID)},
			{config.KeyAuthURL, orDash(cfg.AuthURL)},
			{config.KeyTokenURL, orDash(cfg.TokenURL)},
			{config.KeyUserinfoURL, orDash(cfg.UserinfoURL)},
			{config.KeyLogoutURL, orDash(cfg.LogoutURL)},
			{config.KeyScope, cfg.Scope},
			{config.KeyRedirectURI, cfg.RedirectURI},
			{config.KeyPlatformEndpoint, orDash(cfg.PlatformEndpoint)},
			{config.KeyDB, cfg.DB},
			{config.KeySeal, fmt.Sprint(cfg.Seal)},
			{config.KeyAutoRefresh, fmt.Sprint(cfg.AutoRefresh)},
			{config.KeyRefreshThreshold, cfg.RefreshThreshold.String()},
			{config.KeyTickInterval, cfg.TickInterval.String()},
			{config.KeyHTTPTimeout, cfg.HTTPTimeout.String()},
			{config.KeyCallbackTimeout, cfg.CallbackTimeout.String()},
			{config.KeyLogLevel, cfg.LogLevel},
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\n", r.key, r.value)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr())
			fmt.Fprintln(cmd.ErrOrStderr(), clierror.FormatError(clierror.ConfigInvalid(err), "table"))
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := settings.File
		if path == "" {
			path = config.DefaultConfigPath()
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}
