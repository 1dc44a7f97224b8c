// Package cmd implements the pkcectl CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gobeyondidentity/authpkce/internal/config"
	"github.com/gobeyondidentity/authpkce/internal/version"
	"github.com/gobeyondidentity/authpkce/pkg/clierror"
)

const (
	flagOutput    = "output"
	flagNoBrowser = "no-browser"
)

var (
	// Global flags
	outputFormat string
	noBrowser    bool

	// Loaded by the root pre-run for every command that needs them.
	settings *config.Config
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pkcectl",
	Short: "OAuth 2.0 PKCE and DPoP client for the command line",
	Long: `pkcectl signs in to an OAuth 2.0 / OpenID Connect provider using the
authorization code flow with PKCE, optionally binding tokens to a DPoP key.

The browser is opened for the authorization step and the redirect is caught
on a loopback listener. Tokens and the DPoP key pair are kept in a local
database so later commands reuse the session.

Settings come from flags, AUTHPKCE_* environment variables and
$XDG_CONFIG_HOME/authpkce/config.yaml, in that order of precedence.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Completion scripts must work without a config file
		if cmd.Name() == "completion" || cmd.Name() == "help" {
			return nil
		}
		return loadSettings(cmd)
	},
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for pkcectl.

To load completions:

Bash:
  source <(pkcectl completion bash)

Zsh:
  pkcectl completion zsh > "${fpath[1]}/_pkcectl"

Fish:
  pkcectl completion fish > ~/.config/fish/completions/pkcectl.fish

PowerShell:
  pkcectl completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		default:
			return fmt.Errorf("unknown shell: %s", args[0])
		}
	},
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().StringVarP(&outputFormat, flagOutput, "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noBrowser, flagNoBrowser, false, "Print URLs instead of opening a browser")
	rootCmd.AddCommand(completionCmd)
}

// Execute runs the root command and returns the process exit code. Errors
// are printed to stderr in the selected output format.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cerr := clierror.FromError(err)
		fmt.Fprintln(rootCmd.ErrOrStderr(), clierror.FormatError(cerr, outputFormat))
		return cerr.ExitCode
	}
	return clierror.ExitSuccess
}

// loadSettings merges flags, environment and config file into settings and
// builds the logger.
func loadSettings(cmd *cobra.Command) error {
	v := viper.New()
	if err := config.Bind(v, cmd.Root().PersistentFlags()); err != nil {
		return clierror.ConfigInvalid(err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return clierror.ConfigInvalid(err)
	}

	outputFormat = v.GetString(flagOutput)
	switch outputFormat {
	case "table", "json", "yaml":
	default:
		format := outputFormat
		outputFormat = "table"
		return clierror.ConfigInvalid(fmt.Errorf("output must be table, json or yaml: %q", format))
	}

	settings = cfg
	logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	return nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// formatOutput writes data as JSON or YAML according to --output. Table
// output is handled by each command.
func formatOutput(cmd *cobra.Command, data any) error {
	switch outputFormat {
	case "json":
		return outputJSON(cmd.OutOrStdout(), data)
	case "yaml":
		return outputYAML(cmd.OutOrStdout(), data)
	default:
		return nil
	}
}

func outputJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputYAML(w io.Writer, data any) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return data
}
