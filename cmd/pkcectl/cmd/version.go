package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/authpkce/internal/version"
	"github.com/gobeyondidentity/authpkce/internal/versioncheck"
)

func init() {
	rootCmd.AddCommand(newVersionCmd())
}

// VersionOutput is the JSON/YAML output of version.
type VersionOutput struct {
	version.Info `yaml:",inline"`
	Check        *versioncheck.Result `json:"check,omitempty" yaml:"check,omitempty"`
}

func newVersionCmd() *cobra.Command {
	return newVersionCmdWithChecker(nil)
}

// newVersionCmdWithChecker builds the version command. A nil checker uses
// the public GitHub API.
func newVersionCmdWithChecker(checker *versioncheck.Checker) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Show the pkcectl version and build details.

With --check, GitHub is asked for the latest release (at most once a day)
and an upgrade command is suggested when a newer one exists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			check, _ := cmd.Flags().GetBool("check")
			out := VersionOutput{Info: version.Get()}
			if check {
				c := checker
				if c == nil {
					c = versioncheck.NewChecker()
				}
				out.Check = c.Check(cmd.Context(), version.Version)
			}

			if outputFormat != "table" {
				return formatOutput(cmd, out)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "pkcectl version %s\n", out.Version)
			fmt.Fprintf(w, "  go: %s\n", out.GoVersion)
			fmt.Fprintf(w, "  platform: %s\n", out.Platform)
			if out.Revision != "" {
				rev := out.Revision
				if out.Modified {
					rev += " (modified)"
				}
				fmt.Fprintf(w, "  revision: %s\n", rev)
			}
			if out.Check != nil {
				printVersionCheck(cmd, out.Check)
			}
			return nil
		},
	}
	cmd.Flags().Bool("check", false, "Check GitHub for a newer release")
	return cmd
}

func printVersionCheck(cmd *cobra.Command, res *versioncheck.Result) {
	w := cmd.OutOrStdout()
	switch {
	case res.LatestVersion == "":
		fmt.Fprintf(cmd.ErrOrStderr(), "Could not check for updates: %v\n", res.Err)
	case res.UpdateAvailable:
		fmt.Fprintf(w, "\nA newer version is available: %s\n", res.LatestVersion)
		if res.ReleaseURL != "" {
			fmt.Fprintf(w, "  release: %s\n", res.ReleaseURL)
		}
		fmt.Fprintf(w, "  upgrade: %s\n", res.UpgradeCommand)
	default:
		fmt.Fprintln(w, "\nYou are running the latest version.")
	}
}
