package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/authpkce/pkg/clierror"
)

func init() {
	rootCmd.AddCommand(dpopCmd)
	dpopCmd.AddCommand(dpopEnableCmd)
	dpopCmd.AddCommand(dpopDisableCmd)
	dpopCmd.AddCommand(dpopShowCmd)
	dpopCmd.AddCommand(dpopRotateCmd)

	dpopRotateCmd.Flags().Bool("force", false, "Rotate even while logged in")
}

// DPoPOutput is the JSON/YAML output of the dpop commands.
type DPoPOutput struct {
	Enabled    bool           `json:"enabled" yaml:"enabled"`
	Thumbprint string         `json:"jkt,omitempty" yaml:"jkt,omitempty"`
	PublicJWK  map[string]any `json:"public_jwk,omitempty" yaml:"public_jwk,omitempty"`
}

var dpopCmd = &cobra.Command{
	Use:   "dpop",
	Short: "Manage DPoP token binding",
	Long: `Enable or disable DPoP and inspect the key pair tokens are bound to.

The preference applies to the next login. Tokens already issued keep the
binding they were issued with.`,
}

var dpopEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Use DPoP-bound tokens, creating a key pair if needed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDPoP(cmd, true)
	},
}

var dpopDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Use Bearer tokens; the key pair is kept",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDPoP(cmd, false)
	},
}

var dpopShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the DPoP preference and public key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, "")
		if err != nil {
			return err
		}
		defer s.Close()

		s.Keys().Restore()
		return printDPoP(cmd, s.dpopState())
	},
}

var dpopRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the DPoP key pair",
	Long: `Generate a new DPoP key pair. Tokens bound to the old key stop working,
so rotating while logged in requires --force and a new login afterwards.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		s, err := openSession(cmd, "")
		if err != nil {
			return err
		}
		defer s.Close()

		if s.Tokens() != nil && !force {
			return fmt.Errorf("logged in: rotating the key invalidates DPoP-bound tokens, use --force")
		}
		if _, err := s.Keys().Generate(); err != nil {
			return clierror.KeyMaterial(err.Error())
		}
		return printDPoP(cmd, s.dpopState())
	},
}

func setDPoP(cmd *cobra.Command, enabled bool) error {
	s, err := openSession(cmd, "")
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.SetDPoP(enabled); err != nil {
		return err
	}
	s.Keys().Restore()
	return printDPoP(cmd, s.dpopState())
}

// dpopState reports the preference and the loaded key pair.
func (s *cliSession) dpopState() DPoPOutput {
	out := DPoPOutput{Enabled: s.DPoPEnabled()}
	kp := s.Keys().Current()
	if kp == nil {
		return out
	}
	if thumb, err := kp.Thumbprint(); err == nil {
		out.Thumbprint = thumb
	}
	if data, err := kp.PublicJWKJSON(); err == nil {
		_ = json.Unmarshal(data, &out.PublicJWK)
	}
	return out
}

func printDPoP(cmd *cobra.Command, out DPoPOutput) error {
	if outputFormat != "table" {
		return formatOutput(cmd, out)
	}
	w := cmd.OutOrStdout()
	if out.Enabled {
		fmt.Fprintln(w, "DPoP: enabled")
	} else {
		fmt.Fprintln(w, "DPoP: disabled")
	}
	if out.Thumbprint == "" {
		fmt.Fprintln(w, "Key pair: none")
		return nil
	}
	fmt.Fprintf(w, "Key thumbprint: %s\n", out.Thumbprint)
	jwk, err := json.Marshal(out.PublicJWK)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Public JWK: %s\n", jwk)
	return nil
}
