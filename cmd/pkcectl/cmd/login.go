package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/authpkce/pkg/clierror"
	"github.com/gobeyondidentity/authpkce/pkg/session"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().Bool("dpop", false, "Bind tokens to a DPoP key; --dpop=false switches back to Bearer")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in through the browser",
	Long: `Start the authorization code flow with PKCE.

A loopback listener is started on the redirect URI, the authorization URL is
opened in the browser and pkcectl waits for the redirect. The code is then
exchanged for tokens, with DPoP proofs when DPoP is enabled.

The --dpop flag changes the stored DPoP preference before signing in.

Examples:
  pkcectl login
  pkcectl login --dpop
  pkcectl login --no-browser --redirect-uri http://127.0.0.1:9000/callback`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cb, err := session.NewCallbackServer(settings.RedirectURI, logger)
	if err != nil {
		return clierror.ConfigInvalid(err)
	}
	if err := cb.Start(); err != nil {
		return fmt.Errorf("start callback listener: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = cb.Close(shutdownCtx)
	}()

	s, err := openSession(cmd, cb.RedirectURI())
	if err != nil {
		return err
	}
	defer s.Close()

	if cmd.Flags().Changed("dpop") {
		enabled, _ := cmd.Flags().GetBool("dpop")
		if err := s.SetDPoP(enabled); err != nil {
			return err
		}
	}

	authURL, err := s.Login(ctx)
	if err != nil {
		if authURL == "" {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Could not open a browser. Open this URL to continue:\n\n  %s\n\n", authURL)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Waiting for the authorization redirect...")

	waitCtx, cancel := context.WithTimeout(ctx, settings.CallbackTimeout)
	defer cancel()
	q, err := cb.Wait(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("no authorization redirect within %s", settings.CallbackTimeout)
	}
	if err != nil {
		return fmt.Errorf("waiting for authorization redirect: %w", err)
	}

	if _, err := s.HandleRedirect(ctx, q); err != nil {
		return err
	}
	return printStatus(cmd, s.Status(), time.Now())
}
