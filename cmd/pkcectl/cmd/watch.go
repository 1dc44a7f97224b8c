package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/authpkce/pkg/scheduler"
	"github.com/gobeyondidentity/authpkce/pkg/session"
	"github.com/gobeyondidentity/authpkce/pkg/timeutil"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Duration("for", 0, "Stop after this long (default: until interrupted)")
}

// CountdownOutput is one JSON/YAML line of watch output.
type CountdownOutput struct {
	Time      time.Time  `json:"time" yaml:"time"`
	Known     bool       `json:"known" yaml:"known"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	ExpiresIn string     `json:"expires_in,omitempty" yaml:"expires_in,omitempty"`
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show the access token countdown",
	Long: `Print the time left on the access token every tick interval.

With --auto-refresh the session is refreshed once the token is within
--refresh-threshold of expiry. Watch ends on interrupt, after --for, or when
the session ends.

Examples:
  pkcectl watch
  pkcectl watch --auto-refresh --refresh-threshold 2m
  pkcectl watch --for 30s -o json`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

// countdownPrinter renders ticks until it is stopped. Ticks arrive on the
// scheduler goroutine.
type countdownPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	format  string
	now     func() time.Time
	stopped bool
}

func (p *countdownPrinter) print(cd scheduler.Countdown) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}

	now := p.now()
	if p.format == "table" {
		if !cd.Known {
			fmt.Fprintf(p.w, "%s  expiry unknown\n", now.Format(time.TimeOnly))
			return
		}
		fmt.Fprintf(p.w, "%s  expires in %s\n", now.Format(time.TimeOnly), timeutil.FormatCountdown(cd.Remaining))
		return
	}

	line := CountdownOutput{Time: now.UTC(), Known: cd.Known}
	if cd.Known {
		exp := cd.ExpiresAt.UTC()
		line.ExpiresAt = &exp
		line.ExpiresIn = timeutil.FormatCountdown(cd.Remaining)
	}
	if p.format == "json" {
		// One compact object per line
		fmt.Fprintf(p.w, "%s\n", mustJSON(line))
		return
	}
	fmt.Fprintln(p.w, "---")
	_ = outputYAML(p.w, line)
}

func (p *countdownPrinter) stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

func runWatch(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetDuration("for")

	printer := &countdownPrinter{w: cmd.OutOrStdout(), format: outputFormat, now: time.Now}
	defer printer.stop()

	s, err := openSession(cmd, "", session.WithDisplay(printer.print))
	if err != nil {
		return err
	}
	defer s.Close()

	if s.Tokens() == nil {
		return session.ErrNotLoggedIn
	}

	var timeout <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-cmd.Context().Done():
		return nil
	case <-timeout:
		return nil
	case <-s.Scheduler().Done():
		if s.Tokens() == nil {
			return session.ErrSessionExpired
		}
		return nil
	}
}
