package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
)

// Opener shows a URL to the user, normally in a browser.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) error

func (f OpenerFunc) Open(ctx context.Context, url string) error {
	return f(ctx, url)
}

// DetectOpener picks the system browser launcher, falling back to printing
// the URL on stderr.
func DetectOpener() Opener {
	switch runtime.GOOS {
	case "darwin":
		if path, err := exec.LookPath("open"); err == nil {
			return &CommandOpener{CommandName: path}
		}
	case "linux", "freebsd", "openbsd":
		if path, err := exec.LookPath("xdg-open"); err == nil {
			return &CommandOpener{CommandName: path}
		}
	case "windows":
		return &CommandOpener{CommandName: "rundll32", Args: []string{"url.dll,FileProtocolHandler"}}
	}
	return &EchoOpener{}
}

// CommandOpener runs a command with the URL as its last argument.
type CommandOpener struct {
	CommandName string
	Args        []string
}

func (o *CommandOpener) Open(ctx context.Context, url string) error {
	args := append(append([]string(nil), o.Args...), url)
	return exec.CommandContext(ctx, o.CommandName, args...).Run()
}

// EchoOpener prints the URL for the user to open by hand.
type EchoOpener struct {
	W io.Writer
}

func (o *EchoOpener) Open(ctx context.Context, url string) error {
	w := o.W
	if w == nil {
		w = os.Stderr
	}
	_, err := fmt.Fprintf(w, "To continue, open this URL in a browser:\n\n  %s\n\n", url)
	return err
}
