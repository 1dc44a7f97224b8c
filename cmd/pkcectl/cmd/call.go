package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/authpkce/pkg/clierror"
	"github.com/gobeyondidentity/authpkce/pkg/executor"
)

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().StringP("data", "d", "", "JSON request body, @file to read a file, or - for stdin")
	callCmd.Flags().Bool("trace", false, "Show every attempt the executor made")
}

// CallOutput is the JSON/YAML output of call and userinfo.
type CallOutput struct {
	OK       bool             `json:"ok" yaml:"ok"`
	Status   int              `json:"status,omitempty" yaml:"status,omitempty"`
	Decision string           `json:"decision,omitempty" yaml:"decision,omitempty"`
	Body     any              `json:"body,omitempty" yaml:"body,omitempty"`
	Traces   []executor.Trace `json:"traces,omitempty" yaml:"traces,omitempty"`
}

var callCmd = &cobra.Command{
	Use:   "call <method> <url>",
	Short: "Call a protected resource with the access token",
	Long: `Send a request with the stored access token.

In DPoP mode every attempt carries a fresh proof. When the resource asks for
a nonce, names the URL it expects in the proof, or only accepts another
token scheme, the request is retried once accordingly.

Relative URLs are resolved against --platform-endpoint.

Examples:
  pkcectl call GET https://api.example.com/v1/me
  pkcectl call POST /v1/items -d '{"name":"demo"}' --platform-endpoint https://api.example.com
  pkcectl call PUT /v1/items/7 -d @item.json --trace`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		method := strings.ToUpper(args[0])
		target, err := settings.ResolveURL(args[1])
		if err != nil {
			return clierror.ConfigInvalid(err)
		}
		data, _ := cmd.Flags().GetString("data")
		body, err := readBody(cmd, data)
		if err != nil {
			return err
		}
		trace, _ := cmd.Flags().GetBool("trace")

		s, err := openSession(cmd, "")
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.CallEndpoint(cmd.Context(), method, target, body)
		return printResult(cmd, res, err, trace)
	},
}

// readBody interprets the --data value.
func readBody(cmd *cobra.Command, data string) ([]byte, error) {
	switch {
	case data == "":
		return nil, nil
	case data == "-":
		return io.ReadAll(cmd.InOrStdin())
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		return b, nil
	default:
		return []byte(data), nil
	}
}

func newCallOutput(res *executor.Result, trace bool) CallOutput {
	out := CallOutput{OK: res.OK}
	// The decision only means something once an attempt failed
	if !res.OK || len(res.Traces) > 1 {
		out.Decision = res.Decision.String()
	}
	if res.Response != nil {
		out.Status = res.Response.StatusCode
		out.Body = decodeBody(res.Response.Body)
	}
	if trace {
		out.Traces = res.Traces
	}
	return out
}

// decodeBody returns JSON bodies as values and anything else as text.
func decodeBody(body string) any {
	if body == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(body), &v); err == nil {
		return v
	}
	return body
}

// printResult writes the final response, and the traces when asked, then
// returns callErr. Traces of a failed call go to stderr in table mode.
func printResult(cmd *cobra.Command, res *executor.Result, callErr error, trace bool) error {
	if res == nil {
		return callErr
	}

	if outputFormat != "table" {
		if err := formatOutput(cmd, newCallOutput(res, trace)); err != nil {
			return err
		}
		return callErr
	}

	if trace {
		printTraces(cmd.ErrOrStderr(), res.Traces)
	}
	if callErr != nil {
		return callErr
	}

	w := cmd.OutOrStdout()
	body := res.Response.Body
	var pretty bytes.Buffer
	if json.Indent(&pretty, []byte(body), "", "  ") == nil {
		body = pretty.String()
	}
	if body != "" {
		fmt.Fprintln(w, body)
	}
	return nil
}

func printTraces(w io.Writer, traces []executor.Trace) {
	for _, tr := range traces {
		fmt.Fprintf(w, "#%d %s %s (%s)\n", tr.Attempt, tr.Request.Method, tr.Request.URL, tr.Reason)
		if tr.Request.HTU != "" && tr.Request.HTU != tr.Request.URL {
			fmt.Fprintf(w, "   htu: %s\n", tr.Request.HTU)
		}
		if auth := tr.Request.Header.Get("Authorization"); auth != "" {
			fmt.Fprintf(w, "   authorization: %s\n", auth)
		}
		switch {
		case tr.Response != nil:
			fmt.Fprintf(w, "   -> %s\n", tr.Response.Status)
			if ch := tr.Response.Header.Get("WWW-Authenticate"); ch != "" {
				fmt.Fprintf(w, "   www-authenticate: %s\n", ch)
			}
		case tr.Error != "":
			fmt.Fprintf(w, "   -> error: %s\n", tr.Error)
		}
	}
}
