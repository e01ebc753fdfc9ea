// Command keyflowctl inspects and drives a running keyflow daemon over its
// control channel.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"keyflow/internal/ipc"
)

// sendFunc delivers one request to the daemon.
type sendFunc func(endpoint string, req ipc.Request) (ipc.Response, error)

// exitError carries the daemon's exit code back to main.
type exitError struct{ code int }

func (e *exitError) Error() string { return "exit status " + strconv.Itoa(e.code) }

func main() {
	cmd := newRootCmd(ipc.Send, os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "keyflowctl: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	send     sendFunc
	stdout   io.Writer
	stderr   io.Writer
	endpoint string
	asJSON   bool
}

func newRootCmd(send sendFunc, stdout, stderr io.Writer) *cobra.Command {
	c := &client{send: send, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "keyflowctl",
		Short:         "Control a running keyflow daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&c.endpoint, "pipe", "", "control endpoint (default $"+ipc.EnvEndpoint+" or the per-user endpoint)")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print structured output as JSON")

	root.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the chord state, armed shortcuts and active groups",
			Args:  cobra.NoArgs,
			RunE:  c.runE(ipc.CmdStatus),
		},
		&cobra.Command{
			Use:   "reload",
			Short: "Re-read the configuration file",
			Args:  cobra.NoArgs,
			RunE:  c.runE(ipc.CmdReload),
		},
		&cobra.Command{
			Use:   "cancel",
			Short: "Abandon a partially typed chord",
			Args:  cobra.NoArgs,
			RunE:  c.runE(ipc.CmdCancel),
		},
		&cobra.Command{
			Use:     "press <shortcut>",
			Short:   "Deliver an armed shortcut as if it had been typed",
			Example: "  keyflowctl press Cmd+K",
			Args:    cobra.ExactArgs(1),
			RunE:    c.runE(ipc.CmdPress),
		},
		&cobra.Command{
			Use:   "run <workflow-id>",
			Short: "Queue a workflow without typing its chord",
			Args:  cobra.ExactArgs(1),
			RunE:  c.runE(ipc.CmdRun),
		},
		&cobra.Command{
			Use:   "history [n]",
			Short: "List the most recent runs",
			Args:  cobra.MaximumNArgs(1),
			RunE:  c.runE(ipc.CmdHistory),
		},
	)
	return root
}

func (c *client) runE(command string) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		return c.do(ipc.Request{Command: command, Args: args})
	}
}

func (c *client) do(req ipc.Request) error {
	endpoint := c.endpoint
	if endpoint == "" {
		endpoint = ipc.DefaultEndpoint()
	}
	resp, err := c.send(endpoint, req)
	if err != nil {
		if ipc.IsConnectionError(err) {
			return fmt.Errorf("no keyflow daemon listening on %s", endpoint)
		}
		return err
	}

	switch {
	case c.asJSON && len(resp.Data) > 0:
		fmt.Fprintln(c.stdout, string(resp.Data))
	case resp.Stdout != "":
		fmt.Fprint(c.stdout, resp.Stdout)
	}
	if resp.Stderr != "" {
		fmt.Fprint(c.stderr, resp.Stderr)
	}
	if resp.ExitCode != 0 {
		return &exitError{code: resp.ExitCode}
	}
	return nil
}
