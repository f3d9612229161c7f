// Command chatagent serves a tool-using chat agent over HTTP and the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chatagent/pkg/chat"
	"chatagent/pkg/config"
	"chatagent/pkg/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdin, stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var (
		configPath string
		o          overrides
	)

	load := func() (*config.Config, error) {
		return loadConfig(configPath, o)
	}

	root := &cobra.Command{
		Use:           "chatagent",
		Short:         "chatagent answers chat messages with a tool-using language model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "chatagent.yaml", "Path to the YAML or JSON config file (missing file means defaults)")
	flags.StringVar(&o.profile, "profile", "", "Prompt profile: office, weather or weather-guarded")
	flags.StringVar(&o.model, "model", "", "Model name; the provider is inferred unless --provider is set")
	flags.StringVar(&o.provider, "provider", "", "Backend: ollama, anthropic, openai, openai-compatible, google or bedrock")

	serve := newServeCmd(load)
	root.AddCommand(serve, newAskCmd(load), newReplCmd(load), newVersionCmd())

	// Bare "chatagent" serves.
	root.Flags().AddFlagSet(serve.Flags())
	root.RunE = serve.RunE

	return root
}

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// errAskFailed makes ask exit non-zero when the run did not complete. A
// guardrail refusal is an answer and exits 0.
var errAskFailed = errors.New("the request could not be completed")

func newAskCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <message>",
		Short: "Answer one message and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			reply, err := a.ask(cmd.Context(), "", strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Response)
			if reply.Outcome == chat.OutcomeError {
				return errAskFailed
			}
			return nil
		},
	}
}

func newReplCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Chat interactively in one session until EOF or /quit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			return a.repl(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
