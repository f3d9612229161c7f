package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	replPrompt   = "> "
	replQuit     = "/quit"
	replMaxInput = 1 << 20
)

// repl reads one message per line and answers each in the same session.
// It returns on EOF, /quit or context cancellation.
func (a *app) repl(ctx context.Context, in io.Reader, out io.Writer) error {
	interactive := isTerminal(in)
	if interactive {
		fmt.Fprintf(out, "chatagent (%s). Type %s or press Ctrl-D to exit.\n", a.cfg.Model.Name, replQuit)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), replMaxInput)

	sessionID := ""
	for {
		if interactive {
			fmt.Fprint(out, replPrompt)
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case replQuit:
			return nil
		}

		reply, err := a.ask(ctx, sessionID, line)
		if err != nil {
			return err
		}
		sessionID = reply.SessionID
		fmt.Fprintln(out, reply.Response)
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
