package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/peterh/liner"
)

const historyFile = "shell_history"

// ShellCmd returns the shell command.
func ShellCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("shell"),
		Usage: "shell",
		Short: "Run commands interactively against one open store",
		Args:  []string{},
		Long: "Read commands line by line and run them against a single open store, so\n" +
			"live views and the saving counter persist between commands. Type 'exit' to quit.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			_, err := a.Store(ctx)
			if err != nil {
				return err
			}

			if f, ok := a.in.(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
				return a.interactive(ctx, o)
			}

			return a.script(ctx, o)
		},
	}
}

// interactive runs the shell with line editing and history.
func (a *app) interactive(ctx context.Context, o *IO) error {
	state := liner.NewLiner()
	defer state.Close()

	state.SetCtrlCAborts(true)
	state.SetCompleter(completer)

	histPath := filepath.Join(a.cfg.DataDirAbs, historyFile)

	if f, err := os.Open(histPath); err == nil {
		_, _ = state.ReadHistory(f)
		_ = f.Close()
	}

	defer func() {
		f, err := os.Create(histPath)
		if err != nil {
			a.log.WithError(err).Debug("could not save shell history")

			return
		}

		_, _ = state.WriteHistory(f)
		_ = f.Close()
	}()

	for ctx.Err() == nil {
		line, err := state.Prompt("gtd> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		state.AppendHistory(line)

		if a.dispatch(ctx, o, line) {
			return nil
		}
	}

	return nil
}

// script runs one command per input line, for piped input.
func (a *app) script(ctx context.Context, o *IO) error {
	if a.in == nil {
		return nil
	}

	sc := bufio.NewScanner(a.in)

	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if a.dispatch(ctx, o, line) {
			return nil
		}
	}

	err := sc.Err()
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	return nil
}

// dispatch runs one shell line. It reports whether the shell should exit.
// Command failures are printed but do not end the session.
func (a *app) dispatch(ctx context.Context, o *IO, line string) bool {
	parts := strings.Fields(line)
	name := strings.ToLower(parts[0])

	// Flag sets keep parsed values, so every line gets fresh commands.
	cmds := commands(a)
	delete(cmds, "shell")

	switch name {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		for _, n := range commandOrder {
			if c, ok := cmds[n]; ok {
				o.Println(c.HelpLine())
			}
		}

		return false
	}

	cmd, ok := cmds[name]
	if !ok {
		o.ErrPrintln("error:", fmt.Errorf("%w: %s", errUnknownCommand, name))

		return false
	}

	lineIO := NewIO(o.out, o.errOut)
	cmd.Run(ctx, lineIO, parts[1:])
	lineIO.Finish()

	return false
}

func completer(line string) []string {
	var out []string

	lower := strings.ToLower(line)
	for _, name := range slices.Concat(commandOrder, []string{"help", "exit"}) {
		if name != "shell" && strings.HasPrefix(name, lower) {
			out = append(out, name)
		}
	}

	return out
}
