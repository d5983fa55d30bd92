// Package cli implements the gtd command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/gtd/internal/config"
)

// Run is the main entry point. Returns exit code.
//
// A value on sigCh cancels the running command; commands that block (watch,
// shell) return cleanly.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	global := flag.NewFlagSet("gtd", flag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(io.Discard)

	workDir := global.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := global.StringP("config", "c", "", "Use specified config `file`")
	dataDir := global.String("data-dir", "", "Store data in `dir`")
	backend := global.String("backend", "", "Storage backend (dir|bolt|sqlite|memory)")
	logLevel := global.String("log-level", "", "Log `level` (debug|info|warn|error)")
	help := global.BoolP("help", "h", false, "Show help")

	o := NewIO(out, errOut)
	a := newApp(in)
	cmds := commands(a)

	var rest []string
	if len(args) > 1 {
		err := global.Parse(args[1:])
		if err != nil {
			o.ErrPrintln("error:", err)
			printUsage(errOut, global, cmds)

			return 1
		}

		rest = global.Args()
	}

	if *help || len(rest) == 0 || rest[0] == "help" {
		printUsage(out, global, cmds)

		return 0
	}

	cmd, ok := cmds[rest[0]]
	if !ok {
		o.ErrPrintln("error:", fmt.Errorf("%w: %s", errUnknownCommand, rest[0]))
		printUsage(errOut, global, cmds)

		return 1
	}

	cfg, err := config.Load(config.Input{
		WorkDirOverride:  *workDir,
		ConfigPath:       *configPath,
		DataDirOverride:  *dataDir,
		BackendOverride:  *backend,
		LogLevelOverride: *logLevel,
		Env:              env,
	})
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	a.configure(cfg, errOut)

	defer func() {
		closeErr := a.Close()
		if closeErr != nil {
			o.ErrPrintln("error:", closeErr)
		}
	}()

	code := cmd.Run(ctx, o, rest[1:])

	return max(code, o.Finish())
}

var (
	errUnknownCommand = errors.New("unknown command")
	errIDRequired     = errors.New("item id is required")
	errTooManyArgs    = errors.New("too many arguments")
	errMissingArg     = errors.New("missing argument")
	errItemNotFound   = errors.New("item not found")
	errAmbiguousID    = errors.New("ambiguous item id")
	errTitleRequired  = errors.New("title is required")
)

// commandOrder is the order commands are listed in help.
var commandOrder = []string{
	"add", "show", "ls", "done", "reopen", "rm", "rename", "kind",
	"parent", "block", "unblock", "snooze", "ack", "upkeep", "watch",
	"migrate", "restore", "shell", "print-config",
}

func commands(a *app) map[string]*Command {
	list := []*Command{
		AddCmd(a),
		ShowCmd(a),
		LsCmd(a),
		DoneCmd(a),
		ReopenCmd(a),
		RmCmd(a),
		RenameCmd(a),
		KindCmd(a),
		ParentCmd(a),
		BlockCmd(a),
		UnblockCmd(a),
		SnoozeCmd(a),
		AckCmd(a),
		UpkeepCmd(a),
		WatchCmd(a),
		MigrateCmd(a),
		RestoreCmd(a),
		ShellCmd(a),
		PrintConfigCmd(a),
	}

	out := make(map[string]*Command, len(list))
	for _, c := range list {
		out[c.Name()] = c
	}

	return out
}

func printUsage(w io.Writer, global *flag.FlagSet, cmds map[string]*Command) {
	var b strings.Builder

	b.WriteString("gtd - getting things done, locally\n\n")
	b.WriteString("Usage: gtd [options] <command> [args]\n\n")
	b.WriteString("Options:\n")
	b.WriteString(global.FlagUsages())
	b.WriteString("\nCommands:\n")

	for _, name := range commandOrder {
		b.WriteString(cmds[name].HelpLine())
		b.WriteString("\n")
	}

	_, _ = io.WriteString(w, b.String())
}
