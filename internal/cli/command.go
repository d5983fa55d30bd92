package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one gtd subcommand: its flags, positional arguments and help.
type Command struct {
	// Flags holds the command's own flags; its name is unused.
	Flags *flag.FlagSet

	// Usage follows "gtd" in help, starting with the command name,
	// e.g. "snooze <id> <duration> [flags]".
	Usage string

	// Short is the one-line summary in the command list.
	Short string

	// Long is the help body; Short is used when empty.
	Long string

	// Args names the positional arguments, checked before Exec runs.
	// "[name]" is optional and a final "name..." takes the rest. Nil skips
	// the check.
	Args []string

	// Exec runs with flags parsed and arguments checked.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine formats the command for the global command list.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-26s %s", c.Usage, c.Short)
}

// PrintHelp writes "gtd <cmd> --help" output.
func (c *Command) PrintHelp(o *IO) {
	var b strings.Builder

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	fmt.Fprintf(&b, "Usage: gtd %s\n\n%s\n", c.Usage, desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		b.WriteString("\nFlags:\n")
		b.WriteString(c.Flags.FlagUsages())
	}

	o.Printf("%s", b.String())
}

// Run parses flags, checks arguments and executes the command. It prints
// errors itself and returns the exit code.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		c.PrintHelp(o)

		return 0
	}

	if err != nil {
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)

		return 1
	}

	rest := c.Flags.Args()

	err = checkArgs(c.Args, rest)
	if err == nil {
		err = c.Exec(ctx, o, rest)
	}

	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return 0
}

// checkArgs validates got against the names in spec.
func checkArgs(spec, got []string) error {
	if spec == nil {
		return nil
	}

	required, variadic := 0, false

	for _, name := range spec {
		switch {
		case strings.HasSuffix(name, "..."):
			variadic = true
		case !strings.HasPrefix(name, "["):
			required++
		}
	}

	if len(got) < required {
		missing := spec[len(got)]
		if missing == "<id>" {
			return errIDRequired
		}

		return fmt.Errorf("%w: %s", errMissingArg, strings.TrimSuffix(missing, "..."))
	}

	if !variadic && len(got) > len(spec) {
		return fmt.Errorf("%w: %s", errTooManyArgs, strings.Join(got[len(spec):], " "))
	}

	return nil
}

// newFlags returns an empty flag set for a command.
func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}
