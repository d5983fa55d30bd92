package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/calvinalkan/gtd/internal/store"
)

// DoneCmd returns the done command.
func DoneCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("done"),
		Usage: "done <id>",
		Short: "Mark an item completed",
		Args:  []string{"<id>"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return a.change(ctx, o, args, "Completed", "already completed", (*store.Store).Complete)
		},
	}
}

// ReopenCmd returns the reopen command.
func ReopenCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("reopen"),
		Usage: "reopen <id>",
		Short: "Mark a completed item open again",
		Args:  []string{"<id>"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return a.change(ctx, o, args, "Reopened", "already open", (*store.Store).Reopen)
		},
	}
}

// AckCmd returns the ack command.
func AckCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("ack"),
		Usage: "ack <id>",
		Short: "Record that an item was reviewed",
		Args:  []string{"<id>"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return a.change(ctx, o, args, "Acknowledged", "unchanged", (*store.Store).Ack)
		},
	}
}

// SnoozeCmd returns the snooze command.
func SnoozeCmd(a *app) *Command {
	flags := newFlags("snooze")
	unsnooze := flags.Bool("clear", false, "Remove the snooze")

	return &Command{
		Flags: flags,
		Usage: "snooze <id> <duration> [flags]",
		Short: "Hide an item from ls for a while",
		Long:  "Hide an item from ls until the duration has passed. Durations: 90m, 4h, 3d, 2w.",
		Args:  []string{"<id>", "[<duration>]"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			var until time.Time

			switch {
			case *unsnooze && len(args) == 2:
				return fmt.Errorf("%w: --clear takes no duration", errTooManyArgs)
			case !*unsnooze && len(args) == 1:
				return fmt.Errorf("%w: <duration>", errMissingArg)
			case !*unsnooze:
				d, err := parseDuration(args[1])
				if err != nil {
					return err
				}

				until = a.clock.Now().Add(d)
			}

			s, it, err := a.withItem(ctx, args[0])
			if err != nil {
				return err
			}

			_, err = s.Snooze(ctx, it.ID, until)
			if err != nil {
				return err
			}

			if until.IsZero() {
				o.Println("Unsnoozed", it.ID)
			} else {
				o.Println("Snoozed", it.ID, "until", until.Format(timeLayout))
			}

			return nil
		},
	}
}

type changeFunc func(s *store.Store, ctx context.Context, id string) (bool, error)

// change applies fn to the item named by args and reports the outcome.
func (a *app) change(ctx context.Context, o *IO, args []string, verb, unchanged string, fn changeFunc) error {
	s, it, err := a.withItem(ctx, args[0])
	if err != nil {
		return err
	}

	changed, err := fn(s, ctx, it.ID)
	if err != nil {
		return err
	}

	if !changed {
		o.Println(it.ID, unchanged)

		return nil
	}

	o.Println(verb, it.ID)

	return nil
}

// parseDuration extends time.ParseDuration with d (days) and w (weeks).
func parseDuration(s string) (time.Duration, error) {
	for suffix, unit := range map[string]time.Duration{"d": 24 * time.Hour, "w": 7 * 24 * time.Hour} {
		if n, ok := strings.CutSuffix(s, suffix); ok {
			v, err := strconv.Atoi(n)
			if err == nil && v > 0 {
				return time.Duration(v) * unit, nil
			}
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	return d, nil
}
