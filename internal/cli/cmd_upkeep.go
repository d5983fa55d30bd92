package cli

import (
	"context"

	"github.com/calvinalkan/gtd/internal/item"
)

// UpkeepCmd returns the upkeep command.
func UpkeepCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("upkeep"),
		Usage: "upkeep",
		Short: "Show the item that most needs attention",
		Args:  []string{},
		Long: "Show the oldest inbox item to process, or else the oldest project with no open\n" +
			"next action, waiting-for or sub-project. Snoozed items are skipped.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			s, err := a.Store(ctx)
			if err != nil {
				return err
			}

			open, err := s.Open(ctx)
			if err != nil {
				return err
			}

			now := a.clock.Now()

			awake := open[:0:0]
			for _, it := range open {
				if !it.IsSnoozed(now) {
					awake = append(awake, it)
				}
			}

			next, ok := item.NextUpkeep(awake)
			if !ok {
				o.Println("Nothing needs attention")

				return nil
			}

			o.Println(itemLine(next, now))

			return nil
		},
	}
}
