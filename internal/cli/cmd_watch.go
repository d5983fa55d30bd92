package cli

import (
	"context"
)

// WatchCmd returns the watch command.
func WatchCmd(a *app) *Command {
	flags := newFlags("watch")
	count := flags.IntP("count", "n", 0, "Exit after `n` events (0 = until interrupted)")

	return &Command{
		Flags: flags,
		Usage: "watch <id> [flags]",
		Short: "Print an item every time it changes",
		Long: "Print the item now and after every change, until interrupted or the item is\n" +
			"deleted. Changes made by other commands in the same shell session are seen live.",
		Args: []string{"<id>"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			s, it, err := a.withItem(ctx, args[0])
			if err != nil {
				return err
			}

			sub := s.Watch(ctx, it.ID)
			defer sub.Close()

			now := a.clock.Now()
			seen := 0

			for {
				select {
				case <-ctx.Done():
					return nil
				case e, ok := <-sub.C():
					if !ok {
						return nil
					}

					if e.Deleted {
						o.Println(e.ID, "deleted")

						return nil
					}

					o.Println(itemLine(e.Item, now))

					seen++
					if *count > 0 && seen >= *count {
						return nil
					}
				}
			}
		},
	}
}
