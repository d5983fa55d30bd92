package cli

import (
	"context"
	"fmt"

	"github.com/calvinalkan/gtd/internal/item"
	"github.com/calvinalkan/gtd/internal/store"
)

// ParentCmd returns the parent command.
func ParentCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("parent"),
		Usage: "parent <id> [<parent-id>]",
		Short: "Set or clear an item's parent",
		Long:  "Make <parent-id> the parent of <id>. Without <parent-id>, detach <id> from its parent.",
		Args:  []string{"<id>", "[<parent-id>]"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			s, it, err := a.withItem(ctx, args[0])
			if err != nil {
				return err
			}

			var parent item.Item

			if len(args) == 2 {
				parent, err = resolve(ctx, s, args[1])
				if err != nil {
					return fmt.Errorf("parent: %w", err)
				}
			}

			_, err = s.SetParent(ctx, it.ID, parent.ID)
			if err != nil {
				return err
			}

			if parent.ID == "" {
				o.Println("Detached", it.ID)
			} else {
				o.Println("Moved", it.ID, "under", parent.ID)
			}

			return nil
		},
	}
}

// BlockCmd returns the block command.
func BlockCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("block"),
		Usage: "block <id> <blocker-id>",
		Short: "Record that <blocker-id> blocks <id>",
		Args:  []string{"<id>", "<blocker-id>"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			s, it, blocker, err := a.withPair(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			changed, err := s.AddBlocker(ctx, it.ID, blocker.ID)
			if err != nil {
				return err
			}

			if !changed {
				o.Println(it.ID, "already blocked by", blocker.ID)

				return nil
			}

			o.Println("Blocked", it.ID, "by", blocker.ID)

			return nil
		},
	}
}

// UnblockCmd returns the unblock command.
func UnblockCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("unblock"),
		Usage: "unblock <id> <blocker-id>",
		Short: "Remove a blocker",
		Args:  []string{"<id>", "<blocker-id>"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			s, it, blocker, err := a.withPair(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			changed, err := s.RemoveBlocker(ctx, it.ID, blocker.ID)
			if err != nil {
				return err
			}

			if !changed {
				o.Warn(fmt.Sprintf("%s is not blocked by %s", it.ID, blocker.ID), "check the blockers with show")

				return nil
			}

			o.Println("Unblocked", it.ID, "from", blocker.ID)

			return nil
		},
	}
}

// withPair resolves two item references.
func (a *app) withPair(ctx context.Context, ref, otherRef string) (*store.Store, item.Item, item.Item, error) {
	s, it, err := a.withItem(ctx, ref)
	if err != nil {
		return nil, item.Item{}, item.Item{}, err
	}

	other, err := resolve(ctx, s, otherRef)
	if err != nil {
		return nil, item.Item{}, item.Item{}, err
	}

	return s, it, other, nil
}
