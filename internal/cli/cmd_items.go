package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/calvinalkan/gtd/internal/item"
)

// AddCmd returns the add command.
func AddCmd(a *app) *Command {
	flags := newFlags("add")
	kind := flags.StringP("kind", "k", string(item.Inbox), "Kind (inbox|next_action|project|waiting_for|someday)")
	parent := flags.StringP("parent", "p", "", "Parent item `id`")
	blockedBy := flags.StringArray("blocked-by", nil, "Blocker item `id` (repeatable)")

	return &Command{
		Flags: flags,
		Usage: "add <title> [flags]",
		Short: "Add an item, prints its id",
		Long:  "Add an item. All positional arguments form the title. Prints the new item's id.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			title := strings.Join(args, " ")
			if strings.TrimSpace(title) == "" {
				return errTitleRequired
			}

			k, err := item.ParseKind(*kind)
			if err != nil {
				return err
			}

			s, err := a.Store(ctx)
			if err != nil {
				return err
			}

			it, err := item.New(a.ids, a.clock, title, k)
			if err != nil {
				return err
			}

			if *parent != "" {
				p, err := resolve(ctx, s, *parent)
				if err != nil {
					return fmt.Errorf("parent: %w", err)
				}

				it.Parent = p.ID
			}

			for _, ref := range *blockedBy {
				b, err := resolve(ctx, s, ref)
				if err != nil {
					return fmt.Errorf("blocker: %w", err)
				}

				it.Blockers = append(it.Blockers, b.ID)
			}

			err = s.Save(ctx, it)
			if err != nil {
				return err
			}

			o.Println(it.ID)

			return nil
		},
	}
}

// ShowCmd returns the show command.
func ShowCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("show"),
		Usage: "show <id>",
		Short: "Show all fields of an item",
		Args:  []string{"<id>"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			_, it, err := a.withItem(ctx, args[0])
			if err != nil {
				return err
			}

			printItem(o, it)

			return nil
		},
	}
}

// LsCmd returns the ls command.
func LsCmd(a *app) *Command {
	flags := newFlags("ls")
	all := flags.BoolP("all", "a", false, "Include completed and snoozed items")
	kind := flags.StringP("kind", "k", "", "Only items of this kind")

	return &Command{
		Flags: flags,
		Usage: "ls [flags]",
		Short: "List open items",
		Long:  "List open items that are not snoozed, oldest first. --all lists every item.",
		Args:  []string{},
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			var want item.Kind

			if *kind != "" {
				k, err := item.ParseKind(*kind)
				if err != nil {
					return err
				}

				want = k
			}

			s, err := a.Store(ctx)
			if err != nil {
				return err
			}

			var items []item.Item
			if *all {
				items, err = s.All(ctx)
			} else {
				items, err = s.Open(ctx)
			}

			if err != nil {
				return err
			}

			now := a.clock.Now()

			for _, it := range items {
				if want != "" && it.Kind != want {
					continue
				}

				if !*all && it.IsSnoozed(now) {
					continue
				}

				o.Println(itemLine(it, now))
			}

			return nil
		},
	}
}

// RmCmd returns the rm command.
func RmCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("rm"),
		Usage: "rm <id>",
		Short: "Delete an item",
		Long:  "Delete an item. Its children lose their parent and items it blocked are unblocked.",
		Args:  []string{"<id>"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			s, it, err := a.withItem(ctx, args[0])
			if err != nil {
				return err
			}

			err = s.Delete(ctx, it.ID)
			if err != nil {
				return err
			}

			o.Println("Deleted", it.ID)

			return nil
		},
	}
}

// RenameCmd returns the rename command.
func RenameCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("rename"),
		Usage: "rename <id> <title>",
		Short: "Change an item's title",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 2 || strings.TrimSpace(strings.Join(args[1:], " ")) == "" {
				if len(args) == 0 {
					return errIDRequired
				}

				return fmt.Errorf("%w (use rm to delete)", errTitleRequired)
			}

			s, it, err := a.withItem(ctx, args[0])
			if err != nil {
				return err
			}

			title := strings.TrimSpace(strings.Join(args[1:], " "))

			_, err = s.Update(ctx, it.ID, func(it *item.Item) { it.Title = title })
			if err != nil {
				return err
			}

			o.Println("Renamed", it.ID)

			return nil
		},
	}
}

// KindCmd returns the kind command.
func KindCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("kind"),
		Usage: "kind <id> <kind>",
		Short: "Change an item's kind",
		Args:  []string{"<id>", "<kind>"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			s, it, err := a.withItem(ctx, args[0])
			if err != nil {
				return err
			}

			k, err := item.ParseKind(args[1])
			if err != nil {
				return err
			}

			_, err = s.Update(ctx, it.ID, func(it *item.Item) { it.Kind = k })
			if err != nil {
				return err
			}

			o.Println(it.ID, "is now", k.Label())

			return nil
		},
	}
}
