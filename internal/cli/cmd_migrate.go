package cli

import (
	"context"

	"github.com/calvinalkan/gtd/internal/migrate"
)

// MigrateCmd returns the migrate command.
func MigrateCmd(a *app) *Command {
	flags := newFlags("migrate")
	status := flags.Bool("status", false, "Only report the storage version")

	return &Command{
		Flags: flags,
		Usage: "migrate [flags]",
		Short: "Upgrade the storage layout",
		Args:  []string{},
		Long: "Upgrade the storage layout to the latest version. Every other command does this\n" +
			"automatically; use --status to inspect without changing anything.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			r, err := a.Runner(ctx)
			if err != nil {
				return err
			}

			before, err := r.Version(ctx)
			if err != nil {
				return err
			}

			if *status {
				pending, err := r.Pending(ctx)
				if err != nil {
					return err
				}

				o.Printf("version=%d\nlatest=%d\npending=%d\n", before, migrate.Latest, pending)

				return nil
			}

			err = r.Perform(ctx)
			if err != nil {
				return err
			}

			a.migrated = true

			if before == migrate.Latest {
				o.Printf("Already at version %d\n", before)

				return nil
			}

			o.Printf("Migrated from version %d to %d\n", before, migrate.Latest)

			return nil
		},
	}
}

// RestoreCmd returns the restore command.
func RestoreCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("restore"),
		Usage: "restore",
		Short: "Restore the snapshot taken before the last migration step",
		Args:  []string{},
		Long: "Replace all items and relationships with the snapshot taken before the most\n" +
			"recent migration step. The next command migrates again from that point.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			r, err := a.Runner(ctx)
			if err != nil {
				return err
			}

			err = r.Restore(ctx)
			if err != nil {
				return err
			}

			a.migrated = false

			v, err := r.Version(ctx)
			if err != nil {
				return err
			}

			o.Printf("Restored snapshot at version %d\n", v)

			return nil
		},
	}
}
