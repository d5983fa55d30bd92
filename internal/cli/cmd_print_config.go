package cli

import (
	"context"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(a *app) *Command {
	return &Command{
		Flags: newFlags("print-config"),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Args:  []string{},
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			cfg := a.cfg

			o.Println("effective_cwd=" + cfg.EffectiveCwd)
			o.Println("data_dir=" + cfg.DataDirAbs)
			o.Println("backend=" + cfg.Backend)
			o.Println("log_level=" + cfg.LogLevel)

			o.Println("")
			o.Println("# sources")

			if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
				o.Println("(defaults only)")

				return nil
			}

			if cfg.Sources.Global != "" {
				o.Println("global_config=" + cfg.Sources.Global)
			}

			if cfg.Sources.Project != "" {
				o.Println("project_config=" + cfg.Sources.Project)
			}

			return nil
		},
	}
}
