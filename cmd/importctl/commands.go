package main

import (
	"context"

	"github.com/JonMunkholm/userimport/internal/web"
	"github.com/urfave/cli/v3"
)

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "importctl",
		Usage: "Bulk-import user accounts from CSV files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			r.setLogLevel(cmd.String("log-level"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			runCommand(r),
			templateCommand(r),
			migrateCommand(r),
			groupCommand(r),
			roleCommand(r),
		},
	}
}

func databaseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "database-url",
		Usage:   "PostgreSQL connection string",
		Sources: cli.EnvVars("DATABASE_URL", "DB_URL"),
	}
}

func delimiterFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "delimiter",
		Aliases: []string{"d"},
		Usage:   "Column delimiter: ';' or ','",
		Value:   ",",
	}
}

// runCommand imports one file
func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Import a CSV file",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			databaseFlag(),
			delimiterFlag(),
			&cli.StringFlag{
				Name:    "group",
				Aliases: []string{"g"},
				Usage:   "Add every imported account to this group",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Import into a throwaway in-memory store",
			},
			&cli.StringFlag{
				Name:  "encoding",
				Usage: "Source charset (utf-8, windows-1252, ...)",
				Value: "utf-8",
			},
			&cli.StringSliceFlag{
				Name:  "locales",
				Usage: "Accepted locale codes",
				Value: []string{"en"},
			},
			&cli.StringSliceFlag{
				Name:  "timezones",
				Usage: "Accepted timezones; empty accepts any tz database zone",
			},
			&cli.StringFlag{
				Name:  "default-locale",
				Value: "en",
			},
			&cli.StringFlag{
				Name:  "default-timezone",
				Value: "UTC",
			},
			&cli.StringFlag{
				Name:    "report-dir",
				Usage:   "Directory for failed-row files",
				Value:   "./reports",
				Sources: cli.EnvVars("IMPORT_REPORT_DIR"),
			},
			&cli.IntFlag{
				Name:  "bcrypt-cost",
				Value: 10,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the result as JSON",
			},
		},
		Action: r.Run,
	}
}

func templateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "template",
		Usage:  "Print the import header row",
		Flags:  []cli.Flag{delimiterFlag()},
		Action: r.Template,
	}
}

func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply or roll back the database schema",
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all migrations",
				Flags:  []cli.Flag{databaseFlag()},
				Action: r.MigrateUp,
			},
			{
				Name:   "down",
				Usage:  "Roll back all migrations",
				Flags:  []cli.Flag{databaseFlag()},
				Action: r.MigrateDown,
			},
		},
	}
}

// groupCommand manages groups and group permissions
func groupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "group",
		Usage: "Manage import target groups",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Create a group if it does not exist",
				Flags: []cli.Flag{
					databaseFlag(),
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "label"},
				},
				Action: r.GroupAdd,
			},
			{
				Name:  "grant",
				Usage: "Grant an account a permission within a group",
				Flags: []cli.Flag{
					databaseFlag(),
					&cli.StringFlag{Name: "group", Required: true},
					&cli.StringFlag{Name: "account", Required: true},
					&cli.StringFlag{Name: "permission", Value: web.PermissionEditGroup},
				},
				Action: r.GroupGrant,
			},
		},
	}
}

func roleCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "role",
		Usage: "Manage site roles",
		Commands: []*cli.Command{
			{
				Name:  "grant",
				Usage: "Grant an account a site role",
				Flags: []cli.Flag{
					databaseFlag(),
					&cli.StringFlag{Name: "account", Required: true},
					&cli.StringFlag{Name: "role", Value: web.RoleAdministrator},
				},
				Action: r.RoleGrant,
			},
		},
	}
}
