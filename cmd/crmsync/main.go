package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "crmsync",
		Usage: "Run the CRM webhook gateway and the sync worker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML or JSON sync config file",
				EnvVars: []string{"CRMSYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "driver",
				Usage:   "Database driver, postgres or sqlite3",
				Value:   "sqlite3",
				EnvVars: []string{"CRMSYNC_DB_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "Database connection string",
				Value:   "file:crmsync.db?_foreign_keys=on",
				EnvVars: []string{"CRMSYNC_DB_DSN"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"CRMSYNC_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			gatewayCommand,
			workerCommand,
			migrateCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
