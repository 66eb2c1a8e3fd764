package main

import (
	"context"
	"flag"
	"os"
	"path"

	"bilancio/internal/cli"
	"bilancio/internal/config"
	"bilancio/internal/ctl"
	"bilancio/internal/log"

	"github.com/google/subcommands"
)

func main() {
	cli.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		cli.SetupLogger(nil, log.ComponentApp).Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	app := &ctl.App{
		DefaultCurrency: cfg.DefaultCurrency,
		InboxDir:        cfg.InboxDir,
		ViewsSharded:    cfg.ViewsSharded,
		Logger:          logger,
	}
	flag.StringVar(&app.DBPath, "db", cfg.SQLiteDBPath, "Path to the SQLite database.")
	export := flag.Bool("export", false, "Also export refreshed views to Google Sheets.")

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	app.Register(commander)
	flag.Parse()

	if *export {
		app.Exporters = cli.InitExporters(context.Background(), logger, cfg)
	}

	status := commander.Execute(context.Background())
	if err := app.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
	}
	os.Exit(int(status))
}
