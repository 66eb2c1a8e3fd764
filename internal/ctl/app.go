// Package ctl implements the bilancioctl subcommands.
package ctl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"bilancio/internal/log"
	"bilancio/internal/services"
	"bilancio/internal/sheets"
	"bilancio/internal/storage"
	"bilancio/internal/views"

	"github.com/google/subcommands"
)

// App carries what every subcommand shares. The repository is opened on
// first use so that help and usage never touch the database.
type App struct {
	DBPath          string
	DefaultCurrency string
	InboxDir        string
	ViewsSharded    bool
	Exporters       []sheets.ViewExporter
	Logger          *log.Logger

	Out io.Writer
	Err io.Writer

	repo *storage.SQLiteRepository
}

// Register adds the subcommands to c, grouped the way help lists them.
func (a *App) Register(c *subcommands.Commander) {
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
	c.Register(c.CommandsCommand(), "")

	c.Register(&migrateCmd{app: a}, "database")
	c.Register(&eventsCmd{app: a}, "database")

	c.Register(&openCmd{app: a}, "ledger")
	c.Register(&importCmd{app: a}, "ledger")
	c.Register(&watchCmd{app: a}, "ledger")

	c.Register(&refreshCmd{app: a}, "views")
	c.Register(&viewCmd{app: a}, "views")
}

func (a *App) stdout() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

func (a *App) stderr() io.Writer {
	if a.Err == nil {
		return os.Stderr
	}
	return a.Err
}

func (a *App) logger() *log.Logger {
	if a.Logger == nil {
		a.Logger = log.New(log.DefaultConfig())
	}
	return a.Logger
}

func (a *App) store() (*storage.SQLiteRepository, error) {
	if a.repo != nil {
		return a.repo, nil
	}
	if a.DBPath == "" {
		return nil, fmt.Errorf("no database path: set -db or SQLITE_DB_PATH")
	}
	repo, err := storage.NewSQLiteRepository(a.DBPath)
	if err != nil {
		return nil, err
	}
	a.repo = repo
	return repo, nil
}

func (a *App) ledger() (*services.LedgerService, error) {
	repo, err := a.store()
	if err != nil {
		return nil, err
	}
	return services.NewLedgerService(repo, a.DefaultCurrency), nil
}

func (a *App) materializer() (*views.Materializer, error) {
	repo, err := a.store()
	if err != nil {
		return nil, err
	}
	return views.NewMaterializer(repo, views.Config{Sharded: a.ViewsSharded}, a.Exporters...), nil
}

// Close releases the repository if a command opened it.
func (a *App) Close() error {
	if a.repo == nil {
		return nil
	}
	err := a.repo.Close()
	a.repo = nil
	return err
}

// fail reports err on stderr and returns the failure status.
func (a *App) fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(a.stderr(), "Error:", err)
	return subcommands.ExitFailure
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
