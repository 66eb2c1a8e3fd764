package ctl

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"bilancio/internal/storage"

	"github.com/google/subcommands"
	"github.com/google/uuid"
)

type migrateCmd struct {
	app  *App
	down int
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply or roll back database migrations" }
func (*migrateCmd) Usage() string {
	return `bilancioctl migrate [-down <steps>]

  Applies every pending migration, or rolls back the last <steps> ones,
  then prints the schema version.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.down, "down", 0, "Number of migrations to roll back instead of applying.")
}

func (c *migrateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.app.DBPath == "" {
		return c.app.fail(fmt.Errorf("no database path: set -db or SQLITE_DB_PATH"))
	}
	var err error
	if c.down > 0 {
		err = storage.RollbackMigrations(c.app.DBPath, c.down)
	} else {
		err = storage.RunMigrations(c.app.DBPath)
	}
	if err != nil {
		return c.app.fail(err)
	}
	version, dirty, err := storage.MigrationVersion(c.app.DBPath)
	if err != nil {
		return c.app.fail(err)
	}
	fmt.Fprintf(c.app.stdout(), "schema version %d", version)
	if dirty {
		fmt.Fprint(c.app.stdout(), " (dirty)")
	}
	fmt.Fprintln(c.app.stdout())
	return subcommands.ExitSuccess
}

type eventsCmd struct {
	app      *App
	jsonLine bool
}

func (*eventsCmd) Name() string     { return "events" }
func (*eventsCmd) Synopsis() string { return "list the events of a stream" }
func (*eventsCmd) Usage() string {
	return `bilancioctl events [-json] <stream-id>

  Prints the events of a stream in version order.
`
}

func (c *eventsCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.jsonLine, "json", false, "Print one JSON event per line.")
}

func (c *eventsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(c.app.stderr(), c.Usage())
		return subcommands.ExitUsageError
	}
	id, err := uuid.Parse(f.Arg(0))
	if err != nil {
		return c.app.fail(fmt.Errorf("invalid stream id %q", f.Arg(0)))
	}
	svc, err := c.app.ledger()
	if err != nil {
		return c.app.fail(err)
	}
	events, err := svc.Events(ctx, id)
	if err != nil {
		return c.app.fail(err)
	}

	if c.jsonLine {
		enc := json.NewEncoder(c.app.stdout())
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return c.app.fail(err)
			}
		}
		return subcommands.ExitSuccess
	}

	w := tabwriter.NewWriter(c.app.stdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tOCCURRED\tTYPE\tBALANCE")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Version, e.OccurredAt.Format(time.RFC3339), e.Type, e.Balance().String())
	}
	if err := w.Flush(); err != nil {
		return c.app.fail(err)
	}
	return subcommands.ExitSuccess
}
