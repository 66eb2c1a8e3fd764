package ctl

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/sheets"
	"bilancio/internal/views"

	"github.com/google/subcommands"
)

type refreshCmd struct {
	app         *App
	since       string
	missingOnly bool
}

func (*refreshCmd) Name() string     { return "refresh" }
func (*refreshCmd) Synopsis() string { return "recompute every view" }
func (*refreshCmd) Usage() string {
	return `bilancioctl refresh [-since <date>] [-missing-only]

  Refreshes monthly profits from the month of <date> (default: the first
  event) and recomputes every view. With -missing-only, only months that
  have no stored profit are filled in and views are left alone.
`
}

func (c *refreshCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.since, "since", "", "Oldest changed date, YYYY-MM-DD.")
	f.BoolVar(&c.missingOnly, "missing-only", false, "Only fill months without stored monthly profits.")
}

func (c *refreshCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var since core.Date
	if c.since != "" {
		d, err := core.ParseDate(c.since)
		if err != nil {
			return c.app.fail(err)
		}
		since = d
	}
	m, err := c.app.materializer()
	if err != nil {
		return c.app.fail(err)
	}
	start := time.Now()
	if c.missingOnly {
		if err := m.UpdateMonthlyProfits(ctx, since.YearMonth(), false); err != nil {
			return c.app.fail(err)
		}
		fmt.Fprintf(c.app.stdout(), "filled missing monthly profits in %s\n", time.Since(start).Round(time.Millisecond))
		return subcommands.ExitSuccess
	}
	if err := m.UpdateViews(ctx, since); err != nil {
		return c.app.fail(err)
	}
	fmt.Fprintf(c.app.stdout(), "refreshed %d views in %s\n", len(views.Names()), time.Since(start).Round(time.Millisecond))
	return subcommands.ExitSuccess
}

type viewCmd struct {
	app    *App
	format string
}

func (*viewCmd) Name() string     { return "view" }
func (*viewCmd) Synopsis() string { return "print a materialized view" }
func (*viewCmd) Usage() string {
	return fmt.Sprintf(`bilancioctl view [-format table|json] <name>

  Prints the stored document of a view. Known views:
    %s
`, strings.Join(views.Names(), "\n    "))
}

func (c *viewCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.format, "format", "table", "Output format: table or json.")
}

func (c *viewCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(c.app.stderr(), c.Usage())
		return subcommands.ExitUsageError
	}
	if c.format != "table" && c.format != "json" {
		return c.app.fail(fmt.Errorf("unknown format %q", c.format))
	}
	name := f.Arg(0)
	m, err := c.app.materializer()
	if err != nil {
		return c.app.fail(err)
	}
	if _, ok := m.Lookup(name); !ok {
		return c.app.fail(fmt.Errorf("unknown view %q", name))
	}
	content, err := m.LoadView(ctx, name)
	if err != nil {
		return c.app.fail(err)
	}
	if content == nil {
		return c.app.fail(fmt.Errorf("view %s has not been materialized yet, run refresh", name))
	}

	if c.format == "json" {
		fmt.Fprintln(c.app.stdout(), strings.TrimSpace(string(content)))
		return subcommands.ExitSuccess
	}
	rows, err := sheets.Tabulate(content)
	if err != nil {
		return c.app.fail(err)
	}
	w := tabwriter.NewWriter(c.app.stdout(), 0, 0, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return c.app.fail(err)
	}
	return subcommands.ExitSuccess
}
