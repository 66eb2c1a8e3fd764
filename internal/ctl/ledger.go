package ctl

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	es "bilancio/internal/eventstore"
	"bilancio/internal/importer"
	"bilancio/internal/services"

	"github.com/google/subcommands"
)

// pairs collects repeated key=value flags.
type pairs map[string]string

func (p pairs) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + p[k]
	}
	return strings.Join(parts, ",")
}

func (p pairs) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	p[strings.TrimSpace(k)] = strings.TrimSpace(v)
	return nil
}

type openCmd struct {
	app            *App
	streamType     string
	name           string
	subtype        string
	iban           string
	currency       string
	endDate        string
	investmentType string
	labels         pairs
	metadata       pairs
}

func (*openCmd) Name() string     { return "open" }
func (*openCmd) Synopsis() string { return "open a new stream" }
func (*openCmd) Usage() string {
	return `bilancioctl open -type <type> [-name <name>] [-iban <iban>] [-label k=v]...

  Opens a stream of the given type (account, investment, retirement,
  stocks, real-estate) and prints it as JSON.
`
}

func (c *openCmd) SetFlags(f *flag.FlagSet) {
	c.labels = pairs{}
	c.metadata = pairs{}
	f.StringVar(&c.streamType, "type", "", "Stream type.")
	f.StringVar(&c.name, "name", "", "Display name.")
	f.StringVar(&c.subtype, "subtype", "", "Account subtype (checking, savings).")
	f.StringVar(&c.iban, "iban", "", "IBAN of the account, used to route imports.")
	f.StringVar(&c.currency, "currency", "", "ISO currency code of the stream.")
	f.StringVar(&c.endDate, "end-date", "", "Date after which the stream is no longer active.")
	f.StringVar(&c.investmentType, "investment-type", "", "Investment type bucket.")
	f.Var(c.labels, "label", "Label as key=value. Repeatable.")
	f.Var(c.metadata, "meta", "Extra metadata as key=value. Repeatable.")
}

func (c *openCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.streamType == "" {
		fmt.Fprint(c.app.stderr(), c.Usage())
		return subcommands.ExitUsageError
	}
	metadata := es.Metadata{}
	for k, v := range c.metadata {
		metadata[k] = v
	}
	for key, value := range map[string]string{
		es.MetaName:           c.name,
		es.MetaSubtype:        c.subtype,
		es.MetaIBAN:           c.iban,
		es.MetaCurrency:       c.currency,
		es.MetaEndDate:        c.endDate,
		es.MetaInvestmentType: c.investmentType,
	} {
		if value != "" {
			metadata[key] = value
		}
	}

	svc, err := c.app.ledger()
	if err != nil {
		return c.app.fail(err)
	}
	st, err := svc.OpenStream(ctx, services.OpenRequest{
		Type:     es.StreamType(c.streamType),
		Metadata: metadata,
		Labels:   c.labels,
	})
	if err != nil {
		return c.app.fail(err)
	}
	if err := c.app.printJSON(st); err != nil {
		return c.app.fail(err)
	}
	return subcommands.ExitSuccess
}

type importCmd struct {
	app    *App
	dryRun bool
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "import operations files" }
func (*importCmd) Usage() string {
	return `bilancioctl import [-n] <file.yaml>...

  Records the operations of each file. Files are independent: a failing
  file is reported and the others are still imported.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.dryRun, "n", false, "Only parse and validate the files.")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprint(c.app.stderr(), c.Usage())
		return subcommands.ExitUsageError
	}

	var im *importer.Importer
	if !c.dryRun {
		svc, err := c.app.ledger()
		if err != nil {
			return c.app.fail(err)
		}
		im = importer.New(svc, c.app.logger())
	}

	status := subcommands.ExitSuccess
	for _, path := range f.Args() {
		if c.dryRun {
			n, err := checkFile(path)
			if err != nil {
				fmt.Fprintf(c.app.stderr(), "%s: %v\n", path, err)
				status = subcommands.ExitFailure
				continue
			}
			fmt.Fprintf(c.app.stdout(), "%s: %d operations ok\n", path, n)
			continue
		}
		res, err := im.ImportFile(ctx, path)
		if err != nil {
			fmt.Fprintf(c.app.stderr(), "%s: %v\n", path, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Fprintf(c.app.stdout(), "%s: %d events on %s, version %d\n", path, res.Events, res.StreamID, res.Version)
	}
	return status
}

type watchCmd struct {
	app *App
	dir string
}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "import files dropped into an inbox directory" }
func (*watchCmd) Usage() string {
	return `bilancioctl watch [-dir <inbox>]

  Imports operations files already in the inbox, then keeps watching it
  until interrupted. Files are moved to processed/ or failed/.
`
}

func (c *watchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dir, "dir", "", "Inbox directory (default: INBOX_DIR).")
}

func (c *watchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	dir := c.dir
	if dir == "" {
		dir = c.app.InboxDir
	}
	if dir == "" {
		return c.app.fail(fmt.Errorf("no inbox directory: set -dir or INBOX_DIR"))
	}
	svc, err := c.app.ledger()
	if err != nil {
		return c.app.fail(err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	inbox := importer.NewInbox(dir, importer.New(svc, c.app.logger()))
	if err := inbox.Run(ctx); err != nil {
		return c.app.fail(err)
	}
	return subcommands.ExitSuccess
}

func checkFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	f, err := importer.Parse(data)
	if err != nil {
		return 0, err
	}
	ops, err := f.Ops()
	if err != nil {
		return 0, err
	}
	for i, op := range ops {
		if op.Currency == "" {
			continue
		}
		if err := op.Validate(); err != nil {
			return 0, fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return len(ops), nil
}
