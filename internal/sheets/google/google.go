// Package google exports materialized views to tabs of a Google Sheets
// spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"bilancio/internal/log"
	ports "bilancio/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const defaultTabPrefix = "view "

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	tabPrefix     string
	only          map[string]bool

	mu   sync.Mutex
	tabs map[string]bool
}

var (
	_ ports.ViewExporter = (*Client)(nil)
	_ ports.ViewReader   = (*Client)(nil)
)

// Config selects the spreadsheet and the views to publish. An empty Views
// list publishes every view.
type Config struct {
	SpreadsheetID string
	TabPrefix     string
	Views         []string
}

// New creates a client authenticated with service account credentials
// from the environment. Extra options are appended, which lets tests
// point the client at a fake endpoint.
func New(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if len(opts) == 0 {
		cred, err := credentialsOption()
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{cred, goption.WithScopes(gsheet.SpreadsheetsScope)}
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	prefix := cfg.TabPrefix
	if prefix == "" {
		prefix = defaultTabPrefix
	}
	c := &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		tabPrefix:     prefix,
		tabs:          map[string]bool{},
	}
	if len(cfg.Views) > 0 {
		c.only = make(map[string]bool, len(cfg.Views))
		for _, v := range cfg.Views {
			c.only[strings.TrimSpace(v)] = true
		}
	}
	return c, nil
}

// credentialsOption reads GOOGLE_SERVICE_ACCOUNT_JSON,
// GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS, in that
// order.
func credentialsOption() (goption.ClientOption, error) {
	if raw := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")); raw != "" {
		return goption.WithCredentialsJSON([]byte(raw)), nil
	}
	path := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return goption.WithCredentialsJSON(b), nil
}

// Exports reports whether name is published by this client.
func (c *Client) Exports(name string) bool {
	return c.only == nil || c.only[name]
}

// ExportView replaces the content of the view's tab with its tabulated
// JSON. Views outside the configured set are ignored.
func (c *Client) ExportView(ctx context.Context, name string, content []byte) error {
	if !c.Exports(name) {
		return nil
	}
	rows, err := ports.Tabulate(content)
	if err != nil {
		return fmt.Errorf("tabulate %s: %w", name, err)
	}

	tab := c.tabPrefix + name
	if err := c.ensureTab(ctx, tab); err != nil {
		return err
	}

	rng := quoteTab(tab)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", tab, err)
	}

	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		values[i] = make([]interface{}, len(row))
		for j, cell := range row {
			values[i][j] = cell
		}
	}
	vr := &gsheet.ValueRange{Range: rng + "!A1", Values: values}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, vr.Range, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("write %s: %w", tab, err)
	}

	slog.DebugContext(ctx, "View exported to sheets", log.FieldComponent, log.ComponentSheets, log.FieldOperation, log.OpExport, log.FieldView, name, "rows", len(rows))
	return nil
}

// ReadView returns the cells currently stored in the view's tab.
func (c *Client) ReadView(ctx context.Context, name string) ([][]string, error) {
	tab := c.tabPrefix + name
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, quoteTab(tab)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tab, err)
	}
	out := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		out = append(out, toStrings(row))
	}
	return out, nil
}

// ensureTab creates tab unless it is already known to exist.
func (c *Client) ensureTab(ctx context.Context, tab string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tabs[tab] {
		return nil
	}
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			c.tabs[sh.Properties.Title] = true
		}
	}
	if c.tabs[tab] {
		return nil
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: tab}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", tab, err)
	}
	c.tabs[tab] = true
	slog.InfoContext(ctx, "Sheet tab created", log.FieldComponent, log.ComponentSheets, "tab", tab)
	return nil
}

// quoteTab wraps a tab title for A1 notation.
func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = fmt.Sprint(v)
	}
	return out
}
