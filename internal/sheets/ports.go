package sheets

import (
	"context"
)

// Ports for outbound adapters.
type (
	// ViewExporter publishes a freshly materialized view somewhere outside
	// the database. content is the view JSON document.
	ViewExporter interface {
		ExportView(ctx context.Context, name string, content []byte) error
	}

	// ViewReader returns what an exporter last published for a view.
	ViewReader interface {
		ReadView(ctx context.Context, name string) (rows [][]string, err error)
	}
)
