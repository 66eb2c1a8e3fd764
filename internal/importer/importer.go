// Package importer turns operations files into recorded ledger events.
//
// A file names its target stream either by id or by IBAN:
//
//	iban: IT60X0542811101000000123456
//	operations:
//	  - date: 2024-03-01
//	    title: Salary
//	    amount: 2500.00
//	  - date: 02/03/2024
//	    title: Rent
//	    amount: -900
//	    currency: EUR
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"
	"bilancio/internal/log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Recorder is the part of the ledger service the importer writes through.
type Recorder interface {
	RecordOperations(ctx context.Context, id uuid.UUID, ops []core.Operation) ([]es.Event, error)
	RecordOperationsByMetadata(ctx context.Context, key, value string, ops []core.Operation) ([]es.Event, error)
}

// File is the decoded form of an operations file.
type File struct {
	Stream     string  `yaml:"stream"`
	IBAN       string  `yaml:"iban"`
	Operations []Entry `yaml:"operations"`
}

// Entry is one operation line. Date accepts every layout core.ParseDate
// does; an empty currency falls back to the stream currency.
type Entry struct {
	Date     string          `yaml:"date"`
	Title    string          `yaml:"title"`
	Amount   decimal.Decimal `yaml:"amount"`
	Currency string          `yaml:"currency"`
}

// Result summarizes a successful import.
type Result struct {
	StreamID uuid.UUID
	Events   int
	Version  int
}

var ErrNoTarget = errors.New("file must name exactly one of stream or iban")

// Parse decodes and checks an operations file without touching the ledger.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	f.Stream = strings.TrimSpace(f.Stream)
	f.IBAN = strings.TrimSpace(f.IBAN)
	if (f.Stream == "") == (f.IBAN == "") {
		return nil, ErrNoTarget
	}
	if f.Stream != "" {
		if _, err := uuid.Parse(f.Stream); err != nil {
			return nil, core.Invalid("stream", fmt.Sprintf("%q is not a valid id", f.Stream))
		}
	}
	if len(f.Operations) == 0 {
		return nil, core.Invalid("operations", "is empty")
	}
	return &f, nil
}

// Ops converts the entries to domain operations.
func (f *File) Ops() ([]core.Operation, error) {
	ops := make([]core.Operation, 0, len(f.Operations))
	for i, e := range f.Operations {
		d, err := core.ParseDate(e.Date)
		if err != nil {
			return nil, core.Invalid("date", err.Error()).At(i)
		}
		ops = append(ops, core.Operation{
			Date:     d,
			Title:    strings.TrimSpace(e.Title),
			Amount:   e.Amount,
			Currency: strings.TrimSpace(e.Currency),
		})
	}
	return ops, nil
}

type Importer struct {
	rec    Recorder
	logger *log.Logger
}

func New(rec Recorder, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Importer{rec: rec, logger: logger.WithComponent(log.ComponentImporter)}
}

// ImportFile reads path and records its operations.
func (im *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	res, err := im.Import(ctx, data)
	if err != nil {
		return Result{}, fmt.Errorf("import %s: %w", path, err)
	}
	im.logger.InfoContext(ctx, "File imported",
		log.FieldOperation, log.OpImport,
		log.FieldFile, path,
		log.FieldStreamID, res.StreamID.String(),
		log.FieldEventCount, res.Events,
		log.FieldVersion, res.Version)
	return res, nil
}

// Import records the operations in data as one append.
func (im *Importer) Import(ctx context.Context, data []byte) (Result, error) {
	f, err := Parse(data)
	if err != nil {
		return Result{}, err
	}
	ops, err := f.Ops()
	if err != nil {
		return Result{}, err
	}

	var events []es.Event
	if f.Stream != "" {
		events, err = im.rec.RecordOperations(ctx, uuid.MustParse(f.Stream), ops)
	} else {
		events, err = im.rec.RecordOperationsByMetadata(ctx, es.MetaIBAN, f.IBAN, ops)
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{Events: len(events)}
	if len(events) > 0 {
		last := events[len(events)-1]
		res.StreamID = last.StreamID
		res.Version = last.Version
	} else if f.Stream != "" {
		res.StreamID = uuid.MustParse(f.Stream)
	}
	return res, nil
}
