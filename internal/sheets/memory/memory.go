// Package memory keeps exported views in process. It backs tests and the
// worker when no spreadsheet is configured but exports are still wanted
// for inspection.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	ports "bilancio/internal/sheets"
)

type Store struct {
	mu      sync.Mutex
	tables  map[string][][]string
	updated map[string]time.Time
	exports int
}

var (
	_ ports.ViewExporter = (*Store)(nil)
	_ ports.ViewReader   = (*Store)(nil)
)

func New() *Store {
	return &Store{
		tables:  map[string][][]string{},
		updated: map[string]time.Time{},
	}
}

// ExportView tabulates content and replaces the stored rows for name.
func (s *Store) ExportView(_ context.Context, name string, content []byte) error {
	rows, err := ports.Tabulate(content)
	if err != nil {
		return fmt.Errorf("tabulate %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[name] = rows
	s.updated[name] = time.Now()
	s.exports++
	return nil
}

// ReadView returns a copy of the rows last exported for name.
func (s *Store) ReadView(_ context.Context, name string) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("view %s was never exported", name)
	}
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}

// Exports returns how many exports succeeded.
func (s *Store) Exports() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exports
}

// UpdatedAt reports when name was last exported.
func (s *Store) UpdatedAt(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.updated[name]
	return t, ok
}
