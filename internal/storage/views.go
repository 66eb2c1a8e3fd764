package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/ledger"

	"github.com/shopspring/decimal"
)

// StoredView is a materialized view document.
type StoredView struct {
	Name      string
	Content   []byte
	UpdatedAt time.Time
}

// UpsertView replaces the stored document of a view.
func (r *SQLiteRepository) UpsertView(ctx context.Context, name string, content []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO views (name, content, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		name, string(content), toMillis(r.now()))
	if err != nil {
		return fmt.Errorf("upsert view %s: %w", name, err)
	}
	return nil
}

// LoadView returns nil when the view was never materialized.
func (r *SQLiteRepository) LoadView(ctx context.Context, name string) (*StoredView, error) {
	var (
		content   string
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT content, updated_at FROM views WHERE name = ?`, name).Scan(&content, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load view %s: %w", name, err)
	}
	return &StoredView{Name: name, Content: []byte(content), UpdatedAt: fromMillis(updatedAt)}, nil
}

// ListViews returns every stored view ordered by name.
func (r *SQLiteRepository) ListViews(ctx context.Context) ([]StoredView, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, content, updated_at FROM views ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query views: %w", err)
	}
	defer rows.Close()

	var out []StoredView
	for rows.Next() {
		var (
			v         StoredView
			content   string
			updatedAt int64
		)
		if err := rows.Scan(&v.Name, &content, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan view: %w", err)
		}
		v.Content = []byte(content)
		v.UpdatedAt = fromMillis(updatedAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// MissingMonthlyProfits reports whether any month in [from, to] has no
// stored monthly profit row.
func (r *SQLiteRepository) MissingMonthlyProfits(ctx context.Context, from, to core.Month) (bool, error) {
	if to.Before(from) {
		return false, nil
	}
	want := 0
	for m := from; !to.Before(m); m = m.Next() {
		want++
	}
	var have int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM monthly_profits WHERE month >= ? AND month <= ?`,
		from.String(), to.String()).Scan(&have)
	if err != nil {
		return false, fmt.Errorf("count monthly profits: %w", err)
	}
	return have < want, nil
}

// UpsertMonthlyProfits stores the given months in one transaction.
func (r *SQLiteRepository) UpsertMonthlyProfits(ctx context.Context, profits []ledger.MonthlyProfit) error {
	if len(profits) == 0 {
		return nil
	}
	now := toMillis(r.now())
	return r.withImmediateTx(ctx, func(q querier) error {
		for _, p := range profits {
			_, err := q.ExecContext(ctx,
				`INSERT INTO monthly_profits (month, total, profit, updated_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT(month) DO UPDATE SET total = excluded.total, profit = excluded.profit, updated_at = excluded.updated_at`,
				p.Month.String(), p.Total.String(), p.Profit.String(), now)
			if err != nil {
				return fmt.Errorf("upsert monthly profit %s: %w", p.Month, err)
			}
		}
		return nil
	})
}

// ListMonthlyProfits returns stored months in chronological order.
func (r *SQLiteRepository) ListMonthlyProfits(ctx context.Context) ([]ledger.MonthlyProfit, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT month, total, profit FROM monthly_profits ORDER BY month`)
	if err != nil {
		return nil, fmt.Errorf("query monthly profits: %w", err)
	}
	defer rows.Close()

	var out []ledger.MonthlyProfit
	for rows.Next() {
		var month, total, profit string
		if err := rows.Scan(&month, &total, &profit); err != nil {
			return nil, fmt.Errorf("scan monthly profit: %w", err)
		}
		m, err := core.ParseMonth(month)
		if err != nil {
			return nil, err
		}
		tv, err := decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("parse total of %s: %w", month, err)
		}
		pv, err := decimal.NewFromString(profit)
		if err != nil {
			return nil, fmt.Errorf("parse profit of %s: %w", month, err)
		}
		out = append(out, ledger.MonthlyProfit{Month: m, Total: tv, Profit: pv})
	}
	return out, rows.Err()
}
