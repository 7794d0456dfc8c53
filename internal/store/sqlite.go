// Package store persists CIK mappings, insider transactions and summaries in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	edgar "github.com/RxDataLab/edgar-insider"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

//go:embed schema.sql
var schema string

// SQLite implements edgar.Store on a single SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ edgar.Store = (*SQLite)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
// Use Memory for an in-memory database.
func Open(ctx context.Context, path string) (*SQLite, error) {
	if path != Memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: an in-memory database lives per connection, and SQLite
	// serializes writers anyway
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(ctx, path != Memory); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context, wal bool) error {
	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LookupCIK returns the stored CIK for ticker as written, or an error wrapping
// edgar.ErrNotFound.
func (s *SQLite) LookupCIK(ctx context.Context, ticker string) (string, error) {
	var cik string
	err := s.db.QueryRowContext(ctx, `SELECT cik FROM cik_map WHERE ticker = ?`, ticker).Scan(&cik)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("ticker %s: %w", ticker, edgar.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup cik for %s: %w", ticker, err)
	}
	return cik, nil
}

// UpsertCIKMappings writes the ticker mappings in one transaction and
// returns how many rows were written.
func (s *SQLite) UpsertCIKMappings(ctx context.Context, rows []edgar.CompanyTicker) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cik_map (ticker, cik, title) VALUES (?, ?, ?)
		ON CONFLICT (ticker) DO UPDATE SET cik = excluded.cik, title = excluded.title`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Ticker, r.CIK.Padded(), nullString(r.Title)); err != nil {
			return n, fmt.Errorf("upsert cik for %s: %w", r.Ticker, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// UpsertTransaction inserts tx or, when its natural key already exists,
// overwrites the title, price, total value and filing date.
func (s *SQLite) UpsertTransaction(ctx context.Context, t edgar.InsiderTransaction) error {
	key := t.Key()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insider_transactions (
			ticker, insider_name, insider_title, transaction_date, transaction_type,
			shares, price_per_share, total_value, filing_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker, insider_name, transaction_date, transaction_type, shares) DO UPDATE SET
			insider_title = excluded.insider_title,
			price_per_share = excluded.price_per_share,
			total_value = excluded.total_value,
			filing_date = excluded.filing_date`,
		key.Ticker, key.InsiderName, nullStringPtr(t.InsiderTitle), key.TransactionDate, string(key.Type),
		key.Shares, nullFloat(t.PricePerShare), nullFloat(t.TotalValue), t.FilingDate.Format(edgar.DateLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert transaction for %s: %w", t.Ticker, err)
	}
	return nil
}

// TransactionsSince returns ticker's transactions dated on or after from,
// newest first.
func (s *SQLite) TransactionsSince(ctx context.Context, ticker string, from time.Time) ([]edgar.InsiderTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, insider_name, insider_title, transaction_date, transaction_type,
		       shares, price_per_share, total_value, filing_date
		FROM insider_transactions
		WHERE ticker = ? AND transaction_date >= ?
		ORDER BY transaction_date DESC, id`,
		ticker, from.Format(edgar.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("query transactions for %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []edgar.InsiderTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTransactions returns the number of stored transactions for ticker.
func (s *SQLite) CountTransactions(ctx context.Context, ticker string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insider_transactions WHERE ticker = ?`, ticker).Scan(&n)
	return n, err
}

// UpsertSummary replaces the ticker's summary row.
func (s *SQLite) UpsertSummary(ctx context.Context, sum edgar.Summary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insider_summary (
			ticker, buys_90d, sells_90d, total_bought_value_90d, total_sold_value_90d,
			net_activity_90d, verdict, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker) DO UPDATE SET
			buys_90d = excluded.buys_90d,
			sells_90d = excluded.sells_90d,
			total_bought_value_90d = excluded.total_bought_value_90d,
			total_sold_value_90d = excluded.total_sold_value_90d,
			net_activity_90d = excluded.net_activity_90d,
			verdict = excluded.verdict,
			updated_at = excluded.updated_at`,
		sum.Ticker, sum.Buys, sum.Sells, sum.TotalBought, sum.TotalSold,
		sum.NetActivity, string(sum.Verdict), sum.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert summary for %s: %w", sum.Ticker, err)
	}
	return nil
}

// GetSummary returns the stored summary for ticker, or an error wrapping
// edgar.ErrNotFound.
func (s *SQLite) GetSummary(ctx context.Context, ticker string) (edgar.Summary, error) {
	var (
		sum       edgar.Summary
		verdict   string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT ticker, buys_90d, sells_90d, total_bought_value_90d, total_sold_value_90d,
		       net_activity_90d, verdict, updated_at
		FROM insider_summary WHERE ticker = ?`, ticker).Scan(
		&sum.Ticker, &sum.Buys, &sum.Sells, &sum.TotalBought, &sum.TotalSold,
		&sum.NetActivity, &verdict, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return edgar.Summary{}, fmt.Errorf("summary for %s: %w", ticker, edgar.ErrNotFound)
	}
	if err != nil {
		return edgar.Summary{}, fmt.Errorf("query summary for %s: %w", ticker, err)
	}
	sum.Verdict = edgar.Verdict(verdict)
	if sum.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return edgar.Summary{}, fmt.Errorf("summary for %s: bad updated_at %q: %w", ticker, updatedAt, err)
	}
	return sum, nil
}

// ListTickers returns every ticker with stored transactions or a summary, sorted.
func (s *SQLite) ListTickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker FROM insider_transactions
		UNION
		SELECT ticker FROM insider_summary
		ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(sc scanner) (edgar.InsiderTransaction, error) {
	var (
		t                  edgar.InsiderTransaction
		name               string
		title              sql.NullString
		txDate, filingDate string
		typ                string
		price, total       sql.NullFloat64
	)
	if err := sc.Scan(&t.Ticker, &name, &title, &txDate, &typ, &t.Shares, &price, &total, &filingDate); err != nil {
		return t, fmt.Errorf("scan transaction: %w", err)
	}
	var err error
	if t.TransactionDate, err = edgar.ParseDate(txDate); err != nil {
		return t, err
	}
	if t.FilingDate, err = edgar.ParseDate(filingDate); err != nil {
		return t, err
	}
	t.Type = edgar.TransactionType(typ)
	if name != "" {
		t.InsiderName = &name
	}
	if title.Valid {
		t.InsiderTitle = &title.String
	}
	if price.Valid {
		t.PricePerShare = &price.Float64
	}
	if total.Valid {
		t.TotalValue = &total.Float64
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
