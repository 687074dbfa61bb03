package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/elum-utils/gatekeeper/models"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLAdapter stores terms in a PostgreSQL table through database/sql
// (the pgx stdlib driver in production).
type SQLAdapter struct {
	db    *sql.DB
	table string
}

// NewSQLAdapter creates an adapter over *sql.DB.
func NewSQLAdapter(db *sql.DB, table string) (*SQLAdapter, error) {
	if db == nil {
		return nil, errors.New("storage: db is nil")
	}
	if strings.TrimSpace(table) == "" {
		table = "prohibited_terms"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("storage: invalid table name %q", table)
	}
	return &SQLAdapter{db: db, table: table}, nil
}

// EnsureSchema creates table if missing.
func (s *SQLAdapter) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	term TEXT PRIMARY KEY,
	severity TEXT NOT NULL DEFAULT 'high'
)`, s.table)
	_, err := s.db.ExecContext(ctx, q)
	return err
}

// AddTerm inserts a term or updates its severity.
func (s *SQLAdapter) AddTerm(ctx context.Context, term models.Term) error {
	q := fmt.Sprintf(`INSERT INTO %s (term, severity) VALUES ($1, $2)
ON CONFLICT (term) DO UPDATE SET severity = EXCLUDED.severity`, s.table)
	_, err := s.db.ExecContext(ctx, q, term.Value, string(severityOrHigh(term.Severity)))
	return err
}

func (s *SQLAdapter) RemoveTerm(ctx context.Context, value string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE term = $1`, s.table)
	_, err := s.db.ExecContext(ctx, q, value)
	return err
}

func (s *SQLAdapter) GetTerms(ctx context.Context) ([]models.Term, error) {
	q := fmt.Sprintf(`SELECT term, severity FROM %s ORDER BY term`, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Term, 0, 256)
	for rows.Next() {
		var value, sev string
		if scanErr := rows.Scan(&value, &sev); scanErr != nil {
			return nil, scanErr
		}
		out = append(out, models.Term{Value: value, Severity: severityOrHigh(models.Severity(sev))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLAdapter) TermExists(ctx context.Context, value string) (bool, error) {
	q := fmt.Sprintf(`SELECT 1 FROM %s WHERE term = $1 LIMIT 1`, s.table)
	var v int
	err := s.db.QueryRowContext(ctx, q, value).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func severityOrHigh(s models.Severity) models.Severity {
	if strings.EqualFold(strings.TrimSpace(string(s)), string(models.SeverityMedium)) {
		return models.SeverityMedium
	}
	return models.SeverityHigh
}
