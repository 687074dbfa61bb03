package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/elum-utils/gatekeeper/models"
)

func TestMemoryAdapter(t *testing.T) {
	m := NewMemoryAdapter(models.Term{Value: "kill", Severity: models.SeverityHigh})
	ctx := context.Background()
	_ = m.AddTerm(ctx, models.Term{Value: "ruin", Severity: models.SeverityMedium})
	ok, _ := m.TermExists(ctx, "ruin")
	if !ok {
		t.Fatalf("expected term")
	}
	all, _ := m.GetTerms(ctx)
	if len(all) != 2 || all[0].Value != "kill" || all[1].Severity != models.SeverityMedium {
		t.Fatalf("unexpected terms: %+v", all)
	}
	_ = m.RemoveTerm(ctx, "ruin")
	ok, _ = m.TermExists(ctx, "ruin")
	if ok {
		t.Fatalf("expected term removed")
	}
}

func TestNewSQLAdapterValidation(t *testing.T) {
	if _, err := NewSQLAdapter(nil, "t"); err == nil {
		t.Fatalf("expected error")
	}
	db, err := sql.Open(registerStub(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := NewSQLAdapter(db, "terms; DROP TABLE x"); err == nil {
		t.Fatalf("expected invalid table name error")
	}
	a, err := NewSQLAdapter(db, "")
	if err != nil || a.table != "prohibited_terms" {
		t.Fatalf("unexpected default table: %v %v", a, err)
	}
}

func TestSQLAdapterWithStubDriver(t *testing.T) {
	db, err := sql.Open(registerStub(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	a, err := NewSQLAdapter(db, "public.terms")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := a.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.AddTerm(ctx, models.Term{Value: "x", Severity: models.SeverityMedium}); err != nil {
		t.Fatal(err)
	}
	if err := a.AddTerm(ctx, models.Term{Value: "x"}); err != nil {
		t.Fatal(err)
	}
	ok, err := a.TermExists(ctx, "x")
	if err != nil || !ok {
		t.Fatalf("expected term exists: ok=%v err=%v", ok, err)
	}
	all, err := a.GetTerms(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("unexpected terms: %v err=%v", all, err)
	}
	if all[0].Severity != models.SeverityHigh {
		t.Fatalf("expected upsert to high, got %q", all[0].Severity)
	}
	if err := a.RemoveTerm(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	ok, err = a.TermExists(ctx, "x")
	if err != nil || ok {
		t.Fatalf("expected term removed: ok=%v err=%v", ok, err)
	}
}

var (
	stubMu  sync.Mutex
	stubSeq int
)

func registerStub() string {
	stubMu.Lock()
	defer stubMu.Unlock()
	stubSeq++
	name := fmt.Sprintf("gatekeeper_stub_sql_%d", stubSeq)
	sql.Register(name, &stubDriver{store: &stubStore{terms: make(map[string]string)}})
	return name
}

type stubStore struct {
	mu    sync.Mutex
	terms map[string]string
}

type stubDriver struct{ store *stubStore }

type stubConn struct{ store *stubStore }

type stubRows struct {
	cols []string
	data [][]string
	idx  int
}

type stubResult struct{}

func (d *stubDriver) Open(string) (driver.Conn, error) { return &stubConn{store: d.store}, nil }

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not used") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not used") }

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	q := strings.ToLower(query)
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	switch {
	case strings.Contains(q, "create table"):
		return stubResult{}, nil
	case strings.Contains(q, "insert") && strings.Contains(q, "on conflict"):
		c.store.terms[fmt.Sprint(args[0].Value)] = fmt.Sprint(args[1].Value)
		return stubResult{}, nil
	case strings.Contains(q, "delete"):
		delete(c.store.terms, fmt.Sprint(args[0].Value))
		return stubResult{}, nil
	default:
		return nil, errors.New("unsupported exec")
	}
}

func (c *stubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	q := strings.ToLower(query)
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if strings.Contains(q, "limit 1") {
		if _, ok := c.store.terms[fmt.Sprint(args[0].Value)]; !ok {
			return &stubRows{cols: []string{"?column?"}}, nil
		}
		return &stubRows{cols: []string{"?column?"}, data: [][]string{{"1"}}}, nil
	}
	out := make([][]string, 0, len(c.store.terms))
	for term, sev := range c.store.terms {
		out = append(out, []string{term, sev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return &stubRows{cols: []string{"term", "severity"}, data: out}, nil
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }
func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.data) {
		return io.EOF
	}
	for i, v := range r.data[r.idx] {
		dest[i] = v
	}
	r.idx++
	return nil
}

func (stubResult) LastInsertId() (int64, error) { return 0, nil }
func (stubResult) RowsAffected() (int64, error) { return 1, nil }

var _ driver.Driver = (*stubDriver)(nil)
var _ driver.Conn = (*stubConn)(nil)
var _ driver.ExecerContext = (*stubConn)(nil)
var _ driver.QueryerContext = (*stubConn)(nil)
var _ driver.Rows = (*stubRows)(nil)
