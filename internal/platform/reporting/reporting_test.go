package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"

	"github.com/caretrack/caretrack/pkg/caldate"
)

type fakeRows struct {
	fields []string
	data   [][]interface{}
	pos    int
	closed bool
}

func (r *fakeRows) Close()                        { r.closed = true }
func (r *fakeRows) Err() error                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Scan(dest ...interface{}) error { return errors.New("not supported") }
func (r *fakeRows) Values() ([]interface{}, error) { return r.data[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte            { return nil }
func (r *fakeRows) Conn() *pgx.Conn                { return nil }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.fields))
	for i, f := range r.fields {
		out[i] = pgconn.FieldDescription{Name: f}
	}
	return out
}

type fakeQuerier struct {
	rows *fakeRows
	err  error
	sql  string
	args []interface{}
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	q.sql, q.args = sql, args
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func TestPredefinedMeasures(t *testing.T) {
	expectedIDs := []string{
		"patient-count",
		"active-schedules-by-category",
		"history-status-breakdown",
		"overdue-by-care-item",
		"patients-without-schedules",
	}
	if len(PredefinedMeasures) != len(expectedIDs) {
		t.Fatalf("expected %d predefined measures, got %d", len(expectedIDs), len(PredefinedMeasures))
	}
	for i, expectedID := range expectedIDs {
		if PredefinedMeasures[i].ID != expectedID {
			t.Errorf("expected measure[%d].ID = %s, got %s", i, expectedID, PredefinedMeasures[i].ID)
		}
	}
}

func TestPredefinedMeasures_PlaceholdersMatchParameters(t *testing.T) {
	for _, m := range PredefinedMeasures {
		if m.SQL == "" || m.Name == "" || m.Description == "" {
			t.Errorf("measure %s is incomplete", m.ID)
		}
		for i := range m.Parameters {
			if !strings.Contains(m.SQL, "$"+string(rune('1'+i))) {
				t.Errorf("measure %s does not bind parameter %d", m.ID, i+1)
			}
		}
		if strings.Contains(m.SQL, "$"+string(rune('1'+len(m.Parameters)))) {
			t.Errorf("measure %s has more placeholders than parameters", m.ID)
		}
	}
}

func TestFindMeasure(t *testing.T) {
	m := FindMeasure("patient-count")
	if m == nil || m.Name != "Patient Count" {
		t.Fatalf("expected to find patient-count measure, got %+v", m)
	}
	if FindMeasure("nonexistent") != nil {
		t.Error("expected nil for nonexistent measure")
	}
}

func TestEvaluate_DefaultsParametersFromToday(t *testing.T) {
	id := uuid.New()
	q := &fakeQuerier{rows: &fakeRows{
		fields: []string{"status", "total", "patient", "due"},
		data: [][]interface{}{
			{"completed", int64(4), [16]byte(id), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		},
	}}
	e := NewEvaluator(q)
	e.now = func() time.Time { return time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC) }

	today := caldate.MustNew(2025, time.March, 12)
	report, err := e.Evaluate(context.Background(), FindMeasure("history-status-breakdown"), today, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := report.Parameters["since"]; got != caldate.MustNew(2025, time.February, 10) {
		t.Errorf("since = %s, want 2025-02-10", got)
	}
	if len(q.args) != 1 || !q.args[0].(time.Time).Equal(time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected args %v", q.args)
	}
	if len(report.Results) != 1 {
		t.Fatalf("expected 1 row, got %d", len(report.Results))
	}
	row := report.Results[0]
	if row["patient"] != id.String() || row["due"] != "2025-03-01" || row["total"] != int64(4) {
		t.Errorf("unexpected row %v", row)
	}
	if !q.rows.closed {
		t.Error("rows not closed")
	}
}

func TestEvaluate_ExplicitParameterAndError(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{}}
	e := NewEvaluator(q)
	asOf := caldate.MustNew(2025, time.January, 1)

	report, err := e.Evaluate(context.Background(), FindMeasure("overdue-by-care-item"), caldate.MustNew(2025, time.March, 12),
		map[string]caldate.Date{"as_of": asOf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Parameters["as_of"] != asOf || report.Results == nil || len(report.Results) != 0 {
		t.Errorf("unexpected report %+v", report)
	}

	q.err = errors.New("relation does not exist")
	if _, err := e.Evaluate(context.Background(), FindMeasure("patient-count"), asOf, nil); err == nil || !strings.Contains(err.Error(), "patient-count") {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestHandler(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{fields: []string{"total"}, data: [][]interface{}{{int64(3)}}}}
	h := NewHandler(NewEvaluator(q), caldate.Fixed(caldate.MustNew(2025, time.March, 12)))
	e := echo.New()

	rec := httptest.NewRecorder()
	if err := h.ListMeasures(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var defs []MeasureDefinition
	if err := json.Unmarshal(rec.Body.Bytes(), &defs); err != nil || len(defs) != len(PredefinedMeasures) {
		t.Fatalf("unexpected list %s (%v)", rec.Body.String(), err)
	}

	rec = httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?as_of=2025-03-01", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("overdue-by-care-item")
	if err := h.EvaluateMeasure(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var report MeasureReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Parameters["as_of"] != caldate.MustNew(2025, time.March, 1) || len(report.Results) != 1 {
		t.Errorf("unexpected report %+v", report)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	if he, ok := h.EvaluateMeasure(c).(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", he)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?as_of=yesterday", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("overdue-by-care-item")
	if he, ok := h.EvaluateMeasure(c).(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", he)
	}
}
