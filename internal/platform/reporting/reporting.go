package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/caretrack/caretrack/internal/platform/auth"
	"github.com/caretrack/caretrack/internal/platform/db"
	"github.com/caretrack/caretrack/internal/platform/reqparam"
	"github.com/caretrack/caretrack/pkg/caldate"
)

// Parameter is a date argument of a measure. A missing value defaults to
// today plus OffsetDays.
type Parameter struct {
	Name       string `json:"name"`
	OffsetDays int    `json:"default_offset_days"`
}

// MeasureDefinition defines a reporting measure with its SQL query. The
// query's $n placeholders bind Parameters in order.
type MeasureDefinition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	SQL         string      `json:"sql"`
	Parameters  []Parameter `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]caldate.Date  `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "patient-count",
		Name:        "Patient Count",
		Description: "Total number of patients and how many are active",
		SQL:         `SELECT COUNT(*) AS total, COALESCE(SUM(CASE WHEN active THEN 1 ELSE 0 END), 0) AS active_count FROM patient`,
		Parameters:  []Parameter{},
	},
	{
		ID:          "active-schedules-by-category",
		Name:        "Active Schedules by Category",
		Description: "Active patient schedules grouped by care item category",
		SQL: `SELECT COALESCE(ci.category, 'unknown') AS category, COUNT(*) AS total
			FROM patient_schedule s LEFT JOIN care_item ci ON ci.id = s.care_item_id
			WHERE s.is_active GROUP BY 1 ORDER BY total DESC`,
		Parameters: []Parameter{},
	},
	{
		ID:          "history-status-breakdown",
		Name:        "History Status Breakdown",
		Description: "Occurrences scheduled since a date, by status",
		SQL: `SELECT status, COUNT(*) AS total FROM schedule_history
			WHERE scheduled_date >= $1 GROUP BY status ORDER BY total DESC`,
		Parameters: []Parameter{{Name: "since", OffsetDays: -30}},
	},
	{
		ID:          "overdue-by-care-item",
		Name:        "Overdue Schedules by Care Item",
		Description: "Active schedules due before a date whose due occurrence is not completed",
		SQL: `SELECT ci.name AS care_item, COUNT(*) AS overdue
			FROM patient_schedule s JOIN care_item ci ON ci.id = s.care_item_id
			WHERE s.is_active AND s.next_due_date < $1
			AND NOT EXISTS (SELECT 1 FROM schedule_history h
				WHERE h.schedule_id = s.id AND h.scheduled_date = s.next_due_date AND h.status = 'completed')
			GROUP BY ci.name ORDER BY overdue DESC`,
		Parameters: []Parameter{{Name: "as_of"}},
	},
	{
		ID:          "patients-without-schedules",
		Name:        "Patients Without Active Schedules",
		Description: "Active patients that have no active schedule",
		SQL: `SELECT p.id, p.mrn, p.family_name FROM patient p
			WHERE p.active AND NOT EXISTS (SELECT 1 FROM patient_schedule s WHERE s.patient_id = p.id AND s.is_active)
			ORDER BY p.family_name`,
		Parameters: []Parameter{},
	},
}

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Evaluator runs measures on the tenant connection of the request when there
// is one, so the tenant's search_path applies.
type Evaluator struct {
	pool Querier
	now  func() time.Time
}

func NewEvaluator(pool Querier) *Evaluator {
	return &Evaluator{pool: pool, now: time.Now}
}

func (e *Evaluator) conn(ctx context.Context) Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return e.pool
}

// Evaluate binds params to the measure's parameters, defaulting from today,
// and runs the query.
func (e *Evaluator) Evaluate(ctx context.Context, m *MeasureDefinition, today caldate.Date, params map[string]caldate.Date) (*MeasureReport, error) {
	bound := make(map[string]caldate.Date, len(m.Parameters))
	args := make([]interface{}, 0, len(m.Parameters))
	for _, p := range m.Parameters {
		d, ok := params[p.Name]
		if !ok {
			d = today.AddDays(p.OffsetDays)
		}
		bound[p.Name] = d
		args = append(args, d.Time())
	}

	results, err := executeSQL(ctx, e.conn(ctx), m.SQL, args...)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", m.ID, err)
	}
	return &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: e.now().UTC(),
		Results:     results,
		Parameters:  bound,
	}, nil
}

// executeSQL runs a SQL query and returns results as a slice of maps.
func executeSQL(ctx context.Context, q Querier, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = jsonValue(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// jsonValue renders the pgx values that do not marshal usefully on their own.
func jsonValue(v interface{}) interface{} {
	switch t := v.(type) {
	case [16]byte:
		return uuid.UUID(t).String()
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 && t.Location() == time.UTC {
			return caldate.FromTime(t).String()
		}
		return t
	default:
		return v
	}
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	eval  *Evaluator
	today caldate.TodayFunc
}

func NewHandler(eval *Evaluator, today caldate.TodayFunc) *Handler {
	return &Handler{eval: eval, today: today}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole(auth.RoleAnalyst))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	today, err := reqparam.Today(c, h.today)
	if err != nil {
		return reqparam.Error(err)
	}
	params := map[string]caldate.Date{}
	for _, p := range measure.Parameters {
		d, err := reqparam.Date(c, p.Name)
		if err != nil {
			return reqparam.Error(err)
		}
		if d != nil {
			params[p.Name] = *d
		}
	}

	report, err := h.eval.Evaluate(c.Request().Context(), measure, today, params)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}
	return c.JSON(http.StatusOK, report)
}
