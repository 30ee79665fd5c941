package adherence

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/caretrack/caretrack/internal/domain/careitem"
	"github.com/caretrack/caretrack/internal/platform/auth"
	"github.com/caretrack/caretrack/internal/platform/recurrence"
	"github.com/caretrack/caretrack/internal/platform/reqparam"
	"github.com/caretrack/caretrack/internal/platform/urgency"
	"github.com/caretrack/caretrack/pkg/caldate"
)

type Handler struct {
	dashboard *DashboardAssembler
	trends    *TrendAggregator
	rates     *RateCalculator
	today     caldate.TodayFunc
}

func NewHandler(dashboard *DashboardAssembler, trends *TrendAggregator, rates *RateCalculator, today caldate.TodayFunc) *Handler {
	return &Handler{dashboard: dashboard, trends: trends, rates: rates, today: today}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleNurse, auth.RoleAnalyst))
	g.GET("/analytics/dashboard", h.Dashboard)
	g.GET("/analytics/trends/weekly", h.WeeklyTrend)
	g.GET("/analytics/trends/categories", h.CategoryTrend)
	g.GET("/analytics/completion-rate", h.CompletionRate)

	g.GET("/recurrence/next", h.NextDate)
	g.GET("/recurrence/series", h.Series)
	g.GET("/urgency", h.Classify)
}

func (h *Handler) Dashboard(c echo.Context) error {
	today, err := reqparam.Today(c, h.today)
	if err != nil {
		return reqparam.Error(err)
	}
	stats, err := h.dashboard.Assemble(c.Request().Context(), today)
	if err != nil {
		return reqparam.Error(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) WeeklyTrend(c echo.Context) error {
	today, err := reqparam.Today(c, h.today)
	if err != nil {
		return reqparam.Error(err)
	}
	weeks, err := reqparam.Int(c, "weeks", h.trends.Config().Weeks, 1, MaxTrendWeeks)
	if err != nil {
		return reqparam.Error(err)
	}
	series, err := h.trends.WeeklySeries(c.Request().Context(), today, weeks)
	if err != nil {
		return reqparam.Error(err)
	}
	return c.JSON(http.StatusOK, series)
}

func (h *Handler) CategoryTrend(c echo.Context) error {
	today, err := reqparam.Today(c, h.today)
	if err != nil {
		return reqparam.Error(err)
	}
	days, err := reqparam.Int(c, "days", h.trends.Config().CategoryWindowDays, 1, MaxCategoryWindowDays)
	if err != nil {
		return reqparam.Error(err)
	}
	dist, err := h.trends.CategoryDistribution(c.Request().Context(), today, days)
	if err != nil {
		return reqparam.Error(err)
	}
	return c.JSON(http.StatusOK, dist)
}

// CompletionRate rates [start, end]. end defaults to today and start to end.
func (h *Handler) CompletionRate(c echo.Context) error {
	end, err := reqparam.Date(c, "end")
	if err != nil {
		return reqparam.Error(err)
	}
	if end == nil {
		today, err := reqparam.Today(c, h.today)
		if err != nil {
			return reqparam.Error(err)
		}
		end = &today
	}
	start, err := reqparam.Date(c, "start")
	if err != nil {
		return reqparam.Error(err)
	}
	if start == nil {
		start = end
	}

	var category *careitem.Category
	if raw := c.QueryParam("category"); raw != "" {
		cat, err := careitem.ParseCategory(raw)
		if err != nil {
			return reqparam.Error(err)
		}
		category = &cat
	}

	window := caldate.Range{Start: *start, End: *end}
	rate, err := h.rates.Compute(c.Request().Context(), window, category)
	if err != nil {
		return reqparam.Error(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"window":   window,
		"category": category,
		"rate":     rate,
	})
}

func periodParams(c echo.Context) (recurrence.Period, error) {
	unit, err := recurrence.ParseUnit(c.QueryParam("unit"))
	if err != nil {
		return recurrence.Period{}, err
	}
	value, err := reqparam.Int(c, "value", 0, 1, recurrence.MaxWeeks)
	if err != nil {
		return recurrence.Period{}, err
	}
	p := recurrence.Period{Value: value, Unit: unit}
	return p, p.Validate()
}

func (h *Handler) NextDate(c echo.Context) error {
	base, err := reqparam.RequiredDate(c, "base")
	if err != nil {
		return reqparam.Error(err)
	}
	p, err := periodParams(c)
	if err != nil {
		return reqparam.Error(err)
	}
	next, err := recurrence.NextDate(base, p)
	if err != nil {
		return reqparam.Error(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"base": base, "period": p, "next": next})
}

func (h *Handler) Series(c echo.Context) error {
	first, err := reqparam.RequiredDate(c, "first")
	if err != nil {
		return reqparam.Error(err)
	}
	p, err := periodParams(c)
	if err != nil {
		return reqparam.Error(err)
	}
	count, err := reqparam.Int(c, "count", recurrence.DefaultSeriesCount, 0, recurrence.MaxSeriesCount)
	if err != nil {
		return reqparam.Error(err)
	}
	dates, err := recurrence.ProjectSeries(first, p, count)
	if err != nil {
		return reqparam.Error(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"first": first, "period": p, "dates": dates})
}

func (h *Handler) Classify(c echo.Context) error {
	due, err := reqparam.RequiredDate(c, "due")
	if err != nil {
		return reqparam.Error(err)
	}
	today, err := reqparam.Today(c, h.today)
	if err != nil {
		return reqparam.Error(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"due":            due,
		"today":          today,
		"classification": urgency.Classify(due, today),
	})
}
