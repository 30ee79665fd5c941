package schedule

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/caretrack/caretrack/internal/platform/auth"
	"github.com/caretrack/caretrack/internal/platform/recurrence"
	"github.com/caretrack/caretrack/internal/platform/reqparam"
	"github.com/caretrack/caretrack/pkg/caldate"
	"github.com/caretrack/caretrack/pkg/pagination"
)

// DefaultUpcomingDays is the look-ahead used when ?days= is absent.
const DefaultUpcomingDays = 7

type Handler struct {
	svc   *Service
	today caldate.TodayFunc
}

func NewHandler(svc *Service, today caldate.TodayFunc) *Handler {
	return &Handler{svc: svc, today: today}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleNurse))
	read.GET("/schedules", h.ListSchedules)
	read.GET("/schedules/upcoming", h.Upcoming)
	read.GET("/schedules/:id", h.GetSchedule)
	read.GET("/schedules/:id/history", h.ListHistory)
	read.GET("/schedules/:id/projection", h.Projection)

	// Nurses record outcomes; only clinicians change the plan itself.
	read.POST("/schedules/:id/outcome", h.RecordOutcome)

	write := api.Group("", auth.RequireRole(auth.RoleClinician))
	write.POST("/schedules", h.CreateSchedule)
	write.DELETE("/schedules/:id", h.DeactivateSchedule)
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	var sch Schedule
	if err := c.Bind(&sch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateSchedule(c.Request().Context(), &sch); err != nil {
		return reqparam.Error(err)
	}
	return c.JSON(http.StatusCreated, sch)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := reqparam.PathUUID(c, "id")
	if err != nil {
		return reqparam.Error(err)
	}
	sch, err := h.svc.GetSchedule(c.Request().Context(), id)
	if err != nil {
		return reqparam.Error(err)
	}
	return c.JSON(http.StatusOK, sch)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	pg := pagination.FromContext(c)
	patientID, err := reqparam.UUID(c, "patient_id")
	if err != nil {
		return reqparam.Error(err)
	}
	filter := ScheduleFilter{ActiveOnly: c.QueryParam("include_inactive") != "true", PatientID: patientID}
	items, total, err := h.svc.ListSchedules(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) DeactivateSchedule(c echo.Context) error {
	id, err := reqparam.PathUUID(c, "id")
	if err != nil {
		return reqparam.Error(err)
	}
	if err := h.svc.DeactivateSchedule(c.Request().Context(), id); err != nil {
		return reqparam.Error(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RecordOutcome(c echo.Context) error {
	id, err := reqparam.PathUUID(c, "id")
	if err != nil {
		return reqparam.Error(err)
	}
	var body struct {
		Status               string        `json:"status"`
		ActualCompletionDate *caldate.Date `json:"actual_completion_date"`
		Note                 *string       `json:"note"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status, err := ParseOutcome(body.Status)
	if err != nil {
		return reqparam.Error(err)
	}
	result, err := h.svc.RecordOutcome(c.Request().Context(), id, Outcome{
		Status:               status,
		ActualCompletionDate: body.ActualCompletionDate,
		Note:                 body.Note,
	})
	if err != nil {
		return reqparam.Error(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Upcoming(c echo.Context) error {
	today, err := reqparam.Today(c, h.today)
	if err != nil {
		return reqparam.Error(err)
	}
	days, err := reqparam.Int(c, "days", DefaultUpcomingDays, 0, MaxUpcomingDays)
	if err != nil {
		return reqparam.Error(err)
	}
	items, err := h.svc.Upcoming(c.Request().Context(), today, days)
	if err != nil {
		return reqparam.Error(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"today": today,
		"days":  days,
		"items": items,
	})
}

func (h *Handler) Projection(c echo.Context) error {
	id, err := reqparam.PathUUID(c, "id")
	if err != nil {
		return reqparam.Error(err)
	}
	count, err := reqparam.Int(c, "count", recurrence.DefaultSeriesCount, 1, recurrence.MaxSeriesCount)
	if err != nil {
		return reqparam.Error(err)
	}
	p, err := h.svc.Projection(c.Request().Context(), id, count)
	if err != nil {
		return reqparam.Error(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListHistory(c echo.Context) error {
	id, err := reqparam.PathUUID(c, "id")
	if err != nil {
		return reqparam.Error(err)
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListHistory(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return reqparam.Error(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}
