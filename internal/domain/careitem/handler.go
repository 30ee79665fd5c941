package careitem

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caretrack/caretrack/internal/platform/auth"
	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleNurse, auth.RoleAnalyst))
	read.GET("/care-items", h.ListCareItems)
	read.GET("/care-items/:id", h.GetCareItem)

	write := api.Group("", auth.RequireRole(auth.RoleClinician))
	write.POST("/care-items", h.CreateCareItem)
	write.PUT("/care-items/:id", h.UpdateCareItem)
}

func (h *Handler) CreateCareItem(c echo.Context) error {
	var item CareItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateCareItem(c.Request().Context(), &item); err != nil {
		return echo.NewHTTPError(careerr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) GetCareItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	item, err := h.svc.GetCareItem(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(careerr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) UpdateCareItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var item CareItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item.ID = id
	if err := h.svc.UpdateCareItem(c.Request().Context(), &item); err != nil {
		return echo.NewHTTPError(careerr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) ListCareItems(c echo.Context) error {
	pg := pagination.FromContext(c)
	var category *Category
	if q := c.QueryParam("category"); q != "" {
		cat, err := ParseCategory(q)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		category = &cat
	}
	items, total, err := h.svc.ListCareItems(c.Request().Context(), category, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}
