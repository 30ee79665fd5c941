// Package reqparam parses the query parameters shared by the care and
// analytics endpoints and maps domain errors to HTTP errors.
package reqparam

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/pkg/caldate"
)

// Error converts err to an echo.HTTPError with the status careerr assigns it.
func Error(err error) error {
	return echo.NewHTTPError(careerr.HTTPStatus(err), err.Error())
}

// Date reads an optional YYYY-MM-DD parameter. A missing parameter yields nil.
func Date(c echo.Context, name string) (*caldate.Date, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	d, err := caldate.Parse(raw)
	if err != nil {
		return nil, careerr.InvalidArgument("%s: %v", name, err)
	}
	return &d, nil
}

// RequiredDate reads a mandatory YYYY-MM-DD parameter.
func RequiredDate(c echo.Context, name string) (caldate.Date, error) {
	d, err := Date(c, name)
	if err != nil {
		return caldate.Date{}, err
	}
	if d == nil {
		return caldate.Date{}, careerr.InvalidArgument("%s is required", name)
	}
	return *d, nil
}

// Today returns the ?today= override when present, otherwise today().
func Today(c echo.Context, today caldate.TodayFunc) (caldate.Date, error) {
	d, err := Date(c, "today")
	if err != nil {
		return caldate.Date{}, err
	}
	if d != nil {
		return *d, nil
	}
	return today(), nil
}

// Int reads an optional integer parameter bounded by [min, max]. A missing
// parameter yields def.
func Int(c echo.Context, name string, def, min, max int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, careerr.InvalidArgument("%s must be an integer", name)
	}
	if n < min || n > max {
		return 0, careerr.InvalidArgument("%s must be between %d and %d, got %d", name, min, max, n)
	}
	return n, nil
}

// UUID reads an optional UUID parameter.
func UUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, careerr.InvalidArgument("invalid %s", name)
	}
	return &id, nil
}

// PathUUID reads a UUID path parameter.
func PathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, careerr.InvalidArgument("invalid %s", name)
	}
	return id, nil
}
