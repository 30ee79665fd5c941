package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHasAnyRole(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required []string
		want     bool
	}{
		{"exact", []string{RoleNurse}, []string{RoleNurse}, true},
		{"one of many", []string{RoleAnalyst}, []string{RoleClinician, RoleAnalyst}, true},
		{"admin passes", []string{RoleAdmin}, []string{RoleClinician}, true},
		{"missing", []string{RoleNurse}, []string{RoleAnalyst}, false},
		{"no roles", nil, []string{RoleNurse}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasAnyRole(tt.granted, tt.required...); got != tt.want {
				t.Errorf("HasAnyRole(%v, %v) = %v, want %v", tt.granted, tt.required, got, tt.want)
			}
		})
	}
}

func runRequireRole(t *testing.T, granted []string, required ...string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, granted))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequireRole(required...)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	err := h(c)
	return rec, err
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := runRequireRole(t, []string{RoleClinician}, RoleClinician, RoleNurse)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	_, err := runRequireRole(t, []string{RoleAnalyst}, RoleClinician)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", httpErr.Code)
	}
}
