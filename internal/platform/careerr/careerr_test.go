package careerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAggregationFailed_WrapsCauseAndCategory(t *testing.T) {
	cause := errors.New("connection reset")
	err := AggregationFailed("completion rate (week)", FetchFailure("fetch history", cause))

	if !errors.Is(err, ErrAggregationFailed) {
		t.Error("expected ErrAggregationFailed")
	}
	if !errors.Is(err, ErrFetchFailure) {
		t.Error("expected ErrFetchFailure in chain")
	}
	if !errors.Is(err, cause) {
		t.Error("expected original cause in chain")
	}
}

func TestNilCausesStayNil(t *testing.T) {
	if FetchFailure("op", nil) != nil {
		t.Error("FetchFailure(nil) should be nil")
	}
	if AggregationFailed("part", nil) != nil {
		t.Error("AggregationFailed(nil) should be nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid", InvalidArgument("value must be positive, got %d", 0), http.StatusBadRequest},
		{"not found", NotFound("schedule"), http.StatusNotFound},
		{"conflict", Conflict("already resolved"), http.StatusConflict},
		{"aggregation", AggregationFailed("x", errors.New("boom")), http.StatusBadGateway},
		{"fetch", FetchFailure("x", errors.New("boom")), http.StatusBadGateway},
		{"wrapped invalid", fmt.Errorf("create: %w", InvalidArgument("bad")), http.StatusBadRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNotFound_Message(t *testing.T) {
	if got := NotFound("care item").Error(); got != "care item not found" {
		t.Errorf("unexpected message %q", got)
	}
}
