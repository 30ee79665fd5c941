package careitem

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/internal/platform/recurrence"
)

// Category groups care items for reporting.
type Category string

const (
	CategoryTest      Category = "test"
	CategoryInjection Category = "injection"
	// CategoryUnknown marks a record whose care item could not be resolved.
	// It is never stored on a care item.
	CategoryUnknown Category = "unknown"
)

// KnownCategories is the fixed, ordered category list used by every report.
var KnownCategories = []Category{CategoryTest, CategoryInjection}

func (c Category) Known() bool {
	for _, k := range KnownCategories {
		if c == k {
			return true
		}
	}
	return false
}

// ParseCategory accepts a known category name, case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Known() {
		return "", careerr.InvalidArgument("unknown category %q", s)
	}
	return c, nil
}

// Normalize maps any stored value to a known category or CategoryUnknown.
func Normalize(s string) Category {
	if c, err := ParseCategory(s); err == nil {
		return c
	}
	return CategoryUnknown
}

type CareItem struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Category    Category          `json:"category"`
	Period      recurrence.Period `json:"period"`
	Description *string           `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
