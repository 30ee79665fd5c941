package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caretrack/caretrack/pkg/caldate"
)

type Patient struct {
	ID         uuid.UUID     `json:"id"`
	MRN        string        `json:"mrn"`
	GivenName  string        `json:"given_name,omitempty"`
	FamilyName string        `json:"family_name"`
	BirthDate  *caldate.Date `json:"birth_date,omitempty"`
	Active     bool          `json:"active"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// DisplayName is "Given Family", or just the family name.
func (p *Patient) DisplayName() string {
	return strings.TrimSpace(p.GivenName + " " + p.FamilyName)
}
