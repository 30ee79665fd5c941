package patient

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/caretrack/caretrack/internal/platform/careerr"
)

type Service struct {
	patients PatientRepository
}

func NewService(repo PatientRepository) *Service {
	return &Service{patients: repo}
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.MRN = strings.TrimSpace(p.MRN)
	p.FamilyName = strings.TrimSpace(p.FamilyName)
	p.GivenName = strings.TrimSpace(p.GivenName)
	if p.MRN == "" {
		return careerr.InvalidArgument("mrn is required")
	}
	if p.FamilyName == "" {
		return careerr.InvalidArgument("family_name is required")
	}
	if p.BirthDate != nil && !p.BirthDate.Valid() {
		return careerr.InvalidArgument("birth_date is not a valid date")
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// CountPatients is the total number of patient records, active or not.
func (s *Service) CountPatients(ctx context.Context) (int, error) {
	return s.patients.Count(ctx)
}
