package caldate

import "fmt"

// Range is an inclusive span of calendar dates.
type Range struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// NewRange returns [start, end], rejecting zero dates and reversed bounds.
func NewRange(start, end Date) (Range, error) {
	r := Range{Start: start, End: end}
	return r, r.Validate()
}

// Day returns the single-day range [d, d].
func Day(d Date) Range {
	return Range{Start: d, End: d}
}

func (r Range) Validate() error {
	if !r.Start.Valid() || !r.End.Valid() {
		return fmt.Errorf("range bounds must be valid dates")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("range end %s is before start %s", r.End, r.Start)
	}
	return nil
}

// Contains reports whether d falls within the range, bounds included.
func (r Range) Contains(d Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Days returns the number of calendar days covered, bounds included.
func (r Range) Days() int {
	return r.End.Sub(r.Start) + 1
}

func (r Range) String() string {
	return r.Start.String() + ".." + r.End.String()
}
