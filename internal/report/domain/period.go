package domain

import (
	"fmt"
	"time"
)

const MinReportYear = 2020

// Period identifies a monthly or quarterly reporting window.
type Period struct {
	Kind    Kind
	Year    int
	Month   int
	Quarter int
}

// Validate checks the period against the report kind.
func (p Period) Validate() error {
	if p.Year < MinReportYear || p.Year > 9999 {
		return fmt.Errorf("%w: year %d", ErrInvalidPeriod, p.Year)
	}
	switch p.Kind {
	case KindMonthly:
		if p.Quarter != 0 {
			return fmt.Errorf("%w: quarter not allowed for %s", ErrInvalidPeriod, p.Kind)
		}
		if p.Month < 1 || p.Month > 12 {
			return fmt.Errorf("%w: month %d", ErrInvalidPeriod, p.Month)
		}
	case KindQuarterly:
		if p.Month != 0 {
			return fmt.Errorf("%w: month not allowed for %s", ErrInvalidPeriod, p.Kind)
		}
		if p.Quarter < 1 || p.Quarter > 4 {
			return fmt.Errorf("%w: quarter %d", ErrInvalidPeriod, p.Quarter)
		}
	default:
		return ErrInvalidKind
	}
	return nil
}

// Window returns the half-open UTC interval [start, end) covered by the period.
func (p Period) Window() (time.Time, time.Time) {
	if p.Kind == KindQuarterly {
		start := time.Date(p.Year, time.Month((p.Quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 3, 0)
	}
	start := time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Key renders the canonical period key, e.g. "2024-03" or "2024-Q1".
func (p Period) Key() string {
	if p.Kind == KindQuarterly {
		return fmt.Sprintf("%04d-Q%d", p.Year, p.Quarter)
	}
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Contains reports whether t falls inside the period window.
func (p Period) Contains(t time.Time) bool {
	start, end := p.Window()
	t = t.UTC()
	return !t.Before(start) && t.Before(end)
}
