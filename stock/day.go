package stock

import (
	"fmt"
	"time"
)

// =============================================================================
// BUSINESS DAY - Calendar date a shift's counts are attributed to
// =============================================================================

// DayLayout is the only accepted wire and storage format for a business day.
// It sorts lexicographically, which the SQL backends rely on.
const DayLayout = "2006-01-02"

// BusinessDay is a calendar date with no time-of-day component.
type BusinessDay struct {
	t time.Time
}

// Constructors
func NewBusinessDay(year int, month time.Month, day int) BusinessDay {
	return BusinessDay{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates t to its calendar date in t's own location.
func DayOf(t time.Time) BusinessDay {
	return NewBusinessDay(t.Year(), t.Month(), t.Day())
}

func Today() BusinessDay { return DayOf(time.Now()) }

// ParseBusinessDay parses "YYYY-MM-DD". Anything else is a ValidationError.
func ParseBusinessDay(s string) (BusinessDay, error) {
	if s == "" {
		return BusinessDay{}, &ValidationError{Field: "day", Message: "is required"}
	}
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return BusinessDay{}, &ValidationError{Field: "day", Message: fmt.Sprintf("%q is not a date in YYYY-MM-DD format", s)}
	}
	return BusinessDay{t: t}, nil
}

// MustParseBusinessDay is for tests and fixtures.
func MustParseBusinessDay(s string) BusinessDay {
	d, err := ParseBusinessDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d BusinessDay) Before(o BusinessDay) bool { return d.t.Before(o.t) }
func (d BusinessDay) After(o BusinessDay) bool  { return d.t.After(o.t) }
func (d BusinessDay) Equal(o BusinessDay) bool  { return d.t.Equal(o.t) }
func (d BusinessDay) IsZero() bool              { return d.t.IsZero() }

// Arithmetic
func (d BusinessDay) AddDays(n int) BusinessDay { return BusinessDay{t: d.t.AddDate(0, 0, n)} }

func (d BusinessDay) Time() time.Time { return d.t }

func (d BusinessDay) String() string {
	if d.t.IsZero() {
		return ""
	}
	return d.t.Format(DayLayout)
}

func (d BusinessDay) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts "" as the zero day, mirroring MarshalText.
func (d *BusinessDay) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = BusinessDay{}
		return nil
	}
	parsed, err := ParseBusinessDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
