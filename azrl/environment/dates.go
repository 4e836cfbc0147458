package environment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ezquant/azrl/azrl/model"
)

// ParseDate parses a MM-DD-YYYY date. Every token must be a positive integer.
func ParseDate(s string) (time.Time, error) {
	tokens := strings.Split(s, "-")
	if len(tokens) != 3 {
		return time.Time{}, fmt.Errorf("%q is not MM-DD-YYYY: %w", s, model.ErrInvalidDateRange)
	}

	var parts [3]int
	for i, token := range tokens {
		if token == "" || strings.Trim(token, "0123456789") != "" {
			return time.Time{}, fmt.Errorf("%q is not MM-DD-YYYY: %w", s, model.ErrInvalidDateRange)
		}
		n, err := strconv.Atoi(token)
		if err != nil || n <= 0 {
			return time.Time{}, fmt.Errorf("%q is not MM-DD-YYYY: %w", s, model.ErrInvalidDateRange)
		}
		parts[i] = n
	}

	month, dayOfMonth, year := parts[0], parts[1], parts[2]
	date := time.Date(year, time.Month(month), dayOfMonth, 0, 0, 0, 0, time.UTC)
	if date.Year() != year || int(date.Month()) != month || date.Day() != dayOfMonth {
		return time.Time{}, fmt.Errorf("%q is not a calendar date: %w", s, model.ErrInvalidDateRange)
	}
	return date, nil
}

// ParseRange parses both ends of a date range and returns the number of days
// between them.
func ParseRange(start, end string) (time.Time, time.Time, int, error) {
	startDate, err := ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	endDate, err := ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}

	days := daysBetween(startDate, endDate)
	if days < 0 {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("%s is before %s: %w", end, start, model.ErrInvalidDateRange)
	}
	return startDate, endDate, days, nil
}

func daysBetween(a, b time.Time) int {
	return dayNumber(b) - dayNumber(a)
}

// dayNumber counts calendar days in the proleptic Gregorian calendar, so the
// difference of two dates is exact for any year.
func dayNumber(t time.Time) int {
	year, month, day := t.Date()
	if month <= time.February {
		year--
	}
	era := floorDiv(year, 400)
	yearOfEra := year - era*400
	dayOfYear := (153*((int(month)+9)%12)+2)/5 + day - 1
	dayOfEra := yearOfEra*365 + yearOfEra/4 - yearOfEra/100 + dayOfYear
	return era*146097 + dayOfEra
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
