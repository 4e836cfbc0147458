package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDateRange is returned when the start or end date is malformed or
	// the end date comes before the start date.
	ErrInvalidDateRange = errors.New("invalid date range")
	// ErrOutOfRange is returned when the calendar search cannot find a trading day.
	ErrOutOfRange = errors.New("date out of range")
	// ErrDataNotFound is returned when a price lookup has no recorded value.
	ErrDataNotFound = errors.New("price data not found")
	// ErrDimensionMismatch is returned for vectors of the wrong length.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// TimeOfDay is the half of the trading day an epoch refers to.
type TimeOfDay int

const (
	Open TimeOfDay = iota
	Close
)

func (t TimeOfDay) String() string {
	if t == Open {
		return "Open"
	}
	return "Close"
}

// Clock returns the wall clock label used in exported results.
func (t TimeOfDay) Clock() string {
	if t == Open {
		return "09:30AM"
	}
	return "04:00PM"
}

// Transition is one step of experience.
type Transition struct {
	State     []float64
	Action    []float64
	NextState []float64
	Reward    float64
	NotDone   float64
}

// Batch holds transitions gathered by a replay sample, one row per index.
type Batch struct {
	States     [][]float64
	Actions    [][]float64
	NextStates [][]float64
	Rewards    []float64
	NotDones   []float64
}

func (b Batch) Len() int {
	return len(b.Rewards)
}

// Flat returns the rows of m concatenated in row-major order.
func Flat(m [][]float64) []float64 {
	if len(m) == 0 {
		return nil
	}
	out := make([]float64, 0, len(m)*len(m[0]))
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}

// CheckDim returns ErrDimensionMismatch when v does not have n elements.
func CheckDim(name string, v []float64, n int) error {
	if len(v) != n {
		return fmt.Errorf("%s: expected %d values, got %d: %w", name, n, len(v), ErrDimensionMismatch)
	}
	return nil
}
