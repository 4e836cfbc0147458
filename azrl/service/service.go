package service

import (
	"time"

	"github.com/ezquant/azrl/azrl/model"
)

// PriceFeed resolves historical prices for a symbol.
type PriceFeed interface {
	Price(symbol string, date time.Time, tod model.TimeOfDay) (float64, error)
	// Closes returns at most n closing prices up to and including date, oldest first.
	Closes(symbol string, date time.Time, n int) ([]float64, error)
}

// Calendar tells which dates the market was open.
type Calendar interface {
	IsTradingDay(date time.Time) bool
}

type Notifier interface {
	Notify(message string)
	OnError(err error)
}
