// Package indicator turns closing price history into state features.
package indicator

import (
	"github.com/markcheno/go-talib"
)

// FeaturesPerSymbol is the number of values Features appends for each symbol.
const FeaturesPerSymbol = 2

// Window is how many closes Features needs to produce non-zero values.
func Window(period int) int {
	return period*3 + 1
}

// Features returns RSI/100 and close/SMA-1 for the last close. Both are zero
// until enough history is available.
func Features(closes []float64, period int) []float64 {
	out := make([]float64, FeaturesPerSymbol)
	if period < 2 || len(closes) <= period {
		return out
	}

	last := len(closes) - 1
	if rsi := talib.Rsi(closes, period); len(rsi) == len(closes) {
		out[0] = rsi[last] / 100
	}
	if sma := talib.Sma(closes, period); len(sma) == len(closes) && sma[last] != 0 {
		out[1] = closes[last]/sma[last] - 1
	}
	return out
}
