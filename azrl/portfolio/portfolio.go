// Package portfolio keeps the cash and share holdings of the simulated
// account and values them against a price feed.
package portfolio

import (
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/ezquant/azrl/azrl/indicator"
	"github.com/ezquant/azrl/azrl/model"
	"github.com/ezquant/azrl/azrl/service"
)

// Constraints limit what an action may do. The zero value forbids shorting
// and margin; DefaultConstraints allows both, which is the base behaviour.
type Constraints struct {
	AllowShort  bool
	AllowMargin bool
}

func DefaultConstraints() Constraints {
	return Constraints{AllowShort: true, AllowMargin: true}
}

type State struct {
	symbols     []string
	feed        service.PriceFeed
	constraints Constraints

	// indicatorPeriod > 0 appends indicator features to Vector.
	indicatorPeriod int

	cash     float64
	holdings []int
	date     time.Time
	tod      model.TimeOfDay
}

type Option func(*State)

func WithConstraints(c Constraints) Option {
	return func(s *State) {
		s.constraints = c
	}
}

// WithIndicators appends RSI and SMA features computed over period closes.
func WithIndicators(period int) Option {
	return func(s *State) {
		s.indicatorPeriod = period
	}
}

func New(feed service.PriceFeed, symbols []string, cash float64, holdings []int, date time.Time,
	tod model.TimeOfDay, options ...Option) (*State, error) {

	s := &State{
		symbols:     append([]string(nil), symbols...),
		feed:        feed,
		constraints: DefaultConstraints(),
	}
	for _, option := range options {
		option(s)
	}
	if err := s.Reset(cash, holdings, date, tod); err != nil {
		return nil, err
	}
	return s, nil
}

// Prices returns the open or close price of every symbol on date.
func (s *State) Prices(date time.Time, tod model.TimeOfDay) ([]float64, error) {
	prices := make([]float64, len(s.symbols))
	for i, symbol := range s.symbols {
		price, err := s.feed.Price(symbol, date, tod)
		if err != nil {
			return nil, err
		}
		prices[i] = price
	}
	return prices, nil
}

// NewHoldings applies action (shares to buy when positive, sell when negative)
// at prices and returns the resulting holdings and cash. The state is not
// modified. With the default constraints cash may go negative and holdings
// may go short.
func (s *State) NewHoldings(action []int, prices []float64) ([]int, float64) {
	holdings := make([]int, len(s.holdings))
	copy(holdings, s.holdings)
	cash := s.cash

	// sells settle before buys so their proceeds can fund the buys
	for _, selling := range []bool{true, false} {
		for i := range holdings {
			if i >= len(action) || (action[i] < 0) != selling {
				continue
			}
			qty := s.constrain(action[i], holdings[i], prices[i], cash)
			holdings[i] += qty
			cash -= float64(qty) * prices[i]
		}
	}

	return holdings, cash
}

func (s *State) constrain(qty, held int, price, cash float64) int {
	if qty < 0 && !s.constraints.AllowShort && held+qty < 0 {
		if held < 0 {
			return 0
		}
		return -held
	}
	if qty > 0 && !s.constraints.AllowMargin {
		affordable := 0
		if price > 0 && cash > 0 {
			affordable = int(math.Floor(cash / price))
		}
		if qty > affordable {
			return affordable
		}
	}
	return qty
}

// Advance replaces the state in place.
func (s *State) Advance(cash float64, holdings []int, date time.Time, tod model.TimeOfDay) {
	s.cash = cash
	s.holdings = append(s.holdings[:0], holdings...)
	s.date = date
	s.tod = tod
}

// Reset reinitialises the state in place.
func (s *State) Reset(cash float64, holdings []int, date time.Time, tod model.TimeOfDay) error {
	if len(holdings) != len(s.symbols) {
		return fmt.Errorf("holdings: expected %d values, got %d: %w",
			len(s.symbols), len(holdings), model.ErrDimensionMismatch)
	}
	s.Advance(cash, holdings, date, tod)
	return nil
}

// Value is cash plus holdings marked at the current date and time.
func (s *State) Value() (float64, error) {
	prices, err := s.Prices(s.date, s.tod)
	if err != nil {
		return 0, err
	}
	return Value(s.cash, s.holdings, prices), nil
}

// Value marks holdings to prices and adds cash.
func Value(cash float64, holdings []int, prices []float64) float64 {
	return cash + lo.Sum(lo.Map(holdings, func(h int, i int) float64 {
		return float64(h) * prices[i]
	}))
}

// Dim is the length of Vector.
func (s *State) Dim() int {
	dim := 1 + 2*len(s.symbols)
	if s.indicatorPeriod > 0 {
		dim += indicator.FeaturesPerSymbol * len(s.symbols)
	}
	return dim
}

// Vector encodes the state as [cash, holdings..., prices...] followed by
// indicator features when enabled.
func (s *State) Vector() ([]float64, error) {
	prices, err := s.Prices(s.date, s.tod)
	if err != nil {
		return nil, err
	}

	vec := make([]float64, 0, s.Dim())
	vec = append(vec, s.cash)
	for _, h := range s.holdings {
		vec = append(vec, float64(h))
	}
	vec = append(vec, prices...)

	if s.indicatorPeriod > 0 {
		// the close of the current day is unknown at the open
		until := s.date
		if s.tod == model.Open {
			until = until.AddDate(0, 0, -1)
		}
		for _, symbol := range s.symbols {
			closes, err := s.feed.Closes(symbol, until, indicator.Window(s.indicatorPeriod))
			if err != nil {
				return nil, err
			}
			vec = append(vec, indicator.Features(closes, s.indicatorPeriod)...)
		}
	}

	return vec, nil
}

func (s *State) Cash() float64 {
	return s.cash
}

func (s *State) Holdings() []int {
	return append([]int(nil), s.holdings...)
}

func (s *State) Date() time.Time {
	return s.date
}

func (s *State) TimeOfDay() model.TimeOfDay {
	return s.tod
}

func (s *State) Symbols() []string {
	return append([]string(nil), s.symbols...)
}
