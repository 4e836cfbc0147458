// Package environment simulates the market a trading agent acts in. Time
// advances in half-day epochs (the open and the close of each trading day)
// and the reward is the profit or loss since the start of the episode.
package environment

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ezquant/azrl/azrl/model"
	"github.com/ezquant/azrl/azrl/portfolio"
	"github.com/ezquant/azrl/azrl/service"
	"github.com/ezquant/azrl/azrl/tools/log"
)

const (
	// MaxLimit bounds the shares bought or sold per stock in one step.
	MaxLimit = 10
	// MaxStartingShares bounds the random holdings given on a random start.
	MaxStartingShares = 10

	maxSearch         = 20
	randomStartWindow = 0.2

	defaultStartingAmountLower = 10000
	defaultStartingAmountUpper = 50000
)

type Env struct {
	feed     service.PriceFeed
	calendar service.Calendar
	symbols  []string

	start    time.Time
	end      time.Time
	days     int
	maxEpoch int
	epoch    int

	startingAmountLower int
	startingAmountUpper int
	randomStart         bool
	rng                 *rand.Rand

	state            *portfolio.State
	portfolioOptions []portfolio.Option
	startingValue    float64
}

type Option func(*Env)

// WithStartingAmount sets the bounds of the starting cash. Deterministic
// resets always start with upper.
func WithStartingAmount(lower, upper int) Option {
	return func(e *Env) {
		e.startingAmountLower = lower
		e.startingAmountUpper = upper
	}
}

// WithRandomStart makes Reset pick a random entry point, cash and holdings.
func WithRandomStart(random bool) Option {
	return func(e *Env) {
		e.randomStart = random
	}
}

func WithSeed(seed int64) Option {
	return func(e *Env) {
		e.rng = rand.New(rand.NewSource(seed))
	}
}

func WithConstraints(c portfolio.Constraints) Option {
	return func(e *Env) {
		e.portfolioOptions = append(e.portfolioOptions, portfolio.WithConstraints(c))
	}
}

func WithIndicators(period int) Option {
	return func(e *Env) {
		if period > 0 {
			e.portfolioOptions = append(e.portfolioOptions, portfolio.WithIndicators(period))
		}
	}
}

// New validates the MM-DD-YYYY date range and resets the environment once.
func New(feed service.PriceFeed, calendar service.Calendar, symbols []string, startDate, endDate string,
	options ...Option) (*Env, error) {

	if len(symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}

	start, end, days, err := ParseRange(startDate, endDate)
	if err != nil {
		return nil, err
	}

	env := &Env{
		feed:                feed,
		calendar:            calendar,
		symbols:             append([]string(nil), symbols...),
		start:               start,
		end:                 end,
		days:                days,
		maxEpoch:            2 * days,
		startingAmountLower: defaultStartingAmountLower,
		startingAmountUpper: defaultStartingAmountUpper,
	}
	for _, option := range options {
		option(env)
	}
	if env.rng == nil {
		env.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if env.startingAmountLower > env.startingAmountUpper {
		return nil, fmt.Errorf("starting amount lower %d above upper %d",
			env.startingAmountLower, env.startingAmountUpper)
	}

	if _, err := env.Reset(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"symbols":   symbols,
		"start":     start.Format("2006-01-02"),
		"end":       end.Format("2006-01-02"),
		"max_epoch": env.maxEpoch,
	}).Debug("environment initialized")

	return env, nil
}

// Step buys (positive) or sells (negative) action[i] shares of each stock at
// the current prices, advances one epoch and returns the new state vector,
// the reward and whether the episode is over.
func (e *Env) Step(action []int) ([]float64, float64, bool, error) {
	if len(action) != len(e.symbols) {
		return nil, 0, false, fmt.Errorf("action: expected %d values, got %d: %w",
			len(e.symbols), len(action), model.ErrDimensionMismatch)
	}

	date, tod := e.DateAndTime()
	oldPrices, err := e.state.Prices(date, tod)
	if err != nil {
		return nil, 0, false, err
	}
	holdings, cash := e.state.NewHoldings(action, oldPrices)

	if err := e.incrementDate(); err != nil {
		return nil, 0, false, err
	}

	newDate, newTod := e.DateAndTime()
	newPrices, err := e.state.Prices(newDate, newTod)
	if err != nil {
		return nil, 0, false, err
	}
	e.state.Advance(cash, holdings, newDate, newTod)

	reward := e.reward(holdings, cash, newPrices)
	next, err := e.state.Vector()
	if err != nil {
		return nil, 0, false, err
	}
	return next, reward, e.IsDone(), nil
}

// reward is the profit or loss relative to the value at reset, not the change
// since the previous step.
func (e *Env) reward(holdings []int, cash float64, prices []float64) float64 {
	return portfolio.Value(cash, holdings, prices) - e.startingValue
}

// incrementDate moves one epoch forward, skipping dates the market was closed.
func (e *Env) incrementDate() error {
	incr := 1
	date := e.dateAt(e.epoch + incr)
	for !e.calendar.IsTradingDay(date) {
		incr++
		date = e.dateAt(e.epoch + incr)
		if incr >= maxSearch {
			return fmt.Errorf("%s: %w", date.Format("2006-01-02"), model.ErrOutOfRange)
		}
	}
	e.epoch += incr
	return nil
}

func (e *Env) dateAt(epoch int) time.Time {
	return e.start.AddDate(0, 0, floorDiv(epoch, 2))
}

// IsDone reports whether the episode reached the end of the date range.
func (e *Env) IsDone() bool {
	return e.epoch >= e.maxEpoch
}

// Reset starts a new episode and returns its first state vector.
func (e *Env) Reset() ([]float64, error) {
	cash := e.startingAmountUpper
	holdings := make([]int, len(e.symbols))
	if e.randomStart {
		cash = e.startingAmountLower + e.rng.Intn(e.startingAmountUpper-e.startingAmountLower+1)
		for i := range holdings {
			holdings[i] = e.rng.Intn(MaxStartingShares + 1)
		}
	}

	if err := e.initializeStartingEpoch(); err != nil {
		return nil, err
	}

	date, tod := e.DateAndTime()
	if e.state == nil {
		state, err := portfolio.New(e.feed, e.symbols, float64(cash), holdings, date, tod, e.portfolioOptions...)
		if err != nil {
			return nil, err
		}
		e.state = state
	} else if err := e.state.Reset(float64(cash), holdings, date, tod); err != nil {
		return nil, err
	}

	value, err := e.state.Value()
	if err != nil {
		return nil, err
	}
	e.startingValue = value

	return e.state.Vector()
}

func (e *Env) initializeStartingEpoch() error {
	e.epoch = -1
	if e.randomStart {
		e.epoch = -1 + e.rng.Intn(int(float64(e.days)*randomStartWindow)+2)
	}
	// land on a trading day
	return e.incrementDate()
}

// DateAndTime returns the date and half of day of the current epoch.
func (e *Env) DateAndTime() (time.Time, model.TimeOfDay) {
	tod := model.Open
	if e.epoch%2 != 0 {
		tod = model.Close
	}
	return e.dateAt(e.epoch), tod
}

// Value is the current portfolio value.
func (e *Env) Value() (float64, error) {
	return e.state.Value()
}

func (e *Env) Holdings() []int {
	return e.state.Holdings()
}

func (e *Env) Cash() float64 {
	return e.state.Cash()
}

func (e *Env) StartingValue() float64 {
	return e.startingValue
}

func (e *Env) StateDim() int {
	return e.state.Dim()
}

func (e *Env) ActionDim() int {
	return len(e.symbols)
}

func (e *Env) Epoch() int {
	return e.epoch
}

func (e *Env) MaxEpoch() int {
	return e.maxEpoch
}

func (e *Env) Symbols() []string {
	return append([]string(nil), e.symbols...)
}
