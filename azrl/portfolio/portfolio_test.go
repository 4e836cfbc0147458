package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezquant/azrl/azrl/exchange"
	"github.com/ezquant/azrl/azrl/model"
)

var (
	day0 = time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	day1 = time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC)
)

func testFeed() *exchange.CSVFeed {
	return exchange.NewMemoryFeed(map[string][]exchange.Bar{
		"AAA": {
			{Date: day0, Open: 100, Close: 102},
			{Date: day1, Open: 103, Close: 101},
		},
		"BBB": {
			{Date: day0, Open: 50, Close: 49},
			{Date: day1, Open: 48, Close: 52},
		},
	})
}

func TestNewHoldings(t *testing.T) {
	state, err := New(testFeed(), []string{"AAA"}, 10000, []int{0}, day0, model.Open)
	require.NoError(t, err)

	prices, err := state.Prices(day0, model.Open)
	require.NoError(t, err)
	require.Equal(t, []float64{100}, prices)

	holdings, cash := state.NewHoldings([]int{5}, prices)
	assert.Equal(t, []int{5}, holdings)
	assert.Equal(t, 9500.0, cash)

	// the state itself is untouched until Advance
	assert.Equal(t, []int{0}, state.Holdings())
	assert.Equal(t, 10000.0, state.Cash())
}

func TestNewHoldingsUnconstrained(t *testing.T) {
	state, err := New(testFeed(), []string{"AAA", "BBB"}, 100, []int{0, 1}, day0, model.Open)
	require.NoError(t, err)

	holdings, cash := state.NewHoldings([]int{10, -3}, []float64{100, 50})
	assert.Equal(t, []int{10, -2}, holdings)
	assert.Equal(t, 100-1000+150.0, cash)
}

func TestNewHoldingsConstrained(t *testing.T) {
	state, err := New(testFeed(), []string{"AAA", "BBB"}, 250, []int{0, 1}, day0, model.Open,
		WithConstraints(Constraints{}))
	require.NoError(t, err)

	holdings, cash := state.NewHoldings([]int{10, -3}, []float64{100, 50})
	// sell is capped at the one share held, buy at what 250+50 affords
	assert.Equal(t, []int{3, 0}, holdings)
	assert.Equal(t, 0.0, cash)
}

func TestAdvanceAndValue(t *testing.T) {
	state, err := New(testFeed(), []string{"AAA", "BBB"}, 1000, []int{0, 0}, day0, model.Open)
	require.NoError(t, err)

	state.Advance(500, []int{2, 6}, day0, model.Close)
	value, err := state.Value()
	require.NoError(t, err)
	assert.Equal(t, 500+2*102+6*49.0, value)

	vec, err := state.Vector()
	require.NoError(t, err)
	assert.Equal(t, []float64{500, 2, 6, 102, 49}, vec)
	assert.Equal(t, state.Dim(), len(vec))
	assert.Equal(t, day0, state.Date())
	assert.Equal(t, model.Close, state.TimeOfDay())
}

func TestHoldingsAreCopies(t *testing.T) {
	state, err := New(testFeed(), []string{"AAA"}, 1000, []int{1}, day0, model.Open)
	require.NoError(t, err)

	holdings := state.Holdings()
	holdings[0] = 99
	assert.Equal(t, []int{1}, state.Holdings())
}

func TestReset(t *testing.T) {
	state, err := New(testFeed(), []string{"AAA"}, 1000, []int{1}, day0, model.Open)
	require.NoError(t, err)

	require.NoError(t, state.Reset(2000, []int{4}, day1, model.Close))
	assert.Equal(t, 2000.0, state.Cash())
	assert.Equal(t, []int{4}, state.Holdings())
	assert.Equal(t, day1, state.Date())

	require.ErrorIs(t, state.Reset(2000, []int{1, 2}, day1, model.Close), model.ErrDimensionMismatch)
}

func TestPricesMissing(t *testing.T) {
	state, err := New(testFeed(), []string{"AAA"}, 1000, []int{0}, day0, model.Open)
	require.NoError(t, err)

	_, err = state.Prices(day0.AddDate(0, 0, 10), model.Open)
	require.ErrorIs(t, err, model.ErrDataNotFound)
}

func TestVectorWithIndicators(t *testing.T) {
	state, err := New(testFeed(), []string{"AAA"}, 1000, []int{0}, day1, model.Close, WithIndicators(14))
	require.NoError(t, err)

	vec, err := state.Vector()
	require.NoError(t, err)
	assert.Len(t, vec, state.Dim())
	assert.Equal(t, 5, state.Dim())
	// not enough history yet
	assert.Equal(t, []float64{0, 0}, vec[3:])
}
