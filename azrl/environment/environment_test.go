package environment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezquant/azrl/azrl/exchange"
	"github.com/ezquant/azrl/azrl/model"
	"github.com/ezquant/azrl/azrl/portfolio"
)

func date(month time.Month, day int) time.Time {
	return time.Date(2020, month, day, 0, 0, 0, 0, time.UTC)
}

// january is Jan 1-13 2020 without the weekend of the 4th and 5th and the 11th and 12th.
func january() []time.Time {
	return []time.Time{
		date(1, 1), date(1, 2), date(1, 3),
		date(1, 6), date(1, 7), date(1, 8), date(1, 9), date(1, 10),
		date(1, 13),
	}
}

func testMarket() (*exchange.CSVFeed, *exchange.Calendar) {
	days := january()
	bars := make([]exchange.Bar, 0, len(days))
	for i, d := range days {
		bars = append(bars, exchange.Bar{Date: d, Open: 100 + 2*float64(i), Close: 102 + 2*float64(i)})
	}
	return exchange.NewMemoryFeed(map[string][]exchange.Bar{"AAA": bars}), exchange.NewCalendar(days...)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("01-11-2020")
	require.NoError(t, err)
	assert.Equal(t, date(1, 11), d)

	for _, invalid := range []string{"2020-01-11", "01/11/2020", "13-01-2020", "02-30-2020", "00-11-2020",
		"-1-11-2020", "a-11-2020", "01-11", ""} {
		_, err := ParseDate(invalid)
		assert.ErrorIs(t, err, model.ErrInvalidDateRange, invalid)
	}
}

func TestParseRange(t *testing.T) {
	start, end, days, err := ParseRange("01-01-2020", "01-11-2020")
	require.NoError(t, err)
	assert.Equal(t, date(1, 1), start)
	assert.Equal(t, date(1, 11), end)
	assert.Equal(t, 10, days)

	_, _, _, err = ParseRange("01-11-2020", "01-01-2020")
	assert.ErrorIs(t, err, model.ErrInvalidDateRange)
}

func TestDaysBetween(t *testing.T) {
	day := func(year int, month time.Month, d int) time.Time {
		return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
	}
	assert.Equal(t, 1, daysBetween(day(2020, 2, 28), day(2020, 2, 29)))
	assert.Equal(t, 2, daysBetween(day(2019, 2, 28), day(2019, 3, 2)))
	assert.Equal(t, 366, daysBetween(day(2020, 1, 1), day(2021, 1, 1)))
	assert.Equal(t, -10, daysBetween(day(2020, 1, 11), day(2020, 1, 1)))

	// longer than a time.Duration can hold
	_, _, days, err := ParseRange("01-01-1900", "01-01-2500")
	require.NoError(t, err)
	assert.Equal(t, 219146, days)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, -1, floorDiv(-1, 2))
	assert.Equal(t, 0, floorDiv(0, 2))
	assert.Equal(t, 0, floorDiv(1, 2))
	assert.Equal(t, 1, floorDiv(3, 2))
}

func TestNew(t *testing.T) {
	feed, calendar := testMarket()

	t.Run("max epoch", func(t *testing.T) {
		env, err := New(feed, calendar, []string{"AAA"}, "01-01-2020", "01-11-2020")
		require.NoError(t, err)
		assert.Equal(t, 20, env.MaxEpoch())
		assert.Equal(t, 3, env.StateDim())
		assert.Equal(t, 1, env.ActionDim())
	})

	t.Run("invalid range", func(t *testing.T) {
		_, err := New(feed, calendar, []string{"AAA"}, "01-11-2020", "01-01-2020")
		assert.ErrorIs(t, err, model.ErrInvalidDateRange)
	})

	t.Run("no symbols", func(t *testing.T) {
		_, err := New(feed, calendar, nil, "01-01-2020", "01-11-2020")
		assert.Error(t, err)
	})

	t.Run("starting amount bounds", func(t *testing.T) {
		_, err := New(feed, calendar, []string{"AAA"}, "01-01-2020", "01-11-2020",
			WithStartingAmount(200, 100))
		assert.Error(t, err)
	})
}

func TestReset(t *testing.T) {
	feed, calendar := testMarket()

	t.Run("deterministic", func(t *testing.T) {
		env, err := New(feed, calendar, []string{"AAA"}, "01-01-2020", "01-11-2020",
			WithStartingAmount(1000, 10000))
		require.NoError(t, err)

		state, err := env.Reset()
		require.NoError(t, err)
		assert.Equal(t, []float64{10000, 0, 100}, state)
		assert.Equal(t, 0, env.Epoch())
		assert.Equal(t, 10000.0, env.StartingValue())

		d, tod := env.DateAndTime()
		assert.Equal(t, date(1, 1), d)
		assert.Equal(t, model.Open, tod)
	})

	t.Run("random", func(t *testing.T) {
		env, err := New(feed, calendar, []string{"AAA"}, "01-01-2020", "01-11-2020",
			WithStartingAmount(1000, 2000), WithRandomStart(true), WithSeed(7))
		require.NoError(t, err)

		for i := 0; i < 50; i++ {
			_, err := env.Reset()
			require.NoError(t, err)

			// the first 20% of a 10 day range is two days
			assert.GreaterOrEqual(t, env.Epoch(), 0)
			assert.LessOrEqual(t, env.Epoch(), 3)
			assert.GreaterOrEqual(t, env.Cash(), 1000.0)
			assert.LessOrEqual(t, env.Cash(), 2000.0)
			for _, h := range env.Holdings() {
				assert.GreaterOrEqual(t, h, 0)
				assert.LessOrEqual(t, h, MaxStartingShares)
			}

			value, err := env.Value()
			require.NoError(t, err)
			assert.Equal(t, value, env.StartingValue())
		}
	})
}

func TestStep(t *testing.T) {
	feed, calendar := testMarket()

	t.Run("scenario", func(t *testing.T) {
		env, err := New(feed, calendar, []string{"AAA"}, "01-01-2020", "01-11-2020",
			WithStartingAmount(10000, 10000))
		require.NoError(t, err)

		next, reward, done, err := env.Step([]int{5})
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, []int{5}, env.Holdings())
		assert.Equal(t, 9500.0, env.Cash())
		assert.Equal(t, []float64{9500, 5, 102}, next)
		assert.Equal(t, 9500+5*102-10000.0, reward)

		d, tod := env.DateAndTime()
		assert.Equal(t, date(1, 1), d)
		assert.Equal(t, model.Close, tod)
	})

	t.Run("reward is relative to the episode start", func(t *testing.T) {
		env, err := New(feed, calendar, []string{"AAA"}, "01-01-2020", "01-11-2020",
			WithStartingAmount(10000, 10000))
		require.NoError(t, err)

		_, _, _, err = env.Step([]int{5})
		require.NoError(t, err)
		next, reward, _, err := env.Step([]int{0})
		require.NoError(t, err)

		// Jan 2 open is 102
		assert.Equal(t, 102.0, next[2])
		assert.Equal(t, 9500+5*102-env.StartingValue(), reward)
	})

	t.Run("epochs skip closed days until done", func(t *testing.T) {
		env, err := New(feed, calendar, []string{"AAA"}, "01-01-2020", "01-11-2020")
		require.NoError(t, err)

		epochs := []int{env.Epoch()}
		done := false
		for !done {
			_, _, done, err = env.Step([]int{0})
			require.NoError(t, err)
			last := epochs[len(epochs)-1]
			require.Greater(t, env.Epoch(), last)
			d, _ := env.DateAndTime()
			assert.True(t, calendar.IsTradingDay(d), d)
			epochs = append(epochs, env.Epoch())
			assert.Equal(t, env.Epoch() >= env.MaxEpoch(), env.IsDone())
		}
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 24}, epochs)
	})

	t.Run("action dimension", func(t *testing.T) {
		env, err := New(feed, calendar, []string{"AAA"}, "01-01-2020", "01-11-2020")
		require.NoError(t, err)
		_, _, _, err = env.Step([]int{1, 2})
		assert.ErrorIs(t, err, model.ErrDimensionMismatch)
	})

	t.Run("out of range", func(t *testing.T) {
		single := exchange.NewCalendar(date(1, 1))
		env, err := New(feed, single, []string{"AAA"}, "01-01-2020", "02-28-2020")
		require.NoError(t, err)

		_, _, _, err = env.Step([]int{0})
		require.NoError(t, err)
		_, _, _, err = env.Step([]int{0})
		assert.ErrorIs(t, err, model.ErrOutOfRange)
	})

	t.Run("constrained", func(t *testing.T) {
		env, err := New(feed, calendar, []string{"AAA"}, "01-01-2020", "01-11-2020",
			WithStartingAmount(150, 150), WithConstraints(portfolio.Constraints{}))
		require.NoError(t, err)

		_, _, _, err = env.Step([]int{5})
		require.NoError(t, err)
		assert.Equal(t, []int{1}, env.Holdings())
		assert.Equal(t, 50.0, env.Cash())
	})
}
