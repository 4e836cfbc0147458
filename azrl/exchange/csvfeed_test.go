package exchange

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezquant/azrl/azrl/model"
)

const spyCSV = `Date,Open,High,Low,Close,Adj Close,Volume
2020-01-02,323.54,324.89,322.53,324.87,316.24,59151200
2020-01-03,321.16,323.64,321.10,322.41,313.85,77709700
2020-01-06,320.49,323.73,320.36,323.64,315.05,55653900
`

func day(s string) time.Time {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestReadBars(t *testing.T) {
	bars, err := ReadBars(strings.NewReader(spyCSV))
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, day("2020-01-02"), bars[0].Date)
	assert.Equal(t, 323.54, bars[0].Open)
	assert.Equal(t, 324.87, bars[0].Close)
	assert.Equal(t, 322.53, bars[0].Low)
}

func TestReadBarsMissingColumn(t *testing.T) {
	_, err := ReadBars(strings.NewReader("Date,Open\n2020-01-02,1\n"))
	require.Error(t, err)
}

func TestCSVFeed(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "SPY.csv")
	require.NoError(t, os.WriteFile(file, []byte(spyCSV), 0o644))

	feed, err := NewCSVFeed(StockFeed{Symbol: "SPY", File: file})
	require.NoError(t, err)
	assert.Equal(t, []string{"SPY"}, feed.Symbols())

	t.Run("open and close", func(t *testing.T) {
		open, err := feed.Price("SPY", day("2020-01-03"), model.Open)
		require.NoError(t, err)
		assert.Equal(t, 321.16, open)

		closePrice, err := feed.Price("SPY", day("2020-01-03"), model.Close)
		require.NoError(t, err)
		assert.Equal(t, 322.41, closePrice)
	})

	t.Run("missing date", func(t *testing.T) {
		_, err := feed.Price("SPY", day("2020-01-04"), model.Open)
		require.ErrorIs(t, err, model.ErrDataNotFound)
	})

	t.Run("missing symbol", func(t *testing.T) {
		_, err := feed.Price("QQQ", day("2020-01-03"), model.Open)
		require.ErrorIs(t, err, model.ErrDataNotFound)
	})

	t.Run("closes window", func(t *testing.T) {
		closes, err := feed.Closes("SPY", day("2020-01-05"), 5)
		require.NoError(t, err)
		assert.Equal(t, []float64{324.87, 322.41}, closes)

		closes, err = feed.Closes("SPY", day("2020-01-06"), 2)
		require.NoError(t, err)
		assert.Equal(t, []float64{322.41, 323.64}, closes)
	})
}

func TestCalendar(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "SPY.csv")
	require.NoError(t, os.WriteFile(file, []byte(spyCSV), 0o644))

	calendar, err := CalendarFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, 3, calendar.Len())
	assert.True(t, calendar.IsTradingDay(day("2020-01-02")))
	assert.False(t, calendar.IsTradingDay(day("2020-01-04")))
	assert.Equal(t, []string{"2020-01-02", "2020-01-03", "2020-01-06"}, calendar.Days())

	feed := NewMemoryFeed(map[string][]Bar{"SPY": {{Date: day("2020-01-02"), Open: 1, Close: 2}}})
	assert.True(t, CalendarFromFeed(feed, "SPY").IsTradingDay(day("2020-01-02")))
}

func TestCalendarDuplicateDays(t *testing.T) {
	calendar := NewCalendar(day("2020-01-03"), day("2020-01-02"), day("2020-01-03"))
	assert.Equal(t, 2, calendar.Len())
	assert.Equal(t, []string{"2020-01-02", "2020-01-03"}, calendar.Days())
	assert.False(t, calendar.IsTradingDay(day("2020-01-01")))
}
