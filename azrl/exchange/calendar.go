package exchange

import (
	"fmt"
	"os"
	"time"

	"github.com/StudioSol/set"
	"golang.org/x/exp/slices"

	"github.com/ezquant/azrl/azrl/service"
)

var _ service.Calendar = (*Calendar)(nil)

// Calendar is the set of dates the market traded on.
type Calendar struct {
	days *set.LinkedHashSetString
}

func NewCalendar(days ...time.Time) *Calendar {
	c := &Calendar{days: set.NewLinkedHashSetString()}
	for _, day := range days {
		c.days.Add(day.Format(DateLayout))
	}
	return c
}

// CalendarFromFile reads trading days from the Date column of a price CSV.
func CalendarFromFile(path string) (*Calendar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open calendar %s: %w", path, err)
	}
	defer file.Close()

	bars, err := ReadBars(file)
	if err != nil {
		return nil, fmt.Errorf("read calendar %s: %w", path, err)
	}

	days := make([]time.Time, len(bars))
	for i, bar := range bars {
		days[i] = bar.Date
	}
	return NewCalendar(days...), nil
}

// CalendarFromFeed uses the days recorded for symbol.
func CalendarFromFeed(feed *CSVFeed, symbol string) *Calendar {
	return &Calendar{days: set.NewLinkedHashSetString(feed.Days(symbol)...)}
}

func (c *Calendar) IsTradingDay(date time.Time) bool {
	return c.days.InArray(date.Format(DateLayout))
}

func (c *Calendar) Len() int {
	return c.days.Length()
}

// Days returns the trading days in ascending order.
func (c *Calendar) Days() []string {
	days := c.days.AsSlice()
	slices.Sort(days)
	return days
}
