package exchange

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/exp/slices"

	"github.com/ezquant/azrl/azrl/model"
	"github.com/ezquant/azrl/azrl/service"
)

const DateLayout = "2006-01-02"

var _ service.PriceFeed = (*CSVFeed)(nil)

// Bar is a daily price row.
type Bar struct {
	Date  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// StockFeed points a symbol at its CSV file.
type StockFeed struct {
	Symbol string
	File   string
}

// CSVFeed serves daily open/close prices read from one CSV file per symbol.
type CSVFeed struct {
	bars  map[string]map[string]Bar
	days  map[string][]string
	order []string
}

// NewCSVFeed loads the given files. Each file needs a header with at least
// Date, Open and Close columns; dates use the YYYY-MM-DD layout.
func NewCSVFeed(feeds ...StockFeed) (*CSVFeed, error) {
	feed := newFeed()
	for _, f := range feeds {
		file, err := os.Open(f.File)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.File, err)
		}
		bars, err := ReadBars(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.File, err)
		}
		feed.add(f.Symbol, bars)
	}
	return feed, nil
}

// NewMemoryFeed builds a feed from bars already in memory.
func NewMemoryFeed(bars map[string][]Bar) *CSVFeed {
	feed := newFeed()
	symbols := lo.Keys(bars)
	slices.Sort(symbols)
	for _, symbol := range symbols {
		feed.add(symbol, bars[symbol])
	}
	return feed
}

func newFeed() *CSVFeed {
	return &CSVFeed{
		bars: make(map[string]map[string]Bar),
		days: make(map[string][]string),
	}
}

func (c *CSVFeed) add(symbol string, bars []Bar) {
	index := make(map[string]Bar, len(bars))
	for _, bar := range bars {
		index[bar.Date.Format(DateLayout)] = bar
	}
	days := lo.Keys(index)
	slices.Sort(days)

	if _, ok := c.bars[symbol]; !ok {
		c.order = append(c.order, symbol)
	}
	c.bars[symbol] = index
	c.days[symbol] = days
}

// Symbols returns the loaded symbols in load order.
func (c *CSVFeed) Symbols() []string {
	return slices.Clone(c.order)
}

// Days returns the sorted trading days known for symbol.
func (c *CSVFeed) Days(symbol string) []string {
	return slices.Clone(c.days[symbol])
}

func (c *CSVFeed) Price(symbol string, date time.Time, tod model.TimeOfDay) (float64, error) {
	key := date.Format(DateLayout)
	bar, ok := c.bars[symbol][key]
	if !ok {
		return 0, fmt.Errorf("%s at %s %s: %w", symbol, key, tod, model.ErrDataNotFound)
	}
	if tod == model.Open {
		return bar.Open, nil
	}
	return bar.Close, nil
}

func (c *CSVFeed) Closes(symbol string, date time.Time, n int) ([]float64, error) {
	days, ok := c.days[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, model.ErrDataNotFound)
	}
	if n <= 0 {
		return nil, nil
	}
	key := date.Format(DateLayout)
	end := slices.BinarySearch(days, key)
	if end < len(days) && days[end] == key {
		end++
	}
	start := end - n
	if start < 0 {
		start = 0
	}
	return lo.Map(days[start:end], func(day string, _ int) float64 {
		return c.bars[symbol][day].Close
	}), nil
}

// ReadBars parses a price CSV.
func ReadBars(r io.Reader) ([]Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range []string{"date", "open", "close"} {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var bars []Bar
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		date, err := time.Parse(DateLayout, strings.TrimSpace(record[columns["date"]]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		bar := Bar{Date: date}
		if bar.Open, err = parseField(record, columns, "open"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if bar.Close, err = parseField(record, columns, "close"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bar.High, _ = parseField(record, columns, "high")
		bar.Low, _ = parseField(record, columns, "low")
		bars = append(bars, bar)
	}

	return bars, nil
}

func parseField(record []string, columns map[string]int, name string) (float64, error) {
	i, ok := columns[name]
	if !ok || i >= len(record) {
		return 0, fmt.Errorf("missing %s", name)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return value, nil
}
