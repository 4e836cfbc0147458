// Package report exports the portfolio value series of a test run.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ezquant/azrl/azrl/model"
)

var header = []string{"Date", "Portfolio Value"}

type Row struct {
	Date      time.Time
	TimeOfDay model.TimeOfDay
	Value     float64
}

type Rows []Row

// Timestamp renders the row date as "2006-01-02 09:30AM".
func (r Row) Timestamp() string {
	return r.Date.Format("2006-01-02") + " " + r.TimeOfDay.Clock()
}

// Rounded is the value rounded half away from zero to cents.
func (r Row) Rounded() decimal.Decimal {
	return decimal.NewFromFloat(r.Value).Round(2)
}

// Last returns the last row, or false when there are none.
func (rs Rows) Last() (Row, bool) {
	if len(rs) == 0 {
		return Row{}, false
	}
	return rs[len(rs)-1], true
}

// Return is the relative change from the first to the last value.
func (rs Rows) Return() float64 {
	if len(rs) < 2 || rs[0].Value == 0 {
		return 0
	}
	return rs[len(rs)-1].Value/rs[0].Value - 1
}

// WriteCSV writes a Date, Portfolio Value table.
func WriteCSV(w io.Writer, rows Rows) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{row.Timestamp(), row.Rounded().String()}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func WriteFile(path string, rows Rows) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteCSV(file, rows); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}
