// Package download fetches daily price CSVs for the symbols to trade.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jpillora/backoff"

	"github.com/ezquant/azrl/azrl/exchange"
	"github.com/ezquant/azrl/azrl/tools/log"
)

// SymbolPlaceholder is replaced by the symbol in the URL template.
const SymbolPlaceholder = "{symbol}"

var errRetryable = errors.New("retryable response")

type Downloader struct {
	client      *resty.Client
	urlTemplate string
	directory   string
	retries     int
	backoff     *backoff.Backoff
}

type Option func(*Downloader)

func WithRetries(retries int) Option {
	return func(d *Downloader) {
		d.retries = retries
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(d *Downloader) {
		if timeout > 0 {
			d.client.SetTimeout(timeout)
		}
	}
}

func WithBackoff(min, max time.Duration) Option {
	return func(d *Downloader) {
		d.backoff.Min = min
		d.backoff.Max = max
	}
}

func New(urlTemplate, directory string, options ...Option) (*Downloader, error) {
	if !strings.Contains(urlTemplate, SymbolPlaceholder) {
		return nil, fmt.Errorf("url template %q has no %s", urlTemplate, SymbolPlaceholder)
	}

	d := &Downloader{
		client:      resty.New().SetHeader("Accept", "text/csv"),
		urlTemplate: urlTemplate,
		directory:   directory,
		retries:     5,
		backoff: &backoff.Backoff{
			Min:    500 * time.Millisecond,
			Max:    30 * time.Second,
			Factor: 2,
			Jitter: true,
		},
	}
	for _, option := range options {
		option(d)
	}
	return d, nil
}

// Download fetches the CSV of symbol and writes it to <directory>/<symbol>.csv.
// Server errors and throttling are retried with backoff; the body must parse
// as price bars.
func (d *Downloader) Download(ctx context.Context, symbol string) (exchange.StockFeed, error) {
	url := strings.ReplaceAll(d.urlTemplate, SymbolPlaceholder, symbol)
	d.backoff.Reset()

	var body []byte
	for attempt := 0; ; attempt++ {
		var err error
		body, err = d.fetch(ctx, url)
		if err == nil {
			break
		}
		if !errors.Is(err, errRetryable) || attempt >= d.retries {
			return exchange.StockFeed{}, fmt.Errorf("download %s: %w", symbol, err)
		}

		wait := d.backoff.Duration()
		log.WithFields(log.Fields{
			"symbol":  symbol,
			"attempt": attempt + 1,
			"wait":    wait,
		}).WithError(err).Warn("download failed, retrying")

		select {
		case <-ctx.Done():
			return exchange.StockFeed{}, ctx.Err()
		case <-time.After(wait):
		}
	}

	bars, err := exchange.ReadBars(bytes.NewReader(body))
	if err != nil {
		return exchange.StockFeed{}, fmt.Errorf("download %s: %w", symbol, err)
	}

	if err := os.MkdirAll(d.directory, 0755); err != nil {
		return exchange.StockFeed{}, err
	}
	path := filepath.Join(d.directory, symbol+".csv")
	if err := os.WriteFile(path, body, 0644); err != nil {
		return exchange.StockFeed{}, err
	}

	log.WithFields(log.Fields{"symbol": symbol, "bars": len(bars), "file": path}).Info("downloaded")
	return exchange.StockFeed{Symbol: symbol, File: path}, nil
}

func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := d.client.R().SetContext(ctx).Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%v: %w", err, errRetryable)
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return nil, fmt.Errorf("status %d: %w", status, errRetryable)
	case resp.IsError():
		return nil, fmt.Errorf("status %d", status)
	}
	return resp.Body(), nil
}

// DownloadAll fetches every symbol in order and stops at the first failure.
func (d *Downloader) DownloadAll(ctx context.Context, symbols []string) ([]exchange.StockFeed, error) {
	feeds := make([]exchange.StockFeed, 0, len(symbols))
	for _, symbol := range symbols {
		feed, err := d.Download(ctx, symbol)
		if err != nil {
			return feeds, err
		}
		feeds = append(feeds, feed)
	}
	return feeds, nil
}
