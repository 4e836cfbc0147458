package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prices = `Date,Open,High,Low,Close,Adj Close,Volume
2020-01-02,100,103,99,102,102,1000
2020-01-03,103,104,100,101,101,1200
`

func TestDownload(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/AAA.csv", r.URL.Path)
		_, _ = w.Write([]byte(prices))
	}))
	defer server.Close()

	dir := t.TempDir()
	downloader, err := New(server.URL+"/{symbol}.csv", dir, WithBackoff(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)

	feed, err := downloader.Download(context.Background(), "AAA")
	require.NoError(t, err)
	assert.Equal(t, "AAA", feed.Symbol)
	assert.Equal(t, filepath.Join(dir, "AAA.csv"), feed.File)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	content, err := os.ReadFile(feed.File)
	require.NoError(t, err)
	assert.Equal(t, prices, string(content))
}

func TestDownloadErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		switch r.URL.Path {
		case "/missing.csv":
			w.WriteHeader(http.StatusNotFound)
		case "/broken.csv":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte("not,a,price,file\n"))
		}
	}))
	defer server.Close()

	downloader, err := New(server.URL+"/{symbol}.csv", t.TempDir(),
		WithRetries(2), WithBackoff(time.Millisecond, time.Millisecond))
	require.NoError(t, err)

	_, err = downloader.Download(context.Background(), "missing")
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = downloader.Download(context.Background(), "broken")
	assert.Error(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))

	_, err = downloader.Download(context.Background(), "garbage")
	assert.Error(t, err)

	feeds, err := downloader.DownloadAll(context.Background(), []string{"missing", "AAA"})
	assert.Error(t, err)
	assert.Empty(t, feeds)

	_, err = New("http://example.com/prices.csv", t.TempDir())
	assert.Error(t, err)
}
