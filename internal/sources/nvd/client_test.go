package nvd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hoodinformatik/openthreat/internal/cache"
)

const samplePage = `{
	"totalResults": 3,
	"vulnerabilities": [
		{"cve": {"id": "CVE-2024-0001"}},
		{"cve": {"id": "CVE-2024-0002"}}
	]
}`

func TestFetchSinglePageReturnsItemsAndCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.URL.Query().Get("startIndex"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	c := New("", nil)
	c.baseURL = srv.URL

	items, next, total, err := c.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	require.NotNil(t, next)
	assert.Equal(t, 2, next.StartIndex)
	require.NotNil(t, total)
	assert.Equal(t, 3, *total)
}

func TestFetchExhaustionReturnsNilCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"totalResults": 2, "vulnerabilities": [{"cve":{"id":"CVE-2024-0001"}},{"cve":{"id":"CVE-2024-0002"}}]}`))
	}))
	defer srv.Close()

	c := New("", nil)
	c.baseURL = srv.URL

	items, next, _, err := c.Fetch(context.Background(), &Cursor{StartIndex: 0})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Nil(t, next)
}

func TestFetchRetriesOn500ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	c := New("", nil)
	c.baseURL = srv.URL
	c.limiter = rate.NewLimiter(rate.Inf, 1)

	items, _, _, err := c.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchReturnsErrorOn404WithoutRetrying(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New("", nil)
	c.baseURL = srv.URL

	_, _, _, err := c.Fetch(context.Background(), nil)
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchSendsAPIKeyHeaderWhenConfigured(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("apiKey")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	c := New("secret-key", nil)
	c.baseURL = srv.URL

	_, _, _, err := c.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "secret-key", gotKey)
}

func TestFetchIncrementsDistributedRateWindowCounter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	c := New("", cache.NewMemoryCache())
	c.baseURL = srv.URL
	c.limiter = rate.NewLimiter(rate.Inf, 1)

	_, _, _, err := c.Fetch(context.Background(), nil)
	require.NoError(t, err)

	bucket := time.Now().Unix() / int64(rateWindow.Seconds())
	key := cache.RateWindowKey("nvd", "anonymous", "30s", bucket)
	raw, err := c.cache.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "1", raw, "a single fetch must advance the shared window counter exactly once")
}

func TestFetchHonorsCursorFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-01-01T00:00:00.000", r.URL.Query().Get("lastModStartDate"))
		assert.Equal(t, "", r.URL.Query().Get("hasKev"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	c := New("", nil)
	c.baseURL = srv.URL

	_, _, _, err := c.Fetch(context.Background(), &Cursor{
		LastModStartDate: "2024-01-01T00:00:00.000",
		HasKev:           true,
	})
	require.NoError(t, err)
}
