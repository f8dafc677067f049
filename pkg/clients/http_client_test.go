package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHTTPClient_PutSendsBodyAndHeaders(t *testing.T) {
	var gotBody, gotType, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		gotAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, zaptest.NewLogger(t))
	defer c.Close()

	resp, err := c.Put(context.Background(), srv.URL+"/x", strings.NewReader(`{"a":1}`),
		map[string]string{"Content-Type": "application/json"})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"a":1}`, gotBody)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "cdcsync/1.0", gotAgent)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(0), stats.FailedRequests)
	assert.Equal(t, 100.0, stats.SuccessRate)
}

func TestHTTPClient_TransportErrorCounted(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.RateLimit = 0
	c := NewHTTPClient(cfg, zaptest.NewLogger(t))

	_, err := c.Get(context.Background(), url, nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), c.GetStats().FailedRequests)
}

func TestHTTPClient_CancelledContextStopsRateLimitWait(t *testing.T) {
	cfg := DefaultHTTPConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	c := NewHTTPClient(cfg, zaptest.NewLogger(t))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Get(ctx, srv.URL, nil)
	assert.Error(t, err)
}

func TestHTTPClient_StandardClientCountsRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, zaptest.NewLogger(t))
	defer c.Close()

	resp, err := c.StandardClient().Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int64(1), c.GetStats().TotalRequests)
}
