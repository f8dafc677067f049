package aura

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/cdcsync/pkg/config"
	"github.com/ajitpratap0/cdcsync/pkg/errors"
	"github.com/ajitpratap0/cdcsync/pkg/testutil"
)

type tokenServer struct {
	*httptest.Server
	requests atomic.Int32
}

func newTokenServer(t *testing.T, status int, body string) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.requests.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-1" || pass != "secret-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil ||
			r.PostForm.Get("grant_type") != "client_credentials" ||
			r.PostForm.Get("audience") != DefaultAudience {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func creds(tokenURL string) Credentials {
	return CredentialsFrom(config.AuraConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		TokenURL:     tokenURL,
	})
}

const okBody = `{"access_token":"eyJ.fresh","token_type":"bearer","expires_in":3600}`

func TestSource_FetchesAndCaches(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, okBody)
	cache := NewFileCache(filepath.Join(t.TempDir(), "nested", "token.json"))
	src := NewSource(creds(srv.URL), cache, nil, testutil.TestLogger(t))

	token, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eyJ.fresh", token)

	token, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eyJ.fresh", token)
	assert.Equal(t, int32(1), srv.requests.Load())

	cached, ok := cache.Load()
	require.True(t, ok)
	assert.Equal(t, "eyJ.fresh", cached)
}

func TestSource_ExpiredCacheRefetches(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, okBody)
	cache := NewFileCache(filepath.Join(t.TempDir(), "token.json"))
	cache.now = func() time.Time { return time.Now().Add(-25 * time.Hour) }
	require.NoError(t, cache.Store("eyJ.stale"))
	cache.now = time.Now

	token, err := NewSource(creds(srv.URL), cache, nil, nil).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eyJ.fresh", token)
	assert.Equal(t, int32(1), srv.requests.Load())
}

func TestSource_Rejected(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, okBody)
	c := creds(srv.URL)
	c.ClientSecret = "wrong"

	_, err := NewSource(c, nil, nil, nil).Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, http.StatusUnauthorized, errors.DetailOf(err, "status_code"))
}

func TestSource_ServerError(t *testing.T) {
	srv := newTokenServer(t, http.StatusBadGateway, `{"error":"upstream"}`)

	_, err := NewSource(creds(srv.URL), nil, nil, nil).Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestSource_MissingCredentials(t *testing.T) {
	_, err := NewSource(Credentials{}, nil, nil, nil).Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestCredentialsFrom_Defaults(t *testing.T) {
	c := CredentialsFrom(config.AuraConfig{ClientID: "a", ClientSecret: "b"})
	assert.Equal(t, DefaultTokenURL, c.TokenURL)
	assert.Equal(t, DefaultAudience, c.Audience)
}

func TestFileCache_Load(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, ok := NewFileCache(filepath.Join(dir, "absent.json")).Load()
		assert.False(t, ok)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		_, ok := NewFileCache(path).Load()
		assert.False(t, ok)
	})

	t.Run("written by the provisioning scripts", func(t *testing.T) {
		path := filepath.Join(dir, "script.json")
		stamp := float64(time.Now().Add(-time.Hour).UnixNano()) / float64(time.Second)
		body := []byte(`{"token": "eyJ.script", "timestamp": ` +
			strconv.FormatFloat(stamp, 'f', 6, 64) + `}`)
		require.NoError(t, os.WriteFile(path, body, 0o600))
		token, ok := NewFileCache(path).Load()
		require.True(t, ok)
		assert.Equal(t, "eyJ.script", token)
	})

	t.Run("boundary", func(t *testing.T) {
		cache := NewFileCache(filepath.Join(dir, "edge.json"))
		base := time.Now()
		cache.now = func() time.Time { return base }
		require.NoError(t, cache.Store("eyJ.edge"))

		cache.now = func() time.Time { return base.Add(TokenLifetime - time.Minute) }
		_, ok := cache.Load()
		assert.True(t, ok)

		cache.now = func() time.Time { return base.Add(TokenLifetime + time.Second) }
		_, ok = cache.Load()
		assert.False(t, ok)
	})
}
