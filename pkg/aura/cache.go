package aura

import (
	"os"
	"path/filepath"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/cdcsync/pkg/errors"
)

// TokenLifetime is how long a cached token is reused
const TokenLifetime = 24 * time.Hour

// cachedToken is the on-disk format. Timestamp is fractional unix seconds.
type cachedToken struct {
	Token     string  `json:"token"`
	Timestamp float64 `json:"timestamp"`
}

// FileCache stores one token in a JSON file
type FileCache struct {
	Path     string
	Lifetime time.Duration
	now      func() time.Time
}

// DefaultCachePath is ~/.cache/neo4j-aura-token.json
func DefaultCachePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConfig, "resolve home directory")
	}
	return filepath.Join(home, ".cache", "neo4j-aura-token.json"), nil
}

// NewFileCache creates a cache at path with the default lifetime
func NewFileCache(path string) *FileCache {
	return &FileCache{Path: path, Lifetime: TokenLifetime, now: time.Now}
}

// Load returns the cached token if present and fresh. Unreadable or
// malformed files count as a miss.
func (c *FileCache) Load() (string, bool) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return "", false
	}
	var ct cachedToken
	if err := gojson.Unmarshal(data, &ct); err != nil || ct.Token == "" {
		return "", false
	}
	stored := time.Unix(0, int64(ct.Timestamp*float64(time.Second)))
	if c.now().Sub(stored) >= c.Lifetime {
		return "", false
	}
	return ct.Token, true
}

// Store writes token with the current time
func (c *FileCache) Store(token string) error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o700); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "create token cache directory")
	}

	now := c.now()
	data, err := gojson.Marshal(cachedToken{
		Token:     token,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encode token cache")
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.Path), ".aura-token-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "write token cache")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeInternal, "write token cache")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "write token cache")
	}
	if err := os.Rename(tmp.Name(), c.Path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "write token cache")
	}
	return nil
}
