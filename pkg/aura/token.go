// Package aura obtains Neo4j Aura API access tokens for the provisioning
// scripts. Tokens are cached on disk so repeated terraform runs do not hit
// the token endpoint each time.
package aura

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ajitpratap0/cdcsync/pkg/clients"
	"github.com/ajitpratap0/cdcsync/pkg/config"
	"github.com/ajitpratap0/cdcsync/pkg/errors"
)

const (
	DefaultTokenURL = "https://api.neo4j.io/oauth/token"
	DefaultAudience = "https://api.neo4j.io/"
)

// Credentials identify an Aura API client
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Audience     string
}

// CredentialsFrom converts the loaded configuration
func CredentialsFrom(cfg config.AuraConfig) Credentials {
	c := Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Audience:     cfg.Audience,
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.Audience == "" {
		c.Audience = DefaultAudience
	}
	return c
}

// Source hands out tokens, preferring a cached one
type Source struct {
	creds  Credentials
	cache  *FileCache
	http   *clients.HTTPClient
	logger *zap.Logger
}

// NewSource creates a token source. cache may be nil to disable caching.
func NewSource(creds Credentials, cache *FileCache, httpClient *clients.HTTPClient, logger *zap.Logger) *Source {
	if httpClient == nil {
		httpClient = clients.NewHTTPClient(nil, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		creds:  creds,
		cache:  cache,
		http:   httpClient,
		logger: logger.With(zap.String("component", "aura_token")),
	}
}

// Token returns a cached token when one is still fresh, otherwise fetches
// and caches a new one.
func (s *Source) Token(ctx context.Context) (string, error) {
	if s.cache != nil {
		if token, ok := s.cache.Load(); ok {
			s.logger.Debug("using cached token", zap.String("path", s.cache.Path))
			return token, nil
		}
	}

	token, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.Store(token); err != nil {
			s.logger.Warn("failed to cache token", zap.String("path", s.cache.Path), zap.Error(err))
		}
	}
	return token, nil
}

func (s *Source) fetch(ctx context.Context) (string, error) {
	if s.creds.ClientID == "" || s.creds.ClientSecret == "" {
		return "", errors.New(errors.ErrorTypeConfig, "AURA_CLIENT_ID and AURA_CLIENT_SECRET must be set")
	}

	cc := clientcredentials.Config{
		ClientID:       s.creds.ClientID,
		ClientSecret:   s.creds.ClientSecret,
		TokenURL:       s.creds.TokenURL,
		EndpointParams: url.Values{"audience": {s.creds.Audience}},
		AuthStyle:      oauth2.AuthStyleInHeader,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.http.StandardClient())
	tok, err := cc.Token(ctx)
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			kind := errors.ErrorTypeAuthentication
			if retrieve.Response != nil && retrieve.Response.StatusCode >= 500 {
				kind = errors.ErrorTypeConnection
			}
			e := errors.Wrap(err, kind, "Aura token request rejected").
				WithDetail("body", strings.TrimSpace(string(retrieve.Body)))
			if retrieve.Response != nil {
				e = e.WithDetail("status_code", retrieve.Response.StatusCode)
			}
			return "", e
		}
		return "", errors.Wrap(err, errors.ErrorTypeConnection, "Aura token request failed").
			WithDetail("token_url", s.creds.TokenURL)
	}

	s.logger.Info("obtained Aura API token", zap.Time("expiry", tok.Expiry))
	return tok.AccessToken, nil
}
