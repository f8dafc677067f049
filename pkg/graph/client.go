// Package graph talks to the Neo4j databases at both ends of the CDC
// pipeline. It checks that change data capture is active on the source and
// keeps the pipeline busy with heartbeat writes.
package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jconfig "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"go.uber.org/zap"

	"github.com/ajitpratap0/cdcsync/pkg/config"
	"github.com/ajitpratap0/cdcsync/pkg/errors"
)

// Runner executes Cypher and returns records as maps
type Runner interface {
	Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Write(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Close(ctx context.Context) error
}

// Client is a Runner backed by the Neo4j Go driver
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// Connect creates a driver for cfg and verifies connectivity
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	username := cfg.Username
	if username == "" {
		username = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(username, cfg.Password, ""),
		func(c *neo4jconfig.Config) {
			c.MaxConnectionPoolSize = 10
			c.ConnectionAcquisitionTimeout = 60 * time.Second
			c.MaxConnectionLifetime = 30 * time.Minute
		})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "create Neo4j driver").
			WithDetail("uri", cfg.URI)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, classify(err, "verify Neo4j connectivity").WithDetail("uri", cfg.URI)
	}

	logger.Info("connected to Neo4j", zap.String("uri", cfg.URI))
	return &Client{
		driver:   driver,
		database: cfg.Database,
		logger:   logger.With(zap.String("component", "neo4j_client")),
	}, nil
}

// Read runs a read query routed to readers
func (c *Client) Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	return c.execute(ctx, cypher, params, neo4j.ExecuteQueryWithReadersRouting())
}

// Write runs a write query routed to the leader
func (c *Client) Write(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	return c.execute(ctx, cypher, params, neo4j.ExecuteQueryWithWritersRouting())
}

// Close closes the driver
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) execute(ctx context.Context, cypher string, params map[string]any, routing neo4j.ExecuteQueryConfigurationOption) ([]map[string]any, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{routing}
	if c.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(c.database))
	}

	result, err := neo4j.ExecuteQuery(ctx, c.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, classify(err, "execute query")
	}

	records := make([]map[string]any, 0, len(result.Records))
	for _, rec := range result.Records {
		records = append(records, rec.AsMap())
	}
	return records, nil
}

// classify maps driver errors onto the error taxonomy
func classify(err error, message string) *errors.Error {
	if isConnectivity(err) {
		return errors.Wrap(err, errors.ErrorTypeConnection, message)
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		return errors.Wrap(err, errors.ErrorTypeQuery, message).WithDetail("code", neoErr.Code)
	}
	return errors.Wrap(err, errors.ErrorTypeQuery, message)
}

// isConnectivity reports whether any error in the chain is a driver
// connectivity error.
func isConnectivity(err error) bool {
	for err != nil {
		if neo4j.IsConnectivityError(err) {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
