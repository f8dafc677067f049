package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/cdcsync/pkg/errors"
)

const (
	currentChangeQuery = "CALL db.cdc.current()"
	createProbeQuery   = "CREATE (t:_CDCTest {id: $id, timestamp: timestamp()})"
	deleteProbeQuery   = "MATCH (t:_CDCTest {id: $id}) DELETE t"
	countChangesQuery  = `CALL db.cdc.query($fromId, null)
YIELD event
WHERE event.metadata.executingUser IS NOT NULL
RETURN count(*) AS changes`
)

// ReadyOptions bounds the CDC readiness wait
type ReadyOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// DefaultReadyOptions returns a 90s budget polled every second
func DefaultReadyOptions() ReadyOptions {
	return ReadyOptions{Timeout: 90 * time.Second, Interval: time.Second}
}

// WaitForCDCReady polls db.cdc.current() until it returns a change id.
// Errors that look like CDC still initializing are retried; anything else
// is returned at once.
func WaitForCDCReady(ctx context.Context, r Runner, opts ReadyOptions, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	start := time.Now()
	deadline := start.Add(opts.Timeout)
	attempt := 0

	for {
		attempt++
		records, err := r.Read(ctx, currentChangeQuery, nil)
		if err == nil && len(records) > 0 {
			id := fmt.Sprint(records[0]["id"])
			logger.Info("CDC is ready",
				zap.String("change_id", id),
				zap.Duration("elapsed", time.Since(start)))
			return id, nil
		}
		if err != nil && !cdcNotReady(err) {
			return "", errors.Wrap(err, errors.ErrorTypeQuery, "unexpected error checking CDC")
		}

		if attempt%10 == 1 {
			logger.Info("waiting for CDC to initialize",
				zap.Duration("elapsed", time.Since(start).Round(time.Second)),
				zap.Duration("timeout", opts.Timeout))
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			timeoutErr := errors.New(errors.ErrorTypeTimeout, "CDC not ready")
			if err != nil {
				timeoutErr = errors.Wrap(err, errors.ErrorTypeTimeout, "CDC not ready")
			}
			return "", timeoutErr.WithDetail("timeout", opts.Timeout)
		}
		wait := opts.Interval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "CDC not ready")
		case <-time.After(wait):
		}
	}
}

// cdcNotReady matches the errors returned while the CDC procedures are still
// being registered.
func cdcNotReady(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"procedure", "not found", "cdc"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// VerifyCapturing writes and deletes a probe node, waits settle, and checks
// that the change log recorded at least both changes. It returns the number
// of events seen.
func VerifyCapturing(ctx context.Context, r Runner, settle time.Duration) (int64, error) {
	current, err := r.Read(ctx, currentChangeQuery, nil)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "read current change id")
	}
	if len(current) == 0 {
		return 0, errors.New(errors.ErrorTypeQuery, "db.cdc.current() returned no rows")
	}
	fromID := current[0]["id"]

	probe := map[string]any{"id": "cdc-test-" + uuid.NewString()}
	if _, err := r.Write(ctx, createProbeQuery, probe); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "create CDC probe node")
	}
	if _, err := r.Write(ctx, deleteProbeQuery, probe); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "delete CDC probe node")
	}

	select {
	case <-ctx.Done():
		return 0, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "waiting for CDC to record the probe")
	case <-time.After(settle):
	}

	rows, err := r.Read(ctx, countChangesQuery, map[string]any{"fromId": fromID})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "query CDC change log")
	}
	var changes int64
	if len(rows) > 0 {
		if n, ok := rows[0]["changes"].(int64); ok {
			changes = n
		}
	}
	if changes < 2 {
		return changes, errors.Newf(errors.ErrorTypeValidation,
			"CDC is not capturing changes: expected at least 2 events, got %d", changes)
	}
	return changes, nil
}
