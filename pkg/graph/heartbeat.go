package graph

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/ajitpratap0/cdcsync/pkg/errors"
	"github.com/ajitpratap0/cdcsync/pkg/metrics"
)

const heartbeatQuery = "MERGE (h:_Heartbeat {id: 'cdc-pipeline'}) " +
	"SET h.ts = datetime(), h.seq = COALESCE(h.seq, 0) + 1"

// Dialer opens a new Runner. The heartbeat calls it at start and whenever it
// gives up on the current connection.
type Dialer func(ctx context.Context) (Runner, error)

// HeartbeatConfig configures the heartbeat loop
type HeartbeatConfig struct {
	Interval time.Duration
	// MaxFailures is the number of consecutive failed writes after which the
	// connection is replaced.
	MaxFailures int
	// ReconnectMin and ReconnectMax bound the delay between reconnect attempts
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Heartbeat keeps CDC traffic flowing by updating a single marker node on
// the source database. Event Hubs drops idle connections after a few minutes
// without the Connect task noticing; a steady trickle of changes prevents it.
type Heartbeat struct {
	dial   Dialer
	config HeartbeatConfig
	logger *zap.Logger
}

// NewHeartbeat creates a heartbeat that connects through dial
func NewHeartbeat(dial Dialer, cfg HeartbeatConfig, logger *zap.Logger) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 10
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heartbeat{
		dial:   dial,
		config: cfg,
		logger: logger.With(zap.String("component", "heartbeat")),
	}
}

// Beat writes one heartbeat
func Beat(ctx context.Context, r Runner) error {
	_, err := r.Write(ctx, heartbeatQuery, nil)
	return err
}

// Run connects and writes a heartbeat every Interval until ctx is done. It
// fails only when the first connection cannot be made.
func (h *Heartbeat) Run(ctx context.Context) error {
	runner, err := h.dial(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "connect heartbeat target")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if runner != nil {
			_ = runner.Close(closeCtx)
		}
		h.logger.Info("heartbeat stopped")
	}()

	h.logger.Info("heartbeat started", zap.Duration("interval", h.config.Interval))

	failures := 0
	b := &backoff.Backoff{
		Factor: 2,
		Min:    h.config.ReconnectMin,
		Max:    h.config.ReconnectMax,
		Jitter: true,
	}

	for {
		if err := Beat(ctx, runner); err == nil {
			failures = 0
			metrics.Heartbeats.WithLabelValues("success").Inc()
			metrics.LastHeartbeat.SetToCurrentTime()
			h.logger.Debug("heartbeat sent")
		} else {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			metrics.Heartbeats.WithLabelValues("failure").Inc()
			level := h.logger.Error
			if isConnectivity(err) {
				level = h.logger.Warn
			}
			level("heartbeat failed",
				zap.Int("consecutive", failures),
				zap.Int("max", h.config.MaxFailures),
				zap.Error(err))

			if failures >= h.config.MaxFailures {
				runner = h.reconnect(ctx, runner, b)
				if runner == nil {
					return nil
				}
				failures = 0
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(h.config.Interval):
		}
	}
}

// reconnect closes old and dials until it succeeds or ctx ends, in which
// case it returns nil.
func (h *Heartbeat) reconnect(ctx context.Context, old Runner, b *backoff.Backoff) Runner {
	h.logger.Error("too many consecutive heartbeat failures, reconnecting")
	_ = old.Close(ctx)

	for {
		runner, err := h.dial(ctx)
		if err == nil {
			b.Reset()
			metrics.Heartbeats.WithLabelValues("reconnect").Inc()
			h.logger.Info("heartbeat reconnected")
			return runner
		}

		wait := b.Duration()
		h.logger.Warn("heartbeat reconnect failed",
			zap.Duration("retry_in", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
