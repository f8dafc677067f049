// Package pipeline deploys the two connectors of the CDC pipeline and drives
// them to a terminal state.
//
// # Overview
//
// A run submits the source connector, waits for it to report RUNNING, and only
// then submits the sink. Each submission is a create-or-replace PUT, so a run
// can be repeated after a partial failure without changing the outcome:
//
//	orch, err := pipeline.NewOrchestrator(client, topicManager, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	result, err := orch.Run(ctx, sourceConfig, sinkConfig)
//
// When ordering is required the CDC topic must have exactly one partition.
// The topic is created with one partition before the source is submitted and
// its partition count is checked again before the run reports success.
//
// Nothing in this package retries a failed submission. Polling is the only
// repeated operation and it is bounded by MaxWait.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/cdcsync/pkg/connect"
	"github.com/ajitpratap0/cdcsync/pkg/errors"
	"github.com/ajitpratap0/cdcsync/pkg/logger"
	"github.com/ajitpratap0/cdcsync/pkg/metrics"
	"github.com/ajitpratap0/cdcsync/pkg/observability"
)

// orderedPartitions is the only partition count that keeps node events ahead
// of the relationship events referencing them.
const orderedPartitions = 1

// connectionHintAfter is the number of consecutive connection failures after
// which the readiness wait logs a network hint.
const connectionHintAfter = 3

// ConnectAPI is the Kafka Connect surface the orchestrator needs.
// *connect.Client implements it.
type ConnectAPI interface {
	ListConnectors(ctx context.Context) ([]string, error)
	PutConfig(ctx context.Context, cfg connect.ConnectorConfig) (bool, error)
	Status(ctx context.Context, name string) (*connect.ConnectorStatus, error)
	RestartTask(ctx context.Context, name string, taskID int) error
}

// TopicGuard creates and verifies the CDC topic. *topics.Manager implements it.
type TopicGuard interface {
	Ensure(ctx context.Context, topic string, partitions int) error
	Verify(ctx context.Context, topic string, want int) (int, error)
}

// Orchestrator deploys connectors one at a time from a single goroutine
type Orchestrator struct {
	connect ConnectAPI
	topics  TopicGuard
	config  Config
	logger  *zap.Logger
}

// NewOrchestrator validates config and returns an orchestrator. guard may be
// nil only when ordering is not required.
func NewOrchestrator(api ConnectAPI, guard TopicGuard, config *Config, log *zap.Logger) (*Orchestrator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.RequireOrdering && guard == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "ordering is required but no topic guard is configured")
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Orchestrator{
		connect: api,
		topics:  guard,
		config:  *config,
		logger:  log.With(zap.String("component", "orchestrator")),
	}, nil
}

// Config returns the orchestrator's settings
func (o *Orchestrator) Config() Config {
	return o.config
}

// Run performs a full deployment: readiness wait, topic guard, source, sink,
// optional source task restart and a final partition check.
func (o *Orchestrator) Run(ctx context.Context, source, sink connect.ConnectorConfig) (PipelineResult, error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.run")
	defer span.End()

	start := time.Now()
	result := PipelineResult{Topic: o.config.Topic}
	finish := func(err error) (PipelineResult, error) {
		result.Elapsed = time.Since(start)
		if err != nil {
			span.RecordError(err)
		}
		return result, err
	}

	if err := o.WaitForConnect(ctx); err != nil {
		return finish(err)
	}

	if o.config.RequireOrdering {
		if err := o.topics.Ensure(ctx, o.config.Topic, orderedPartitions); err != nil {
			return finish(err)
		}
	}

	src, err := o.Deploy(ctx, source)
	result.Source = src
	if err != nil {
		return finish(err)
	}

	snk, err := o.DeploySink(ctx, src, sink)
	result.Sink = snk
	if err != nil {
		return finish(err)
	}

	if o.config.RestartSourceTask {
		restarted, err := o.RestartSource(ctx, source.Name)
		result.SourceRestarted = true
		if restarted.Status != nil {
			result.Source.Status = restarted.Status
		}
		if err != nil {
			result.Source.FailureReason = restarted.FailureReason
			return finish(err)
		}
	}

	if o.config.RequireOrdering {
		n, err := o.topics.Verify(ctx, o.config.Topic, orderedPartitions)
		result.Partitions = n
		if err != nil {
			return finish(err)
		}
	}

	o.logger.Info("pipeline deployed",
		zap.String("source", source.Name),
		zap.String("sink", sink.Name),
		zap.Duration("elapsed", time.Since(start)))
	return finish(nil)
}

// DeploySink deploys sink only when source has reached RUNNING
func (o *Orchestrator) DeploySink(ctx context.Context, source DeploymentResult, sink connect.ConnectorConfig) (DeploymentResult, error) {
	if !source.Running() {
		state := "unknown"
		if source.Status != nil {
			state = source.Status.Summary()
		}
		metrics.Deployments.WithLabelValues(sink.Name, string(errors.ErrorTypeOrderingViolation)).Inc()
		return DeploymentResult{Connector: sink.Name}, errors.New(errors.ErrorTypeOrderingViolation,
			"sink submitted before source is RUNNING").
			WithDetail("connector", sink.Name).
			WithDetail("source", source.Connector).
			WithDetail("source_state", state)
	}
	return o.Deploy(ctx, sink)
}

// Deploy submits cfg and waits until it is RUNNING, FAILED or MaxWait has
// elapsed. Submitting the same config again is harmless.
func (o *Orchestrator) Deploy(ctx context.Context, cfg connect.ConnectorConfig) (DeploymentResult, error) {
	ctx = logger.WithConnector(ctx, cfg.Name)
	ctx, span := observability.StartSpan(ctx, "pipeline.deploy")
	defer span.End()
	span.SetAttribute("connector", cfg.Name)

	log := logger.FromContext(ctx, o.logger)
	start := time.Now()
	result := DeploymentResult{Connector: cfg.Name}

	fail := func(err *errors.Error) (DeploymentResult, error) {
		result.Elapsed = time.Since(start)
		result.FailureReason = err.Message
		metrics.Deployments.WithLabelValues(cfg.Name, string(err.Type)).Inc()
		metrics.DeployDuration.WithLabelValues(cfg.Name).Observe(result.Elapsed.Seconds())
		span.RecordError(err)
		log.Error("connector deployment failed", zap.Error(err), zap.Duration("elapsed", result.Elapsed))
		return result, err
	}

	if o.config.RequireOrdering {
		if err := checkPartitionRequest(cfg); err != nil {
			return fail(err)
		}
	}

	log.Info("submitting connector config", zap.Int("settings", len(cfg.Settings)))
	created, err := o.connect.PutConfig(ctx, cfg)
	if err != nil {
		return fail(submissionError(cfg.Name, err))
	}
	result.Created = created

	// MaxWait starts once the PUT has returned
	status, pollErr := o.poll(ctx, cfg.Name, time.Now())
	result.Status = status
	if pollErr != nil {
		return fail(pollErr)
	}

	result.Elapsed = time.Since(start)
	metrics.Deployments.WithLabelValues(cfg.Name, "success").Inc()
	metrics.DeployDuration.WithLabelValues(cfg.Name).Observe(result.Elapsed.Seconds())
	log.Info("connector running",
		zap.Bool("created", created),
		zap.String("status", status.Summary()),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

// AwaitRunning polls an already submitted connector until it is RUNNING,
// FAILED or MaxWait has elapsed.
func (o *Orchestrator) AwaitRunning(ctx context.Context, name string) (DeploymentResult, error) {
	ctx = logger.WithConnector(ctx, name)
	start := time.Now()
	status, err := o.poll(ctx, name, start)
	result := DeploymentResult{Connector: name, Status: status, Elapsed: time.Since(start)}
	if err != nil {
		result.FailureReason = err.Message
		return result, err
	}
	return result, nil
}

// RestartSource restarts task 0 of the source connector to clear a stalled
// first poll, then waits for it to report RUNNING again. A rejected restart
// request is logged and the wait still happens.
func (o *Orchestrator) RestartSource(ctx context.Context, name string) (DeploymentResult, error) {
	log := o.logger.With(zap.String("connector", name))
	if err := o.connect.RestartTask(ctx, name, 0); err != nil {
		log.Warn("source task restart was not accepted", zap.Error(err))
	} else {
		log.Info("source task restarted")
	}
	return o.AwaitRunning(ctx, name)
}

// WaitForConnect polls GET /connectors until the worker answers 200 or
// ReadyTimeout elapses.
func (o *Orchestrator) WaitForConnect(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "pipeline.wait_for_connect")
	defer span.End()

	start := time.Now()
	deadline := start.Add(o.config.ReadyTimeout)
	streak := 0

	for {
		_, probeErr := o.connect.ListConnectors(ctx)
		if probeErr == nil {
			o.logger.Info("Kafka Connect is ready", zap.Duration("elapsed", time.Since(start)))
			return nil
		}

		if errors.IsType(probeErr, errors.ErrorTypeConnection) {
			streak++
			if streak >= connectionHintAfter {
				o.logger.Warn("connection to Kafka Connect keeps failing; port 8083 may be blocked on this network",
					zap.Error(probeErr))
				streak = 0
			}
		} else {
			streak = 0
		}

		o.logger.Info("Kafka Connect not ready yet",
			zap.Duration("elapsed", time.Since(start).Round(time.Second)),
			zap.Error(probeErr))

		if err := o.sleepUntilNext(ctx, deadline, o.config.ReadyInterval); err != nil {
			cause := err
			if err == errDeadline {
				cause = probeErr
			}
			timeoutErr := errors.Wrap(cause, errors.ErrorTypeTimeout, "Kafka Connect not ready").
				WithDetail("ready_timeout", o.config.ReadyTimeout)
			span.RecordError(timeoutErr)
			return timeoutErr
		}
	}
}

// poll drives one connector to a terminal state, giving up MaxWait after
// since. Status errors are not terminal; the most recent one is reported if
// the wait times out.
func (o *Orchestrator) poll(ctx context.Context, name string, since time.Time) (*connect.ConnectorStatus, *errors.Error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.poll")
	defer span.End()
	span.SetAttribute("connector", name)

	log := logger.FromContext(ctx, o.logger)
	deadline := since.Add(o.config.MaxWait)
	polls := 0

	var last *connect.ConnectorStatus
	var lastErr error

	for {
		polls++
		status, err := o.connect.Status(ctx, name)
		if err != nil {
			lastErr = err
			metrics.StatusPolls.WithLabelValues(name, "error").Inc()
			log.Warn("status poll failed", zap.Int("poll", polls), zap.Error(err))
		} else {
			last = status
			metrics.StatusPolls.WithLabelValues(name, string(status.Connector.State)).Inc()

			if reason, failed := status.Failure(); failed {
				span.SetAttribute("polls", polls)
				return last, errors.Newf(errors.ErrorTypeTaskFailed, "connector %s failed: %s", name, reason).
					WithDetail("connector", name).
					WithDetail("trace", failureTrace(status))
			}
			if status.Running() {
				span.SetAttribute("polls", polls)
				return last, nil
			}
			log.Debug("connector not running yet", zap.Int("poll", polls), zap.String("status", status.Summary()))
		}

		if err := o.sleepUntilNext(ctx, deadline, o.config.PollInterval); err != nil {
			span.SetAttribute("polls", polls)
			timeoutErr := errors.Newf(errors.ErrorTypeTimeout, "connector %s not RUNNING after %s", name, o.config.MaxWait).
				WithDetail("connector", name).
				WithDetail("max_wait", o.config.MaxWait)
			if err != errDeadline {
				timeoutErr.Cause = err
			} else if lastErr != nil {
				timeoutErr.Cause = lastErr
			}
			if last != nil {
				timeoutErr.WithDetail("last_status", last.Summary())
			}
			return last, timeoutErr
		}
	}
}

var errDeadline = errors.New(errors.ErrorTypeTimeout, "deadline reached")

// sleepUntilNext waits for interval, clamped to the time left before
// deadline. It returns errDeadline when no time is left and ctx.Err() when ctx
// ends first.
func (o *Orchestrator) sleepUntilNext(ctx context.Context, deadline time.Time, interval time.Duration) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return errDeadline
	}
	wait := interval
	if wait > remaining {
		wait = remaining
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// checkPartitionRequest rejects a config asking Connect to create its topic
// with anything but one partition.
func checkPartitionRequest(cfg connect.ConnectorConfig) *errors.Error {
	n, requested, err := cfg.PartitionCount()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePartitionMismatch, "cannot read requested partition count").
			WithDetail("connector", cfg.Name)
	}
	if requested && n != orderedPartitions {
		return errors.Newf(errors.ErrorTypePartitionMismatch,
			"config requests %d topic partitions, ordered delivery needs %d", n, orderedPartitions).
			WithDetail("connector", cfg.Name)
	}
	return nil
}

// submissionError wraps a Connect client error, keeping the HTTP status and
// body fragment visible on the outer error.
func submissionError(name string, err error) *errors.Error {
	wrapped := errors.Wrap(err, errors.ErrorTypeSubmissionFailed, "connector config submission failed").
		WithDetail("connector", name)
	if code := errors.DetailOf(err, "status_code"); code != nil {
		wrapped.WithDetail("status_code", code)
	}
	if body := errors.DetailOf(err, "body"); body != nil {
		wrapped.WithDetail("body", body)
	}
	return wrapped
}

func failureTrace(st *connect.ConnectorStatus) string {
	if st.Connector.State == connect.StateFailed {
		return st.Connector.Trace
	}
	for _, t := range st.Tasks {
		if t.State == connect.StateFailed {
			return t.Trace
		}
	}
	return ""
}
