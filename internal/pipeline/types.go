package pipeline

import (
	"time"

	"github.com/ajitpratap0/cdcsync/pkg/config"
	"github.com/ajitpratap0/cdcsync/pkg/connect"
	"github.com/ajitpratap0/cdcsync/pkg/errors"
)

// Config controls polling bounds and the ordering guarantees of a run
type Config struct {
	// MaxWait bounds the wait for one connector to reach a terminal state
	MaxWait time.Duration `json:"max_wait" yaml:"max_wait"`
	// PollInterval is the delay between status polls
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	ReadyTimeout  time.Duration `json:"ready_timeout" yaml:"ready_timeout"`
	ReadyInterval time.Duration `json:"ready_interval" yaml:"ready_interval"`

	// Topic is the CDC topic both connectors use
	Topic string `json:"topic" yaml:"topic"`
	// RequireOrdering enforces a single-partition topic
	RequireOrdering bool `json:"require_ordering" yaml:"require_ordering"`
	// RestartSourceTask restarts source task 0 once both connectors run
	RestartSourceTask bool `json:"restart_source_task" yaml:"restart_source_task"`
}

// DefaultConfig returns the settings used by the deploy command
func DefaultConfig() *Config {
	return &Config{
		MaxWait:           60 * time.Second,
		PollInterval:      5 * time.Second,
		ReadyTimeout:      240 * time.Second,
		ReadyInterval:     5 * time.Second,
		Topic:             "cdc-all",
		RequireOrdering:   true,
		RestartSourceTask: true,
	}
}

// ConfigFrom derives orchestrator settings from the loaded environment
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		MaxWait:           cfg.Deploy.MaxWait,
		PollInterval:      cfg.Deploy.PollInterval,
		ReadyTimeout:      cfg.Connect.ReadyTimeout,
		ReadyInterval:     cfg.Connect.ReadyInterval,
		Topic:             cfg.Topic.Name,
		RequireOrdering:   cfg.Topic.RequireOrdering,
		RestartSourceTask: cfg.Deploy.RestartSourceTask,
	}
}

// Validate checks the polling bounds
func (c *Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return errors.New(errors.ErrorTypeConfig, "poll interval must be positive")
	case c.MaxWait < c.PollInterval:
		return errors.New(errors.ErrorTypeConfig, "max wait must be at least one poll interval").
			WithDetail("max_wait", c.MaxWait).
			WithDetail("poll_interval", c.PollInterval)
	case c.ReadyInterval <= 0:
		return errors.New(errors.ErrorTypeConfig, "readiness interval must be positive")
	case c.ReadyTimeout <= 0:
		return errors.New(errors.ErrorTypeConfig, "readiness timeout must be positive").
			WithDetail("ready_timeout", c.ReadyTimeout)
	case c.RequireOrdering && c.Topic == "":
		return errors.New(errors.ErrorTypeConfig, "ordering requires a topic name")
	}
	return nil
}

// DeploymentResult is the outcome of deploying one connector
type DeploymentResult struct {
	Connector string                   `json:"connector" yaml:"connector"`
	Status    *connect.ConnectorStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Elapsed   time.Duration            `json:"elapsed" yaml:"elapsed"`
	// Created is true when the PUT created the connector rather than replacing it
	Created       bool   `json:"created" yaml:"created"`
	FailureReason string `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
}

// Running reports whether the last observed status was fully RUNNING
func (r DeploymentResult) Running() bool {
	return r.Status != nil && r.Status.Running() && r.FailureReason == ""
}

// PipelineResult is the outcome of a full run
type PipelineResult struct {
	Source DeploymentResult `json:"source" yaml:"source"`
	Sink   DeploymentResult `json:"sink" yaml:"sink"`
	Topic  string           `json:"topic" yaml:"topic"`
	// Partitions is the verified partition count, zero when not checked
	Partitions      int           `json:"partitions,omitempty" yaml:"partitions,omitempty"`
	SourceRestarted bool          `json:"source_restarted" yaml:"source_restarted"`
	Elapsed         time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Succeeded reports whether both connectors ended RUNNING
func (r PipelineResult) Succeeded() bool {
	return r.Source.Running() && r.Sink.Running()
}
