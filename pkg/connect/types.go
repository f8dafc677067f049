// Package connect is a client for the Kafka Connect REST API together with
// the connector configuration and status types the deployment workflow uses.
package connect

import (
	"fmt"
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/cdcsync/pkg/errors"
)

// Well-known configuration keys
const (
	KeyConnectorClass    = "connector.class"
	KeyTasksMax          = "tasks.max"
	KeyTopics            = "topics"
	KeyTopicPartitions   = "topic.creation.default.partitions"
	KeyTopicReplication  = "topic.creation.default.replication.factor"
	KeyNeo4jURI          = "neo4j.uri"
	KeyNeo4jBasicPass    = "neo4j.authentication.basic.password"
	KeyDeadLetterTopic   = "errors.deadletterqueue.topic.name"
	KeyCDCTopicPatterns  = "neo4j.cdc.topic.%s.patterns"
	KeyCDCSourceIDTopics = "neo4j.cdc.source-id.topics"
)

// State is a connector or task state as reported by Kafka Connect
type State string

const (
	StateUnassigned State = "UNASSIGNED"
	StateRunning    State = "RUNNING"
	StatePaused     State = "PAUSED"
	StateFailed     State = "FAILED"
	// StateRestarting appears briefly after a restart request
	StateRestarting State = "RESTARTING"
)

// ConnectorConfig is a named connector configuration. It is replaced as a
// whole on every submission; there is no partial update.
type ConnectorConfig struct {
	Name  string
	Class string
	// Settings holds every other key. Values must be string, bool or a number.
	Settings map[string]any
}

// Body returns the JSON object PUT to /connectors/{name}/config. The class is
// written under connector.class; the name is part of the URL, not the body.
func (c ConnectorConfig) Body() map[string]any {
	body := make(map[string]any, len(c.Settings)+1)
	for k, v := range c.Settings {
		body[k] = v
	}
	body[KeyConnectorClass] = c.Class
	return body
}

// MarshalBody encodes Body
func (c ConnectorConfig) MarshalBody() ([]byte, error) {
	return gojson.Marshal(c.Body())
}

// Validate checks the name, class and value types
func (c ConnectorConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New(errors.ErrorTypeValidation, "connector name is required")
	}
	if strings.ContainsAny(c.Name, "/?#") {
		return errors.New(errors.ErrorTypeValidation, "connector name must be a single path segment").
			WithDetail("connector", c.Name)
	}
	if strings.TrimSpace(c.Class) == "" {
		return errors.New(errors.ErrorTypeValidation, "connector class is required").
			WithDetail("connector", c.Name)
	}
	for k, v := range c.Settings {
		switch v.(type) {
		case string, bool, int, int32, int64, float64:
		default:
			return errors.Newf(errors.ErrorTypeValidation, "setting %q has unsupported type %T", k, v).
				WithDetail("connector", c.Name)
		}
	}
	return nil
}

// Setting returns a setting as a string, formatting non-string values.
func (c ConnectorConfig) Setting(key string) (string, bool) {
	v, ok := c.Settings[key]
	if !ok {
		return "", false
	}
	if s, isString := v.(string); isString {
		return s, true
	}
	return fmt.Sprint(v), true
}

// PartitionCount returns the requested topic partition count, if the config
// asks Connect to create its topic.
func (c ConnectorConfig) PartitionCount() (int, bool, error) {
	raw, ok := c.Setting(KeyTopicPartitions)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, true, errors.Wrap(err, errors.ErrorTypeValidation, "topic partition count is not an integer").
			WithDetail("connector", c.Name).
			WithDetail("value", raw)
	}
	return n, true, nil
}

// TaskStatus is the state of one connector task
type TaskStatus struct {
	ID       int    `json:"id" yaml:"id"`
	State    State  `json:"state" yaml:"state"`
	WorkerID string `json:"worker_id" yaml:"worker_id"`
	Trace    string `json:"trace,omitempty" yaml:"trace,omitempty"`
}

// ConnectorState is the connector-level part of a status response
type ConnectorState struct {
	State    State  `json:"state" yaml:"state"`
	WorkerID string `json:"worker_id" yaml:"worker_id"`
	Trace    string `json:"trace,omitempty" yaml:"trace,omitempty"`
}

// ConnectorStatus is the body of GET /connectors/{name}/status
type ConnectorStatus struct {
	Name      string         `json:"name" yaml:"name"`
	Connector ConnectorState `json:"connector" yaml:"connector"`
	Tasks     []TaskStatus   `json:"tasks" yaml:"tasks"`
	Type      string         `json:"type,omitempty" yaml:"type,omitempty"`
}

// Running reports whether the connector and all of its tasks are RUNNING.
// A connector with no tasks yet has not converged.
func (s ConnectorStatus) Running() bool {
	if s.Connector.State != StateRunning || len(s.Tasks) == 0 {
		return false
	}
	for _, t := range s.Tasks {
		if t.State != StateRunning {
			return false
		}
	}
	return true
}

// Failure returns the first failure in the status: the connector itself, then
// tasks in order. The bool is false when nothing has failed.
func (s ConnectorStatus) Failure() (string, bool) {
	if s.Connector.State == StateFailed {
		return "connector: " + traceOrDefault(s.Connector.Trace), true
	}
	for _, t := range s.Tasks {
		if t.State == StateFailed {
			return fmt.Sprintf("task %d: %s", t.ID, traceOrDefault(t.Trace)), true
		}
	}
	return "", false
}

// TaskStates returns the task states in task order
func (s ConnectorStatus) TaskStates() []State {
	out := make([]State, len(s.Tasks))
	for i, t := range s.Tasks {
		out[i] = t.State
	}
	return out
}

// Summary is a short human readable form, e.g. "RUNNING [RUNNING RUNNING]"
func (s ConnectorStatus) Summary() string {
	if len(s.Tasks) == 0 {
		return string(s.Connector.State) + " [no tasks]"
	}
	return fmt.Sprintf("%s %v", s.Connector.State, s.TaskStates())
}

func traceOrDefault(trace string) string {
	if trace == "" {
		return "no trace available"
	}
	// First line carries the exception; the rest is the Java stack.
	if i := strings.IndexByte(trace, '\n'); i > 0 {
		return trace[:i]
	}
	return trace
}
