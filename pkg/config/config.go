// Package config provides the environment-driven configuration for cdcsync.
//
// Every value comes from process environment variables set by the provisioning
// workflow; nothing is read from disk. Settings are grouped by concern:
//   - Connect: Kafka Connect REST endpoint and HTTP timeouts
//   - Master / Subscriber: Neo4j connection parameters for both databases
//   - Topic / Kafka: CDC topic name, ordering requirement, Kafka admin access
//   - Deploy: convergence polling bounds
//   - Heartbeat / Aura: companion commands
//   - Log: logger level and encoding
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	if err := cfg.ValidateDeploy(); err != nil {
//	    return err // lists every missing variable
//	}
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/cdcsync/pkg/errors"
)

// Config is the complete cdcsync configuration
type Config struct {
	Connect    ConnectConfig   `mapstructure:"connect"`
	Master     DatabaseConfig  `mapstructure:"master"`
	Subscriber DatabaseConfig  `mapstructure:"subscriber"`
	Topic      TopicConfig     `mapstructure:"topic"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Deploy     DeployConfig    `mapstructure:"deploy"`
	Heartbeat  HeartbeatConfig `mapstructure:"heartbeat"`
	Aura       AuraConfig      `mapstructure:"aura"`
	Log        LogConfig       `mapstructure:"log"`
}

// ConnectConfig holds the Kafka Connect REST endpoint settings
type ConnectConfig struct {
	// URL is the REST base URL, e.g. http://10.0.0.4:8083
	URL string `mapstructure:"url"`
	// ReadyTimeout bounds the wait for GET /connectors to answer 200
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	// ReadyInterval is the delay between readiness probes
	ReadyInterval time.Duration `mapstructure:"ready_interval"`
	// SubmitTimeout bounds a single PUT; Event Hubs cold starts make it slow
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	// RequestTimeout bounds status, list and restart calls
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig holds Neo4j connection parameters
type DatabaseConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// TopicConfig describes the CDC topic
type TopicConfig struct {
	Name string `mapstructure:"name"`
	// DLQ is the sink's dead letter topic
	DLQ string `mapstructure:"dlq"`
	// RequireOrdering enforces a single-partition topic so node events
	// arrive before the relationship events that reference them.
	RequireOrdering bool `mapstructure:"require_ordering"`
}

// KafkaConfig holds Kafka admin access for topic verification
type KafkaConfig struct {
	// BootstrapServers is a comma separated broker list
	BootstrapServers string `mapstructure:"bootstrap_servers"`
	// EventHubsConnectionString, when set, supplies brokers and SASL credentials
	EventHubsConnectionString string        `mapstructure:"eventhubs_connection_string"`
	SASLMechanism             string        `mapstructure:"sasl_mechanism"`
	SASLUsername              string        `mapstructure:"sasl_username"`
	SASLPassword              string        `mapstructure:"sasl_password"`
	EnableTLS                 bool          `mapstructure:"enable_tls"`
	ReplicationFactor         int           `mapstructure:"replication_factor"`
	Timeout                   time.Duration `mapstructure:"timeout"`
}

// DeployConfig bounds connector convergence polling
type DeployConfig struct {
	MaxWait           time.Duration `mapstructure:"max_wait"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	RestartSourceTask bool          `mapstructure:"restart_source_task"`
}

// HeartbeatConfig configures the pipeline heartbeat writer
type HeartbeatConfig struct {
	DatabaseConfig `mapstructure:",squash"`
	Interval       time.Duration `mapstructure:"interval"`
	MaxFailures    int           `mapstructure:"max_failures"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
}

// AuraConfig configures the Aura API token helper
type AuraConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenURL     string `mapstructure:"token_url"`
	Audience     string `mapstructure:"audience"`
	CachePath    string `mapstructure:"cache_path"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Brokers returns the bootstrap server list with blanks removed
func (k KafkaConfig) Brokers() []string {
	var out []string
	for _, b := range strings.Split(k.BootstrapServers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// HasAdminAccess reports whether enough is configured to reach a Kafka admin endpoint
func (k KafkaConfig) HasAdminAccess() bool {
	return k.EventHubsConnectionString != "" || len(k.Brokers()) > 0
}

// ValidateDeploy checks everything the deploy command needs and reports all
// missing variables in one error.
func (c *Config) ValidateDeploy() error {
	missing := c.missing(
		envCheck{"CONNECT_URL", c.Connect.URL},
		envCheck{"MASTER_NEO4J_URI", c.Master.URI},
		envCheck{"MASTER_NEO4J_PASSWORD", c.Master.Password},
		envCheck{"SUBSCRIBER_NEO4J_URI", c.Subscriber.URI},
		envCheck{"SUBSCRIBER_NEO4J_PASSWORD", c.Subscriber.Password},
		envCheck{"CDC_TOPIC", c.Topic.Name},
	)
	if c.Topic.RequireOrdering && !c.Kafka.HasAdminAccess() {
		missing = append(missing, "KAFKA_BOOTSTRAP_SERVERS or EVENTHUBS_CONNECTION_STRING")
	}
	if err := missingError(missing); err != nil {
		return err
	}

	if c.Deploy.PollInterval <= 0 {
		return errors.New(errors.ErrorTypeConfig, "DEPLOY_POLL_INTERVAL must be positive")
	}
	if c.Deploy.MaxWait < c.Deploy.PollInterval {
		return errors.New(errors.ErrorTypeConfig, "DEPLOY_MAX_WAIT must be at least DEPLOY_POLL_INTERVAL").
			WithDetail("max_wait", c.Deploy.MaxWait).
			WithDetail("poll_interval", c.Deploy.PollInterval)
	}
	return nil
}

// ValidateStatus checks what the status command needs
func (c *Config) ValidateStatus() error {
	return missingError(c.missing(envCheck{"CONNECT_URL", c.Connect.URL}))
}

// ValidateMaster checks the master database parameters
func (c *Config) ValidateMaster() error {
	return missingError(c.missing(
		envCheck{"MASTER_NEO4J_URI", c.Master.URI},
		envCheck{"MASTER_NEO4J_PASSWORD", c.Master.Password},
	))
}

// ValidateVerify checks that both databases can be reached for a comparison
func (c *Config) ValidateVerify() error {
	return missingError(c.missing(
		envCheck{"MASTER_NEO4J_URI", c.Master.URI},
		envCheck{"MASTER_NEO4J_PASSWORD", c.Master.Password},
		envCheck{"SUBSCRIBER_NEO4J_URI", c.Subscriber.URI},
		envCheck{"SUBSCRIBER_NEO4J_PASSWORD", c.Subscriber.Password},
	))
}

// ValidateHeartbeat checks the heartbeat parameters
func (c *Config) ValidateHeartbeat() error {
	if err := missingError(c.missing(
		envCheck{"NEO4J_URI", c.Heartbeat.URI},
		envCheck{"NEO4J_PASSWORD", c.Heartbeat.Password},
	)); err != nil {
		return err
	}
	if c.Heartbeat.Interval <= 0 {
		return errors.New(errors.ErrorTypeConfig, "HEARTBEAT_INTERVAL must be positive")
	}
	return nil
}

// ValidateAura checks the Aura API credentials
func (c *Config) ValidateAura() error {
	return missingError(c.missing(
		envCheck{"AURA_CLIENT_ID", c.Aura.ClientID},
		envCheck{"AURA_CLIENT_SECRET", c.Aura.ClientSecret},
	))
}

type envCheck struct {
	name  string
	value string
}

func (c *Config) missing(checks ...envCheck) []string {
	var out []string
	for _, ch := range checks {
		if strings.TrimSpace(ch.value) == "" {
			out = append(out, ch.name)
		}
	}
	return out
}

func missingError(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return errors.New(errors.ErrorTypeConfig,
		"missing required environment variables: "+strings.Join(missing, ", ")).
		WithDetail("missing", missing)
}

// Load reads the configuration from the process environment
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}
