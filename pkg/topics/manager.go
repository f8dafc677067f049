// Package topics guards the single-partition CDC topic through the Kafka
// admin API. Both plain Kafka clusters and the Event Hubs Kafka endpoint are
// supported.
package topics

import (
	"context"
	"crypto/tls"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/cdcsync/pkg/config"
	"github.com/ajitpratap0/cdcsync/pkg/errors"
	"github.com/ajitpratap0/cdcsync/pkg/metrics"
	"github.com/ajitpratap0/cdcsync/pkg/observability"
)

// Admin is the subset of sarama.ClusterAdmin the manager uses
type Admin interface {
	DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	Close() error
}

// Manager creates and verifies topics
type Manager struct {
	admin       Admin
	logger      *zap.Logger
	replication int16

	mu     sync.Mutex
	closed bool
}

// NewManager connects a cluster admin using cfg
func NewManager(cfg config.KafkaConfig, logger *zap.Logger) (*Manager, error) {
	brokers, saramaCfg, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	admin, err := sarama.NewClusterAdmin(brokers, saramaCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connect to Kafka admin").
			WithDetail("brokers", strings.Join(brokers, ","))
	}

	return NewManagerWithAdmin(admin, int16(cfg.ReplicationFactor), logger), nil
}

// NewManagerWithAdmin wraps an existing admin client
func NewManagerWithAdmin(admin Admin, replication int16, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if replication <= 0 {
		replication = 1
	}
	return &Manager{
		admin:       admin,
		logger:      logger.With(zap.String("component", "topic_manager")),
		replication: replication,
	}
}

// Ensure creates topic with the given partition count when it does not exist
// and then verifies the count. An existing topic is never altered.
func (m *Manager) Ensure(ctx context.Context, topic string, partitions int) error {
	ctx, span := observability.StartSpan(ctx, "topics.ensure")
	defer span.End()
	span.SetAttribute("topic", topic)

	meta, err := m.describe(ctx, topic)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if meta == nil {
		detail := &sarama.TopicDetail{
			NumPartitions:     int32(partitions),
			ReplicationFactor: m.replication,
		}
		err := m.admin.CreateTopic(topic, detail, false)
		switch {
		case err == nil:
			metrics.TopicChecks.WithLabelValues("created").Inc()
			m.logger.Info("topic created",
				zap.String("topic", topic),
				zap.Int("partitions", partitions))
		case alreadyExists(err):
			m.logger.Debug("topic created concurrently", zap.String("topic", topic))
		default:
			metrics.TopicChecks.WithLabelValues("error").Inc()
			wrapped := errors.Wrap(err, errors.ErrorTypeConnection, "create topic").
				WithDetail("topic", topic)
			span.RecordError(wrapped)
			return wrapped
		}
	}

	if _, err := m.Verify(ctx, topic, partitions); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Verify returns the partition count of topic and a PartitionMismatch error
// when it differs from want or the topic cannot be found.
func (m *Manager) Verify(ctx context.Context, topic string, want int) (int, error) {
	meta, err := m.describe(ctx, topic)
	if err != nil {
		return 0, err
	}
	if meta == nil {
		metrics.TopicChecks.WithLabelValues("mismatch").Inc()
		return 0, errors.New(errors.ErrorTypePartitionMismatch, "topic does not exist").
			WithDetail("topic", topic).
			WithDetail("expected", want)
	}

	got := len(meta.Partitions)
	if got != want {
		metrics.TopicChecks.WithLabelValues("mismatch").Inc()
		return got, errors.Newf(errors.ErrorTypePartitionMismatch,
			"topic has %d partitions, ordered delivery needs %d", got, want).
			WithDetail("topic", topic).
			WithDetail("expected", want).
			WithDetail("actual", got)
	}

	metrics.TopicChecks.WithLabelValues("verified").Inc()
	m.logger.Debug("topic partitions verified",
		zap.String("topic", topic),
		zap.Int("partitions", got))
	return got, nil
}

// Close releases the admin connection
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.admin.Close()
}

// describe returns nil metadata when the topic does not exist
func (m *Manager) describe(ctx context.Context, topic string) (*sarama.TopicMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "describe topic").
			WithDetail("topic", topic)
	}

	metas, err := m.admin.DescribeTopics([]string{topic})
	if err != nil {
		metrics.TopicChecks.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "describe topic").
			WithDetail("topic", topic)
	}

	for _, meta := range metas {
		if meta == nil || meta.Name != topic {
			continue
		}
		switch meta.Err {
		case sarama.ErrNoError:
			return meta, nil
		case sarama.ErrUnknownTopicOrPartition:
			return nil, nil
		default:
			return nil, errors.Wrap(meta.Err, errors.ErrorTypeConnection, "describe topic").
				WithDetail("topic", topic)
		}
	}
	return nil, nil
}

func alreadyExists(err error) bool {
	var topicErr *sarama.TopicError
	if errors.As(err, &topicErr) {
		return topicErr.Err == sarama.ErrTopicAlreadyExists
	}
	return errors.Is(err, sarama.ErrTopicAlreadyExists)
}

// buildSaramaConfig builds the admin client configuration. An Event Hubs
// connection string takes precedence over explicit brokers and credentials.
func buildSaramaConfig(cfg config.KafkaConfig) ([]string, *sarama.Config, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = "cdcsync"
	saramaCfg.Version = sarama.V1_0_0_0

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	saramaCfg.Admin.Timeout = timeout
	saramaCfg.Net.DialTimeout = timeout
	saramaCfg.Net.ReadTimeout = timeout
	saramaCfg.Net.WriteTimeout = timeout
	saramaCfg.Metadata.Retry.Max = 1

	brokers := cfg.Brokers()
	mechanism := strings.ToUpper(cfg.SASLMechanism)
	user, password := cfg.SASLUsername, cfg.SASLPassword
	enableTLS := cfg.EnableTLS

	if cfg.EventHubsConnectionString != "" {
		eh, err := ParseEventHubs(cfg.EventHubsConnectionString)
		if err != nil {
			return nil, nil, err
		}
		brokers = []string{eh.Broker()}
		mechanism = "PLAIN"
		user = eventHubsUser
		password = cfg.EventHubsConnectionString
		enableTLS = true
	}

	if len(brokers) == 0 {
		return nil, nil, errors.New(errors.ErrorTypeConfig, "no Kafka brokers configured")
	}

	if enableTLS {
		saramaCfg.Net.TLS.Enable = true
		saramaCfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	switch mechanism {
	case "":
	case "PLAIN":
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		saramaCfg.Net.SASL.User = user
		saramaCfg.Net.SASL.Password = password
		saramaCfg.Net.SASL.Handshake = true
	default:
		return nil, nil, errors.Newf(errors.ErrorTypeConfig, "unsupported SASL mechanism %q", cfg.SASLMechanism)
	}

	if err := saramaCfg.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid Kafka client configuration")
	}
	return brokers, saramaCfg, nil
}
