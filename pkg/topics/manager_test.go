package topics

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/cdcsync/pkg/config"
	"github.com/ajitpratap0/cdcsync/pkg/errors"
	"github.com/ajitpratap0/cdcsync/pkg/testutil"
)

type fakeAdmin struct {
	mu          sync.Mutex
	topics      map[string]int
	created     []*sarama.TopicDetail
	describeErr error
	createErr   error
	closed      int
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{topics: make(map[string]int)}
}

func (f *fakeAdmin) DescribeTopics(names []string) ([]*sarama.TopicMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	out := make([]*sarama.TopicMetadata, 0, len(names))
	for _, name := range names {
		n, ok := f.topics[name]
		if !ok {
			out = append(out, &sarama.TopicMetadata{Name: name, Err: sarama.ErrUnknownTopicOrPartition})
			continue
		}
		meta := &sarama.TopicMetadata{Name: name, Err: sarama.ErrNoError}
		for i := 0; i < n; i++ {
			meta.Partitions = append(meta.Partitions, &sarama.PartitionMetadata{ID: int32(i)})
		}
		out = append(out, meta)
	}
	return out, nil
}

func (f *fakeAdmin) CreateTopic(topic string, detail *sarama.TopicDetail, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, detail)
	f.topics[topic] = int(detail.NumPartitions)
	return nil
}

func (f *fakeAdmin) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func TestManager_EnsureCreatesMissingTopic(t *testing.T) {
	admin := newFakeAdmin()
	m := NewManagerWithAdmin(admin, 3, testutil.TestLogger(t))

	require.NoError(t, m.Ensure(context.Background(), "cdc-all", 1))
	require.Len(t, admin.created, 1)
	assert.Equal(t, int32(1), admin.created[0].NumPartitions)
	assert.Equal(t, int16(3), admin.created[0].ReplicationFactor)

	require.NoError(t, m.Ensure(context.Background(), "cdc-all", 1))
	assert.Len(t, admin.created, 1, "existing topic is left alone")
}

func TestManager_EnsureRejectsMultiPartitionTopic(t *testing.T) {
	admin := newFakeAdmin()
	admin.topics["cdc-all"] = 4
	m := NewManagerWithAdmin(admin, 1, testutil.TestLogger(t))

	err := m.Ensure(context.Background(), "cdc-all", 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePartitionMismatch))
	assert.Equal(t, 4, errors.DetailOf(err, "actual"))
	assert.Empty(t, admin.created)
}

func TestManager_EnsureToleratesConcurrentCreate(t *testing.T) {
	admin := newFakeAdmin()
	admin.createErr = &sarama.TopicError{Err: sarama.ErrTopicAlreadyExists}
	m := NewManagerWithAdmin(admin, 1, testutil.TestLogger(t))

	// The topic still does not show up, so verification must fail.
	err := m.Ensure(context.Background(), "cdc-all", 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePartitionMismatch))
}

func TestManager_VerifyMissingTopic(t *testing.T) {
	m := NewManagerWithAdmin(newFakeAdmin(), 1, testutil.TestLogger(t))

	n, err := m.Verify(context.Background(), "cdc-all", 1)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, errors.IsType(err, errors.ErrorTypePartitionMismatch))
}

func TestManager_DescribeFailure(t *testing.T) {
	admin := newFakeAdmin()
	admin.describeErr = stderrors.New("broker unreachable")
	m := NewManagerWithAdmin(admin, 1, testutil.TestLogger(t))

	_, err := m.Verify(context.Background(), "cdc-all", 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.False(t, errors.IsType(err, errors.ErrorTypePartitionMismatch))
}

func TestManager_CancelledContext(t *testing.T) {
	m := NewManagerWithAdmin(newFakeAdmin(), 1, testutil.TestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Ensure(ctx, "cdc-all", 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestManager_CloseOnce(t *testing.T) {
	admin := newFakeAdmin()
	m := NewManagerWithAdmin(admin, 1, nil)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 1, admin.closed)
}

func TestBuildSaramaConfig(t *testing.T) {
	t.Run("event hubs", func(t *testing.T) {
		conn := "Endpoint=sb://cdc-ns.servicebus.windows.net/;SharedAccessKeyName=RootManageSharedAccessKey;SharedAccessKey=abc+def="
		brokers, cfg, err := buildSaramaConfig(config.KafkaConfig{
			BootstrapServers:          "ignored:9092",
			EventHubsConnectionString: conn,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"cdc-ns.servicebus.windows.net:9093"}, brokers)
		assert.True(t, cfg.Net.TLS.Enable)
		assert.True(t, cfg.Net.SASL.Enable)
		assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypePlaintext), cfg.Net.SASL.Mechanism)
		assert.Equal(t, "$ConnectionString", cfg.Net.SASL.User)
		assert.Equal(t, conn, cfg.Net.SASL.Password)
	})

	t.Run("plain brokers", func(t *testing.T) {
		brokers, cfg, err := buildSaramaConfig(config.KafkaConfig{BootstrapServers: "a:9092,b:9092"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a:9092", "b:9092"}, brokers)
		assert.False(t, cfg.Net.TLS.Enable)
		assert.False(t, cfg.Net.SASL.Enable)
	})

	t.Run("unsupported mechanism", func(t *testing.T) {
		_, _, err := buildSaramaConfig(config.KafkaConfig{BootstrapServers: "a:9092", SASLMechanism: "GSSAPI"})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	})

	t.Run("no brokers", func(t *testing.T) {
		_, _, err := buildSaramaConfig(config.KafkaConfig{})
		require.Error(t, err)
	})
}

func TestParseEventHubs(t *testing.T) {
	eh, err := ParseEventHubs("Endpoint=sb://ns1.servicebus.windows.net/;SharedAccessKeyName=send;SharedAccessKey=k==;EntityPath=cdc-all")
	require.NoError(t, err)
	assert.Equal(t, "ns1.servicebus.windows.net", eh.Host)
	assert.Equal(t, "send", eh.KeyName)
	assert.Equal(t, "k==", eh.Key)
	assert.Equal(t, "cdc-all", eh.EntityPath)
	assert.Equal(t, "ns1.servicebus.windows.net:9093", eh.Broker())

	for _, bad := range []string{
		"",
		"SharedAccessKeyName=a;SharedAccessKey=b",
		"Endpoint=sb://ns1.servicebus.windows.net/",
		"Endpoint=sb://ns1.servicebus.windows.net/;garbage",
	} {
		_, err := ParseEventHubs(bad)
		assert.Error(t, err, bad)
	}
}
