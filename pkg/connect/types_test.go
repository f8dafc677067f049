package connect

import (
	"strings"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectorStatus_Running(t *testing.T) {
	tests := []struct {
		name   string
		status ConnectorStatus
		want   bool
	}{
		{
			name:   "connector and task running",
			status: ConnectorStatus{Connector: ConnectorState{State: StateRunning}, Tasks: []TaskStatus{{State: StateRunning}}},
			want:   true,
		},
		{
			name:   "no tasks yet",
			status: ConnectorStatus{Connector: ConnectorState{State: StateRunning}},
			want:   false,
		},
		{
			name:   "task unassigned",
			status: ConnectorStatus{Connector: ConnectorState{State: StateRunning}, Tasks: []TaskStatus{{State: StateRunning}, {ID: 1, State: StateUnassigned}}},
			want:   false,
		},
		{
			name:   "connector paused",
			status: ConnectorStatus{Connector: ConnectorState{State: StatePaused}, Tasks: []TaskStatus{{State: StateRunning}}},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Running())
		})
	}
}

func TestConnectorStatus_Failure(t *testing.T) {
	st := ConnectorStatus{Connector: ConnectorState{State: StateFailed}}
	reason, failed := st.Failure()
	assert.True(t, failed)
	assert.Equal(t, "connector: no trace available", reason)

	st = ConnectorStatus{Connector: ConnectorState{State: StateRunning}, Tasks: []TaskStatus{{State: StateRunning}}}
	_, failed = st.Failure()
	assert.False(t, failed)
}

func TestConnectorStatus_UnknownStateKept(t *testing.T) {
	raw := `{"name":"x","connector":{"state":"DESTROYED","worker_id":"w"},"tasks":[{"id":0,"state":"STOPPED","worker_id":"w"}]}`
	var st ConnectorStatus
	require.NoError(t, gojson.Unmarshal([]byte(raw), &st))

	assert.Equal(t, State("DESTROYED"), st.Connector.State)
	assert.Equal(t, State("STOPPED"), st.Tasks[0].State)
	assert.Equal(t, "DESTROYED [STOPPED]", st.Summary())
	assert.False(t, st.Running())
}

func TestConnectorConfig_Validate(t *testing.T) {
	ok := ConnectorConfig{Name: "a", Class: "b", Settings: map[string]any{"s": "x", "n": 1, "f": 1.5, "b": true}}
	assert.NoError(t, ok.Validate())

	for name, cfg := range map[string]ConnectorConfig{
		"empty name":   {Class: "b"},
		"slash name":   {Name: "a/b", Class: "b"},
		"no class":     {Name: "a"},
		"nested value": {Name: "a", Class: "b", Settings: map[string]any{"m": map[string]any{}}},
	} {
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestConnectorConfig_PartitionCount(t *testing.T) {
	cfg := ConnectorConfig{Name: "a", Class: "b", Settings: map[string]any{KeyTopicPartitions: 1}}
	n, ok, err := cfg.PartitionCount()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, n)

	cfg.Settings[KeyTopicPartitions] = "3"
	n, _, err = cfg.PartitionCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	cfg.Settings[KeyTopicPartitions] = "one"
	_, _, err = cfg.PartitionCount()
	assert.Error(t, err)

	delete(cfg.Settings, KeyTopicPartitions)
	_, ok, err = cfg.PartitionCount()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildSourceConfig(t *testing.T) {
	cfg := BuildSourceConfig(SourceOptions{
		Master: Neo4jEndpoint{URI: "neo4j+s://master.databases.neo4j.io", Password: "pw"},
		Topic:  "cdc-all",
	})

	require.NoError(t, cfg.Validate())
	assert.Equal(t, SourceConnectorName, cfg.Name)
	assert.Equal(t, SourceConnectorClass, cfg.Class)
	assert.Equal(t, "neo4j", cfg.Settings["neo4j.authentication.basic.username"])
	assert.Equal(t, "(),()-[]-()", cfg.Settings["neo4j.cdc.topic.cdc-all.patterns"])

	n, ok, err := cfg.PartitionCount()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, n)

	body, err := cfg.MarshalBody()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `"topic.creation.default.partitions":1`), string(body))
	assert.True(t, strings.Contains(string(body), `"topic.creation.default.replication.factor":1`))
	assert.Contains(t, string(body), `"connector.class":"org.neo4j.connectors.kafka.source.Neo4jConnector"`)
}

func TestBuildSinkConfig(t *testing.T) {
	cfg := BuildSinkConfig(SinkOptions{
		Subscriber: Neo4jEndpoint{URI: "neo4j+s://sub.databases.neo4j.io", Username: "admin", Password: "pw"},
		Topic:      "graph-changes",
	})

	require.NoError(t, cfg.Validate())
	assert.Equal(t, SinkConnectorName, cfg.Name)
	assert.Equal(t, "graph-changes", cfg.Settings[KeyTopics])
	assert.Equal(t, "graph-changes", cfg.Settings[KeyCDCSourceIDTopics])
	assert.Equal(t, "admin", cfg.Settings["neo4j.authentication.basic.username"])
	assert.Equal(t, "neo4j-cdc-dlq", cfg.Settings[KeyDeadLetterTopic])
	assert.Equal(t, "1", cfg.Settings["neo4j.batch-size"])

	_, ok, err := cfg.PartitionCount()
	require.NoError(t, err)
	assert.False(t, ok, "sink does not create topics")
}

func TestBuildConfigs_Deterministic(t *testing.T) {
	opts := SourceOptions{Master: Neo4jEndpoint{URI: "neo4j://m", Password: "pw"}, Topic: "t"}
	a, err := BuildSourceConfig(opts).MarshalBody()
	require.NoError(t, err)
	b, err := BuildSourceConfig(opts).MarshalBody()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
