package connect

import "fmt"

// Connector names used by the CDC pipeline
const (
	SourceConnectorName = "neo4j-master-publisher"
	SinkConnectorName   = "neo4j-subscriber-consumer"

	SourceConnectorClass = "org.neo4j.connectors.kafka.source.Neo4jConnector"
	SinkConnectorClass   = "org.neo4j.connectors.kafka.sink.Neo4jConnector"

	jsonConverter = "org.apache.kafka.connect.json.JsonConverter"
)

// Neo4jEndpoint is the database a connector reads from or writes to
type Neo4jEndpoint struct {
	URI      string
	Username string
	Password string
}

// SourceOptions parameterizes the CDC source connector
type SourceOptions struct {
	Master Neo4jEndpoint
	Topic  string
	// Partitions is the partition count requested when Connect creates the
	// topic. Ordered delivery needs exactly 1.
	Partitions        int
	ReplicationFactor int
}

// SinkOptions parameterizes the CDC sink connector
type SinkOptions struct {
	Subscriber Neo4jEndpoint
	Topic      string
	DLQ        string
}

// BuildSourceConfig returns the Neo4j CDC source connector config. It
// captures every node and relationship change on the master and publishes
// them to a single topic.
func BuildSourceConfig(opts SourceOptions) ConnectorConfig {
	partitions := opts.Partitions
	if partitions == 0 {
		partitions = 1
	}
	replication := opts.ReplicationFactor
	if replication == 0 {
		replication = 1
	}

	settings := map[string]any{
		KeyTasksMax:                           "1",
		KeyNeo4jURI:                           opts.Master.URI,
		"neo4j.authentication.type":           "BASIC",
		"neo4j.authentication.basic.username": usernameOrDefault(opts.Master.Username),
		KeyNeo4jBasicPass:                     opts.Master.Password,
		"neo4j.source-strategy":               "CDC",
		"neo4j.start-from":                    "EARLIEST",
		"neo4j.cdc.poll-interval":             "1s",
		"errors.tolerance":                    "none",
		// Numbers, not strings: Connect rejects "1" for these two.
		KeyTopicPartitions:  partitions,
		KeyTopicReplication: replication,
	}
	settings[fmt.Sprintf(KeyCDCTopicPatterns, opts.Topic)] = "(),()-[]-()"
	addDriverSettings(settings)
	addConverterSettings(settings)
	addErrorLogSettings(settings)

	return ConnectorConfig{
		Name:     SourceConnectorName,
		Class:    SourceConnectorClass,
		Settings: settings,
	}
}

// BuildSinkConfig returns the Neo4j CDC sink connector config. Events are
// applied one at a time with the source-id strategy so the subscriber mirrors
// the master's element ids.
func BuildSinkConfig(opts SinkOptions) ConnectorConfig {
	dlq := opts.DLQ
	if dlq == "" {
		dlq = "neo4j-cdc-dlq"
	}

	settings := map[string]any{
		KeyTasksMax:                           "1",
		KeyTopics:                             opts.Topic,
		KeyNeo4jURI:                           opts.Subscriber.URI,
		"neo4j.authentication.type":           "BASIC",
		"neo4j.authentication.basic.username": usernameOrDefault(opts.Subscriber.Username),
		KeyNeo4jBasicPass:                     opts.Subscriber.Password,
		KeyCDCSourceIDTopics:                  opts.Topic,
		"neo4j.cdc.source-id.label-name":      "SourceEvent",
		"neo4j.cdc.source-id.property-name":   "sourceId",
		"neo4j.batch-size":                    "1",
		"neo4j.batch-timeout":                 "0s",
		"neo4j.retry-backoff-ms":              "1000",
		"neo4j.retry-max-attempts":            "10",
		"consumer.override.fetch.max.wait.ms": "100",
		"errors.tolerance":                    "none",
		"errors.retry.timeout":                "120000",
		"errors.retry.delay.max.ms":           "10000",
		KeyDeadLetterTopic:                    dlq,
		"errors.deadletterqueue.topic.replication.factor": "1",
		"errors.deadletterqueue.context.headers.enable":   "true",
	}
	addDriverSettings(settings)
	addConverterSettings(settings)
	addErrorLogSettings(settings)

	return ConnectorConfig{
		Name:     SinkConnectorName,
		Class:    SinkConnectorClass,
		Settings: settings,
	}
}

func addDriverSettings(s map[string]any) {
	s["neo4j.connection-timeout"] = "30s"
	s["neo4j.max-retry-time"] = "30s"
	s["neo4j.pool.max-connection-pool-size"] = "10"
	s["neo4j.pool.connection-acquisition-timeout"] = "60s"
	s["neo4j.pool.max-connection-lifetime"] = "30m"
	s["neo4j.pool.idle-time-before-connection-test"] = "1m"
}

func addConverterSettings(s map[string]any) {
	s["key.converter"] = jsonConverter
	s["value.converter"] = jsonConverter
	s["key.converter.schemas.enable"] = "true"
	s["value.converter.schemas.enable"] = "true"
}

func addErrorLogSettings(s map[string]any) {
	s["errors.log.enable"] = "true"
	s["errors.log.include.messages"] = "true"
}

func usernameOrDefault(u string) string {
	if u == "" {
		return "neo4j"
	}
	return u
}
