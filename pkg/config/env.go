package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/cdcsync/pkg/errors"
)

// binding maps a config key to its environment variables, first match wins.
type binding struct {
	key  string
	envs []string
	def  interface{}
}

var bindings = []binding{
	{"connect.url", []string{"CONNECT_URL"}, ""},
	{"connect.ready_timeout", []string{"CONNECT_READY_TIMEOUT"}, 240 * time.Second},
	{"connect.ready_interval", []string{"CONNECT_READY_INTERVAL"}, 5 * time.Second},
	{"connect.submit_timeout", []string{"CONNECT_SUBMIT_TIMEOUT"}, 120 * time.Second},
	{"connect.request_timeout", []string{"CONNECT_REQUEST_TIMEOUT"}, 10 * time.Second},

	{"master.uri", []string{"MASTER_NEO4J_URI"}, ""},
	{"master.username", []string{"MASTER_NEO4J_USERNAME"}, "neo4j"},
	{"master.password", []string{"MASTER_NEO4J_PASSWORD"}, ""},
	{"master.database", []string{"MASTER_NEO4J_DATABASE"}, "neo4j"},

	{"subscriber.uri", []string{"SUBSCRIBER_NEO4J_URI"}, ""},
	{"subscriber.username", []string{"SUBSCRIBER_NEO4J_USERNAME"}, "neo4j"},
	{"subscriber.password", []string{"SUBSCRIBER_NEO4J_PASSWORD"}, ""},
	{"subscriber.database", []string{"SUBSCRIBER_NEO4J_DATABASE"}, "neo4j"},

	{"topic.name", []string{"CDC_TOPIC"}, "cdc-all"},
	{"topic.dlq", []string{"CDC_DLQ_TOPIC"}, "neo4j-cdc-dlq"},
	{"topic.require_ordering", []string{"REQUIRE_ORDERING"}, true},

	{"kafka.bootstrap_servers", []string{"KAFKA_BOOTSTRAP_SERVERS"}, ""},
	{"kafka.eventhubs_connection_string", []string{"EVENTHUBS_CONNECTION_STRING"}, ""},
	{"kafka.sasl_mechanism", []string{"KAFKA_SASL_MECHANISM"}, ""},
	{"kafka.sasl_username", []string{"KAFKA_SASL_USERNAME"}, ""},
	{"kafka.sasl_password", []string{"KAFKA_SASL_PASSWORD"}, ""},
	{"kafka.enable_tls", []string{"KAFKA_ENABLE_TLS"}, false},
	{"kafka.replication_factor", []string{"KAFKA_REPLICATION_FACTOR"}, 1},
	{"kafka.timeout", []string{"KAFKA_TIMEOUT"}, 30 * time.Second},

	{"deploy.max_wait", []string{"DEPLOY_MAX_WAIT"}, 60 * time.Second},
	{"deploy.poll_interval", []string{"DEPLOY_POLL_INTERVAL"}, 5 * time.Second},
	{"deploy.restart_source_task", []string{"RESTART_SOURCE_TASK"}, true},

	{"heartbeat.uri", []string{"NEO4J_URI"}, ""},
	{"heartbeat.username", []string{"NEO4J_USERNAME"}, "neo4j"},
	{"heartbeat.password", []string{"NEO4J_PASSWORD"}, ""},
	{"heartbeat.database", []string{"NEO4J_DATABASE"}, "neo4j"},
	{"heartbeat.interval", []string{"HEARTBEAT_INTERVAL"}, 30 * time.Second},
	{"heartbeat.max_failures", []string{"HEARTBEAT_MAX_FAILURES"}, 10},
	{"heartbeat.metrics_addr", []string{"HEARTBEAT_METRICS_ADDR"}, ""},

	{"aura.client_id", []string{"TF_VAR_aura_client_id", "AURA_CLIENT_ID"}, ""},
	{"aura.client_secret", []string{"TF_VAR_aura_client_secret", "AURA_CLIENT_SECRET"}, ""},
	{"aura.token_url", []string{"AURA_TOKEN_URL"}, "https://api.neo4j.io/oauth/token"},
	{"aura.audience", []string{"AURA_AUDIENCE"}, "https://api.neo4j.io/"},
	{"aura.cache_path", []string{"AURA_TOKEN_CACHE"}, ""},

	{"log.level", []string{"LOG_LEVEL"}, "info"},
	{"log.format", []string{"LOG_FORMAT"}, "json"},
}

// LoadFrom binds every key of v to the environment and decodes the result.
// Tests pass a fresh viper instance after setting variables with t.Setenv.
func LoadFrom(v *viper.Viper) (*Config, error) {
	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		args := append([]string{b.key}, b.envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "bind environment").
				WithDetail("key", b.key)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsOrDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "decode environment")
	}
	return &cfg, nil
}

// secondsOrDurationHook accepts Go durations ("90s", "2m") and bare integers,
// which are read as seconds ("30" == 30s) as the shell tooling writes them.
func secondsOrDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) || from.Kind() != reflect.String {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if s == "" {
			return time.Duration(0), nil
		}
		if n, err := strconv.Atoi(s); err == nil {
			return time.Duration(n) * time.Second, nil
		}
		return time.ParseDuration(s)
	}
}
