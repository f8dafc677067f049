package topics

import (
	"net/url"
	"strings"

	"github.com/ajitpratap0/cdcsync/pkg/errors"
)

// eventHubsUser is the fixed SASL PLAIN user name of the Event Hubs Kafka endpoint
const eventHubsUser = "$ConnectionString"

// eventHubsKafkaPort is the Kafka protocol port of an Event Hubs namespace
const eventHubsKafkaPort = "9093"

// EventHubs holds the parts of an Event Hubs connection string
type EventHubs struct {
	Host    string
	KeyName string
	Key     string
	// EntityPath is set for hub-scoped connection strings
	EntityPath string
}

// Broker returns the namespace's Kafka bootstrap address
func (e EventHubs) Broker() string {
	return e.Host + ":" + eventHubsKafkaPort
}

// ParseEventHubs parses
// "Endpoint=sb://<ns>.servicebus.windows.net/;SharedAccessKeyName=...;SharedAccessKey=...".
// The key itself may contain '=' characters.
func ParseEventHubs(connStr string) (EventHubs, error) {
	var eh EventHubs
	var endpoint string

	for _, part := range strings.Split(connStr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return EventHubs{}, errors.New(errors.ErrorTypeConfig, "malformed Event Hubs connection string segment")
		}
		switch strings.ToLower(k) {
		case "endpoint":
			endpoint = v
		case "sharedaccesskeyname":
			eh.KeyName = v
		case "sharedaccesskey":
			eh.Key = v
		case "entitypath":
			eh.EntityPath = v
		}
	}

	if endpoint == "" {
		return EventHubs{}, errors.New(errors.ErrorTypeConfig, "Event Hubs connection string has no Endpoint")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return EventHubs{}, errors.New(errors.ErrorTypeConfig, "Event Hubs endpoint is not a URL").
			WithDetail("endpoint", endpoint)
	}
	eh.Host = u.Hostname()

	if eh.KeyName == "" || eh.Key == "" {
		return EventHubs{}, errors.New(errors.ErrorTypeConfig, "Event Hubs connection string is missing its shared access key").
			WithDetail("host", eh.Host)
	}
	return eh, nil
}
