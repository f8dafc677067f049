package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	gojson "github.com/goccy/go-json"
)

// StubStatus is one scripted answer of GET /connectors/{name}/status
type StubStatus struct {
	Connector string
	Tasks     []string
	// Trace is attached to every FAILED task and to a FAILED connector
	Trace string
}

// Running is a status with the connector and one task RUNNING
var Running = StubStatus{Connector: "RUNNING", Tasks: []string{"RUNNING"}}

// StubCall is a request received by the stub
type StubCall struct {
	Method string
	Path   string
	Body   string
}

type stubConnector struct {
	configs      []string
	script       []StubStatus
	afterRestart []StubStatus
	polls        int
	putCode      int
	putBody      string
}

// ConnectStub is an in-process Kafka Connect REST API. Status answers follow
// a per-connector script; the last entry repeats once the script runs out.
type ConnectStub struct {
	Server *httptest.Server

	mu          sync.Mutex
	connectors  map[string]*stubConnector
	calls       []StubCall
	notReady    int
	restartCode int
}

// NewConnectStub starts a stub server that is closed when the test ends
func NewConnectStub(t *testing.T) *ConnectStub {
	t.Helper()
	s := &ConnectStub{
		connectors:  make(map[string]*stubConnector),
		restartCode: http.StatusNoContent,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Server.Close)
	return s
}

// URL returns the stub's base URL
func (s *ConnectStub) URL() string {
	return s.Server.URL
}

// Script sets the status sequence returned for name once it exists
func (s *ConnectStub) Script(name string, statuses ...StubStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.connector(name)
	c.script = statuses
	c.polls = 0
}

// ScriptAfterRestart replaces the script of name when one of its tasks is restarted
func (s *ConnectStub) ScriptAfterRestart(name string, statuses ...StubStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connector(name).afterRestart = statuses
}

// FailPut makes every config submission for name answer with code and body
func (s *ConnectStub) FailPut(name string, code int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.connector(name)
	c.putCode = code
	c.putBody = body
}

// NotReady makes the next n GET /connectors calls answer 503
func (s *ConnectStub) NotReady(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notReady = n
}

// RestartCode sets the status code of task restart requests
func (s *ConnectStub) RestartCode(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartCode = code
}

// Calls returns every request received so far, in order
func (s *ConnectStub) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallIndex returns the position of the first call matching method and path
// prefix, or -1.
func (s *ConnectStub) CallIndex(method, pathPrefix string) int {
	for i, c := range s.Calls() {
		if c.Method == method && strings.HasPrefix(c.Path, pathPrefix) {
			return i
		}
	}
	return -1
}

// Configs returns every config body submitted for name
func (s *ConnectStub) Configs(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[name]
	if !ok {
		return nil
	}
	out := make([]string, len(c.configs))
	copy(out, c.configs)
	return out
}

// DistinctConfigs returns the number of different config bodies submitted for name
func (s *ConnectStub) DistinctConfigs(name string) int {
	seen := make(map[string]struct{})
	for _, body := range s.Configs(name) {
		seen[body] = struct{}{}
	}
	return len(seen)
}

// StatusPolls returns how many status requests name has received
func (s *ConnectStub) StatusPolls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.connectors[name]; ok {
		return c.polls
	}
	return 0
}

func (s *ConnectStub) connector(name string) *stubConnector {
	c, ok := s.connectors[name]
	if !ok {
		c = &stubConnector{}
		s.connectors[name] = c
	}
	return c
}

func (s *ConnectStub) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, StubCall{Method: r.Method, Path: r.URL.Path, Body: string(body)})

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "connectors":
		if s.notReady > 0 {
			s.notReady--
			http.Error(w, "worker starting", http.StatusServiceUnavailable)
			return
		}
		names := make([]string, 0, len(s.connectors))
		for name, c := range s.connectors {
			if len(c.configs) > 0 {
				names = append(names, name)
			}
		}
		writeJSON(w, http.StatusOK, names)

	case r.Method == http.MethodPut && len(parts) == 3 && parts[2] == "config":
		c := s.connector(parts[1])
		if c.putCode != 0 {
			http.Error(w, c.putBody, c.putCode)
			return
		}
		code := http.StatusOK
		if len(c.configs) == 0 {
			code = http.StatusCreated
		}
		c.configs = append(c.configs, string(body))
		writeJSON(w, code, map[string]any{"name": parts[1]})

	case r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "status":
		c, ok := s.connectors[parts[1]]
		if !ok || len(c.configs) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error_code": 404,
				"message":    "No status found for connector " + parts[1],
			})
			return
		}
		st := Running
		if len(c.script) > 0 {
			i := c.polls
			if i >= len(c.script) {
				i = len(c.script) - 1
			}
			st = c.script[i]
		}
		c.polls++
		writeJSON(w, http.StatusOK, renderStatus(parts[1], st))

	case r.Method == http.MethodPost && len(parts) == 5 && parts[2] == "tasks" && parts[4] == "restart":
		c := s.connector(parts[1])
		if c.afterRestart != nil {
			c.script = c.afterRestart
			c.afterRestart = nil
			c.polls = 0
		}
		w.WriteHeader(s.restartCode)

	default:
		http.NotFound(w, r)
	}
}

func renderStatus(name string, st StubStatus) map[string]any {
	connector := map[string]any{"state": st.Connector, "worker_id": "10.0.0.4:8083"}
	if st.Connector == "FAILED" {
		connector["trace"] = st.Trace
	}
	tasks := make([]map[string]any, 0, len(st.Tasks))
	for i, state := range st.Tasks {
		task := map[string]any{"id": i, "state": state, "worker_id": "10.0.0.4:8083"}
		if state == "FAILED" {
			task["trace"] = st.Trace
		}
		tasks = append(tasks, task)
	}
	return map[string]any{
		"name":      name,
		"connector": connector,
		"tasks":     tasks,
		"type":      "source",
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = gojson.NewEncoder(w).Encode(v)
}
