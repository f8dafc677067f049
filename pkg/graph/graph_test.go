package graph

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ajitpratap0/cdcsync/pkg/errors"
	"github.com/ajitpratap0/cdcsync/pkg/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	cypher string
	params map[string]any
}

type fakeRunner struct {
	mu     sync.Mutex
	read   func(n int, cypher string) ([]map[string]any, error)
	write  func(n int, cypher string) error
	reads  []call
	writes []call
	closed int
}

func (f *fakeRunner) Read(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, call{cypher, params})
	if f.read == nil {
		return nil, nil
	}
	return f.read(len(f.reads), cypher)
}

func (f *fakeRunner) Write(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, call{cypher, params})
	if f.write == nil {
		return nil, nil
	}
	return nil, f.write(len(f.writes), cypher)
}

func (f *fakeRunner) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeRunner) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeRunner) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func fastReady() ReadyOptions {
	return ReadyOptions{Timeout: time.Second, Interval: 5 * time.Millisecond}
}

func TestWaitForCDCReady_RetriesWhileInitializing(t *testing.T) {
	r := &fakeRunner{read: func(n int, _ string) ([]map[string]any, error) {
		if n < 3 {
			return nil, stderrors.New("There is no procedure with the name `db.cdc.current` registered")
		}
		return []map[string]any{{"id": "A3vUzO0nWTWU"}}, nil
	}}

	id, err := WaitForCDCReady(context.Background(), r, fastReady(), testutil.TestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "A3vUzO0nWTWU", id)
	assert.Len(t, r.reads, 3)
}

func TestWaitForCDCReady_UnexpectedErrorFailsFast(t *testing.T) {
	r := &fakeRunner{read: func(int, string) ([]map[string]any, error) {
		return nil, stderrors.New("authentication failure")
	}}

	_, err := WaitForCDCReady(context.Background(), r, fastReady(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	assert.Len(t, r.reads, 1)
}

func TestWaitForCDCReady_Timeout(t *testing.T) {
	r := &fakeRunner{read: func(int, string) ([]map[string]any, error) {
		return nil, stderrors.New("CDC is not enabled")
	}}

	start := time.Now()
	_, err := WaitForCDCReady(context.Background(), r,
		ReadyOptions{Timeout: 50 * time.Millisecond, Interval: 10 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForCDCReady_EmptyResultKeepsWaiting(t *testing.T) {
	r := &fakeRunner{}

	_, err := WaitForCDCReady(context.Background(), r,
		ReadyOptions{Timeout: 30 * time.Millisecond, Interval: 5 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Greater(t, len(r.reads), 1)
}

func TestWaitForCDCReady_ContextCancelled(t *testing.T) {
	r := &fakeRunner{read: func(int, string) ([]map[string]any, error) {
		return nil, stderrors.New("procedure not found")
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WaitForCDCReady(ctx, r, fastReady(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCDCNotReady(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"There is no procedure with the name `db.cdc.current`", true},
		{"Database not found", true},
		{"CDC feature disabled", true},
		{"authentication failure", false},
		{"connection refused", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, cdcNotReady(stderrors.New(tt.msg)))
		})
	}
}

func TestVerifyCapturing(t *testing.T) {
	r := &fakeRunner{read: func(_ int, cypher string) ([]map[string]any, error) {
		if cypher == currentChangeQuery {
			return []map[string]any{{"id": "from-1"}}, nil
		}
		return []map[string]any{{"changes": int64(2)}}, nil
	}}

	changes, err := VerifyCapturing(context.Background(), r, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), changes)

	require.Len(t, r.writes, 2)
	assert.Equal(t, createProbeQuery, r.writes[0].cypher)
	assert.Equal(t, deleteProbeQuery, r.writes[1].cypher)
	id, _ := r.writes[0].params["id"].(string)
	assert.True(t, strings.HasPrefix(id, "cdc-test-"))
	assert.Equal(t, id, r.writes[1].params["id"])

	require.Len(t, r.reads, 2)
	assert.Equal(t, "from-1", r.reads[1].params["fromId"])
}

func TestVerifyCapturing_TooFewChanges(t *testing.T) {
	r := &fakeRunner{read: func(_ int, cypher string) ([]map[string]any, error) {
		if cypher == currentChangeQuery {
			return []map[string]any{{"id": "from-1"}}, nil
		}
		return []map[string]any{{"changes": int64(0)}}, nil
	}}

	changes, err := VerifyCapturing(context.Background(), r, time.Millisecond)
	require.Error(t, err)
	assert.Zero(t, changes)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestVerifyCapturing_WriteFails(t *testing.T) {
	r := &fakeRunner{
		read: func(int, string) ([]map[string]any, error) {
			return []map[string]any{{"id": "from-1"}}, nil
		},
		write: func(int, string) error { return stderrors.New("read-only database") },
	}

	_, err := VerifyCapturing(context.Background(), r, time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	assert.Len(t, r.reads, 1)
}

func fastHeartbeat() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:     5 * time.Millisecond,
		MaxFailures:  3,
		ReconnectMin: time.Millisecond,
		ReconnectMax: 5 * time.Millisecond,
	}
}

func runHeartbeat(t *testing.T, hb *Heartbeat) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hb.Run(ctx) }()
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat did not stop")
		return nil
	}
}

func TestHeartbeat_InitialConnectFailure(t *testing.T) {
	hb := NewHeartbeat(func(context.Context) (Runner, error) {
		return nil, stderrors.New("connection refused")
	}, fastHeartbeat(), testutil.TestLogger(t))

	err := hb.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestHeartbeat_WritesUntilCancelled(t *testing.T) {
	r := &fakeRunner{}
	hb := NewHeartbeat(func(context.Context) (Runner, error) { return r, nil },
		fastHeartbeat(), testutil.TestLogger(t))

	cancel, done := runHeartbeat(t, hb)
	testutil.AssertEventually(t, func() bool { return r.writeCount() >= 3 }, time.Second, "heartbeats written")
	cancel()

	require.NoError(t, waitDone(t, done))
	assert.Equal(t, 1, r.closeCount())
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, heartbeatQuery, r.writes[0].cypher)
}

func TestHeartbeat_ReconnectsAfterConsecutiveFailures(t *testing.T) {
	broken := &fakeRunner{write: func(int, string) error { return stderrors.New("broken pipe") }}
	healthy := &fakeRunner{}

	var mu sync.Mutex
	dials := 0
	dial := func(context.Context) (Runner, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		switch dials {
		case 1:
			return broken, nil
		case 2:
			return nil, stderrors.New("still down")
		default:
			return healthy, nil
		}
	}

	hb := NewHeartbeat(dial, fastHeartbeat(), testutil.TestLogger(t))
	cancel, done := runHeartbeat(t, hb)
	testutil.AssertEventually(t, func() bool { return healthy.writeCount() >= 1 }, time.Second, "heartbeats resumed")
	cancel()
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, 3, broken.writeCount())
	assert.Equal(t, 1, broken.closeCount())
	assert.Equal(t, 1, healthy.closeCount())
	mu.Lock()
	assert.Equal(t, 3, dials)
	mu.Unlock()
}

func TestHeartbeat_FailureCountResetsOnSuccess(t *testing.T) {
	// every other write fails, so the failure streak never reaches MaxFailures
	r := &fakeRunner{write: func(n int, _ string) error {
		if n%2 == 0 {
			return stderrors.New("transient")
		}
		return nil
	}}
	dials := 0
	hb := NewHeartbeat(func(context.Context) (Runner, error) {
		dials++
		return r, nil
	}, HeartbeatConfig{Interval: time.Millisecond, MaxFailures: 2}, nil)

	cancel, done := runHeartbeat(t, hb)
	testutil.AssertEventually(t, func() bool { return r.writeCount() >= 10 }, time.Second, "heartbeats written")
	cancel()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, 1, dials)
}

func TestHeartbeat_CancelDuringReconnect(t *testing.T) {
	broken := &fakeRunner{write: func(int, string) error { return stderrors.New("broken pipe") }}
	var mu sync.Mutex
	dials := 0
	dial := func(context.Context) (Runner, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return broken, nil
		}
		return nil, stderrors.New("down")
	}

	hb := NewHeartbeat(dial, fastHeartbeat(), nil)
	cancel, done := runHeartbeat(t, hb)
	testutil.AssertEventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials >= 3
	}, time.Second, "reconnect attempts")
	cancel()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, 1, broken.closeCount())
}

func TestNewHeartbeat_Defaults(t *testing.T) {
	hb := NewHeartbeat(nil, HeartbeatConfig{}, nil)
	assert.Equal(t, 30*time.Second, hb.config.Interval)
	assert.Equal(t, 10, hb.config.MaxFailures)
	assert.Equal(t, time.Second, hb.config.ReconnectMin)
	assert.Equal(t, 30*time.Second, hb.config.ReconnectMax)
}
