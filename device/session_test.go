package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

// fakeConn is an in-memory connection for session tests.
type fakeConn struct {
	mu          sync.Mutex
	state       ConnState
	failConnect bool
	published   []fakeMessage
	inbound     chan Inbound
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan Inbound, inboundQueueSize)}
}

func (f *fakeConn) Connect(timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failConnect {
		f.state = ConnError
		return errors.New("connect: no acknowledgment")
	}
	f.state = Connected
	return nil
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = Disconnected
}

func (f *fakeConn) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Connected {
		return ErrNotConnected
	}
	f.published = append(f.published, fakeMessage{topic, append([]byte(nil), payload...)})
	return nil
}

func (f *fakeConn) IsConnected() bool {
	return f.State() == Connected
}

func (f *fakeConn) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) Inbound() <-chan Inbound {
	return f.inbound
}

func (f *fakeConn) messages(topic string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, m := range f.published {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

// stubBehavior records handled commands and serves a fixed payload.
type stubBehavior struct {
	payload map[string]interface{}
	state   map[string]interface{}
	handled []Command
}

func newStubBehavior(payload map[string]interface{}) *stubBehavior {
	return &stubBehavior{payload: payload, state: map[string]interface{}{}}
}

func (b *stubBehavior) GenerateTelemetry() map[string]interface{} { return b.payload }

func (b *stubBehavior) HandleCommand(cmd Command) {
	b.handled = append(b.handled, cmd)
	b.state["last_action"] = cmd.Action
}

func (b *stubBehavior) State() map[string]interface{} { return b.state }

// faultyBehavior fails hard on every reading.
type faultyBehavior struct{}

func (b *faultyBehavior) GenerateTelemetry() map[string]interface{} {
	panic("sensor hardware fault")
}
func (b *faultyBehavior) HandleCommand(Command)          {}
func (b *faultyBehavior) State() map[string]interface{} { return nil }

func testSession(t *testing.T, identity Identity, conn connection, behavior Behavior) *Session {
	t.Helper()
	codec := NewCodec(testRegistry(t))
	codec.now = func() int64 { return 1701648000 }
	cfg := Config{PublishInterval: 10 * time.Millisecond, ConnectTimeout: time.Second}
	return newSession(identity, cfg, conn, codec, behavior)
}

func TestCyclePublishesTelemetryAndShadow(t *testing.T) {
	conn := newFakeConn()
	behavior := newStubBehavior(map[string]interface{}{"temperature": 22.5, "unit": "celsius"})
	identity := Identity{DeviceID: "device-1", DeviceType: "temperature_sensor", Location: "Living Room"}
	s := testSession(t, identity, conn, behavior)

	require.NoError(t, conn.Connect(time.Second))
	s.onConnected()
	s.cycle()

	telemetry := conn.messages("devices/device-1/telemetry")
	require.Len(t, telemetry, 1)
	assert.JSONEq(t,
		`{"device_id":"device-1","timestamp":1701648000,"type":"sensor","payload":{"temperature":22.5,"unit":"celsius"}}`,
		string(telemetry[0]))

	shadow := conn.messages("$aws/things/device-1/shadow/update")
	require.Len(t, shadow, 1)
	assert.JSONEq(t, `{"state":{"reported":{}}}`, string(shadow[0]))

	assert.Equal(t, 0, s.Info().ErrorCount)
	assert.Equal(t, StatusActive, s.Info().Status)
}

func TestHandleInboundDispatchesValidCommand(t *testing.T) {
	conn := newFakeConn()
	behavior := newStubBehavior(nil)
	identity := Identity{DeviceID: "lock-01", DeviceType: "smart_lock"}
	s := testSession(t, identity, conn, behavior)

	require.NoError(t, conn.Connect(time.Second))
	s.onConnected()

	raw, err := json.Marshal(map[string]interface{}{
		"state": Command{RequestID: "cmd-1", Action: "LOCK", Parameters: map[string]interface{}{"force": false}},
	})
	require.NoError(t, err)
	s.handleInbound(Inbound{Topic: ShadowDeltaTopic("lock-01"), Payload: raw})

	require.Len(t, behavior.handled, 1)
	assert.Equal(t, "cmd-1", behavior.handled[0].RequestID)
	assert.Equal(t, "LOCK", behavior.handled[0].Action)

	// the resulting reported state is pushed back out immediately
	shadow := conn.messages("$aws/things/lock-01/shadow/update")
	require.Len(t, shadow, 1)
	assert.JSONEq(t, `{"state":{"reported":{"last_action":"LOCK"}}}`, string(shadow[0]))
}

func TestHandleInboundDropsInvalidCommand(t *testing.T) {
	conn := newFakeConn()
	behavior := newStubBehavior(nil)
	s := testSession(t, Identity{DeviceID: "lock-01", DeviceType: "smart_lock"}, conn, behavior)

	require.NoError(t, conn.Connect(time.Second))
	s.onConnected()

	// missing request_id must never reach the command handler
	s.handleInbound(Inbound{Topic: ShadowDeltaTopic("lock-01"), Payload: []byte(`{"state":{"action":"LOCK"}}`)})

	assert.Empty(t, behavior.handled)
	assert.Empty(t, conn.messages("$aws/things/lock-01/shadow/update"))
}

func TestErrorCountResetsOnReconnect(t *testing.T) {
	conn := newFakeConn()
	behavior := newStubBehavior(map[string]interface{}{"temperature": 22.5})
	s := testSession(t, Identity{DeviceID: "device-1", DeviceType: "temperature_sensor"}, conn, behavior)

	require.NoError(t, conn.Connect(time.Second))
	s.onConnected()
	conn.Disconnect()

	s.cycle()
	require.Greater(t, s.Info().ErrorCount, 0)
	assert.Equal(t, StatusOffline, s.Info().Status)

	require.NoError(t, conn.Connect(time.Second))
	s.onConnected()
	assert.Equal(t, 0, s.Info().ErrorCount)
	assert.Equal(t, StatusActive, s.Info().Status)
}

func TestRunFailsWithoutConnectAcknowledgment(t *testing.T) {
	conn := newFakeConn()
	conn.failConnect = true
	behavior := newStubBehavior(map[string]interface{}{"temperature": 22.5})
	s := testSession(t, Identity{DeviceID: "device-1", DeviceType: "temperature_sensor"}, conn, behavior)

	err := s.Run(context.Background())
	require.Error(t, err)

	// the publish loop was never entered
	assert.Empty(t, conn.messages("devices/device-1/telemetry"))
	assert.Equal(t, StatusError, s.Info().Status)
	assert.Equal(t, 1, s.Info().ErrorCount)
}

func TestStopInterruptsRun(t *testing.T) {
	conn := newFakeConn()
	behavior := newStubBehavior(map[string]interface{}{"temperature": 22.5})
	s := testSession(t, Identity{DeviceID: "device-1", DeviceType: "temperature_sensor"}, conn, behavior)
	s.cfg.PublishInterval = time.Hour

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not observe Stop within the interval")
	}
	assert.Equal(t, Disconnected, conn.State())
}

func TestRunDispatchesInboundCommands(t *testing.T) {
	conn := newFakeConn()
	behavior := newStubBehavior(map[string]interface{}{"temperature": 22.5})
	s := testSession(t, Identity{DeviceID: "lock-01", DeviceType: "smart_lock"}, conn, behavior)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	conn.inbound <- Inbound{
		Topic:   ShadowDeltaTopic("lock-01"),
		Payload: []byte(`{"state":{"request_id":"cmd-7","action":"UNLOCK"}}`),
	}

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(behavior.handled) == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	require.NoError(t, <-done)
	assert.Equal(t, "cmd-7", behavior.handled[0].RequestID)
}

func TestPublishAlert(t *testing.T) {
	conn := newFakeConn()
	behavior := newStubBehavior(nil)
	identity := Identity{DeviceID: "gas-sensor-01", DeviceType: "gas_sensor"}
	s := testSession(t, identity, conn, behavior)

	require.NoError(t, conn.Connect(time.Second))
	s.onConnected()

	require.NoError(t, s.PublishAlert("FIRE_DETECTED", "CRITICAL", nil))

	alerts := conn.messages("devices/gas-sensor-01/alerts")
	require.Len(t, alerts, 1)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(alerts[0], &envelope))
	assert.Equal(t, "FIRE_DETECTED", envelope.Payload["status"])
	assert.Equal(t, "CRITICAL", envelope.Payload["severity"])
}

func TestPublishAlertWhileDisconnectedCounts(t *testing.T) {
	conn := newFakeConn()
	behavior := newStubBehavior(nil)
	s := testSession(t, Identity{DeviceID: "gas-sensor-01", DeviceType: "gas_sensor"}, conn, behavior)

	err := s.PublishAlert("FIRE_DETECTED", "CRITICAL", nil)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 1, s.Info().ErrorCount)
}

func TestCycleSurvivesBehaviorPanic(t *testing.T) {
	conn := newFakeConn()
	s := testSession(t, Identity{DeviceID: "device-1", DeviceType: "temperature_sensor"}, conn, &faultyBehavior{})

	require.NoError(t, conn.Connect(time.Second))
	s.onConnected()

	done := make(chan struct{})
	go func() { s.cycle(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not return after a behavior panic")
	}

	// the session stays usable, the bad cycle is counted
	assert.Equal(t, 1, s.Info().ErrorCount)
	assert.Equal(t, StatusError, s.Info().Status)
	assert.Empty(t, conn.messages("devices/device-1/telemetry"))
}

func TestConcurrentCycleAndCommands(t *testing.T) {
	conn := newFakeConn()
	behavior := newStubBehavior(map[string]interface{}{"temperature": 22.5})
	s := testSession(t, Identity{DeviceID: "lock-01", DeviceType: "smart_lock"}, conn, behavior)

	require.NoError(t, conn.Connect(time.Second))
	s.onConnected()

	// the loop and the dispatcher mutate and marshal the behavior's state
	// concurrently; the race detector verifies the serialization
	raw := []byte(`{"state":{"request_id":"cmd-9","action":"LOCK"}}`)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.cycle()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.handleInbound(Inbound{Topic: ShadowDeltaTopic("lock-01"), Payload: raw})
		}
	}()
	wg.Wait()

	assert.Len(t, conn.messages("devices/lock-01/telemetry"), 50)
	assert.Len(t, conn.messages("$aws/things/lock-01/shadow/update"), 100)
	assert.Equal(t, 0, s.Info().ErrorCount)
	assert.Equal(t, "LOCK", s.Info().State["last_action"])
}

func TestInfoBeforeFirstConnect(t *testing.T) {
	conn := newFakeConn()
	behavior := newStubBehavior(nil)
	identity := Identity{DeviceID: "device-1", DeviceType: "temperature_sensor", Location: "Living Room"}
	s := testSession(t, identity, conn, behavior)

	info := s.Info()
	assert.Equal(t, StatusInactive, info.Status)
	assert.False(t, info.IsConnected)
	assert.Equal(t, identity, info.Identity)
	assert.Zero(t, info.UptimeSeconds)
}
