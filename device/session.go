// Copyright 2026 Fleexa Project - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@fleexa.io
//

package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/sirupsen/logrus"

	"github.com/fleexa-project/devices/core/logger"
	"github.com/fleexa-project/devices/core/schema"
)

// Session is the per-device orchestrator tying together the connection
// manager, the message codec and the pluggable device behavior.
//
// The telemetry loop and the inbound command dispatcher run concurrently
// and share the session's mutable state; all access to that state and to
// the behavior is serialized by the session's mutex. Sessions of different
// devices share nothing but the read-only schema registry.
type Session struct {
	identity Identity
	cfg      Config
	conn     connection
	codec    Codec
	behavior Behavior
	log      *logrus.Entry

	mu            sync.Mutex
	everConnected bool
	errorCount    int
	uptimeSeconds int64
	lastPublished map[string]time.Time
	lastHeartbeat time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// Info is a read-only snapshot of a session for external inspection.
type Info struct {
	Identity
	Status        Status                 `json:"status"`
	IsConnected   bool                   `json:"is_connected"`
	ErrorCount    int                    `json:"error_count"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	State         map[string]interface{} `json:"state"`
}

// NewSession creates the session for one device. The registry is a shared
// read-only handle; the behavior is owned by the session from here on.
func NewSession(identity Identity, cfg Config, registry *schema.Registry, behavior Behavior) (*Session, error) {
	conn, err := NewConn(identity, cfg)
	if err != nil {
		return nil, err
	}
	s := newSession(identity, cfg, conn, NewCodec(registry), behavior)
	s.log.Infof("initialized (type: %s)", identity.DeviceType)
	return s, nil
}

func newSession(identity Identity, cfg Config, conn connection, codec Codec, behavior Behavior) *Session {
	return &Session{
		identity:      identity,
		cfg:           cfg,
		conn:          conn,
		codec:         codec,
		behavior:      behavior,
		log:           logger.ForDevice(identity.DeviceID),
		lastPublished: make(map[string]time.Time),
		lastHeartbeat: time.Now(),
		stop:          make(chan struct{}),
	}
}

// Run connects the device and drives the telemetry loop until Stop is
// called, the context is canceled, or the connection is exhausted. A
// failing iteration is logged and counted, never fatal; the connection is
// torn down on every exit path.
//
// When the connect attempt is not acknowledged within the configured bound,
// Run returns the error without entering the loop; the caller decides
// whether to retry.
func (s *Session) Run(ctx context.Context) error {
	interval := s.cfg.publishInterval()

	if err := s.conn.Connect(s.cfg.connectTimeout()); err != nil {
		s.recordError()
		return err
	}
	s.onConnected()
	defer s.conn.Disconnect()

	done := make(chan struct{})
	defer close(done)
	go s.dispatch(ctx, done)

	s.log.Infof("started (interval: %s)", interval)
	for s.conn.IsConnected() {
		s.cycle()

		// interruptible wait, Stop is observable within one interval
		select {
		case <-ctx.Done():
			s.log.Infoln("shutdown signal received")
			return nil
		case <-s.stop:
			s.log.Infoln("stop requested")
			return nil
		case <-time.After(interval):
		}
	}
	s.log.Warnln("connection exhausted, leaving publish loop")
	return nil
}

// Stop requests loop termination and disconnects. It is safe to call from
// any goroutine and returns without waiting for the loop to wind down.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.conn.Disconnect()
}

// cycle runs one iteration of the telemetry loop. Errors are converted to
// logs and counters at the smallest possible scope; a panicking behavior
// must not terminate the session either.
func (s *Session) cycle() {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Errorln("error in main loop:", rec)
			s.recordError()
		}
	}()

	payload, state := s.snapshotTelemetry()

	if err := s.publishTelemetry(payload); err != nil {
		if errors.Is(err, ErrValidation) {
			s.log.Errorln(err)
		} else {
			s.log.Errorln("telemetry publish error:", err)
			s.recordError()
		}
	}

	if err := s.reportShadow(state); err != nil {
		s.log.Errorln("shadow update error:", err)
		s.recordError()
	}

	s.drainAlerts()
}

// snapshotTelemetry runs the behavior under the mutex and returns copies of
// its payload and state. The behaviors hand out their live internal maps;
// marshaling those outside the mutex would race with the dispatcher. The
// deferred unlock also keeps the mutex released when the behavior panics.
func (s *Session) snapshotTelemetry() (payload, state map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.behavior.GenerateTelemetry()), copyState(s.behavior.State())
}

// applyCommand hands one validated command to the behavior and returns a
// copy of the resulting state, under the same locking rules as
// snapshotTelemetry.
func (s *Session) applyCommand(cmd Command) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behavior.HandleCommand(cmd)
	return copyState(s.behavior.State())
}

func copyState(state map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

func (s *Session) publishTelemetry(payload map[string]interface{}) error {
	envelope, err := s.codec.BuildTelemetry(s.identity, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	topic := TelemetryTopic(s.identity.DeviceID)
	if err := s.conn.Publish(topic, data); err != nil {
		return err
	}

	now := time.Now()
	s.mu.Lock()
	s.lastPublished[topic] = now
	s.lastHeartbeat = now
	s.uptimeSeconds += int64(s.cfg.publishInterval() / time.Second)
	s.mu.Unlock()

	s.log.Debugln("telemetry published:", topic)
	return nil
}

// PublishAlert builds and publishes an alert envelope outside the regular
// telemetry cadence, for urgent device conditions such as a threshold
// breach. It succeeds or fails independently of the telemetry loop.
func (s *Session) PublishAlert(status, severity string, extra map[string]interface{}) error {
	envelope, err := s.codec.BuildAlert(s.identity, status, severity, extra)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(AlertTopic(s.identity.DeviceID), data); err != nil {
		s.recordError()
		return err
	}
	s.log.Infof("alert published: %s (%s)", status, severity)
	return nil
}

func (s *Session) reportShadow(state map[string]interface{}) error {
	data, err := s.codec.EncodeShadowReport(state)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(ShadowUpdateTopic(s.identity.DeviceID), data); err != nil {
		return err
	}
	s.log.Debugln("shadow updated")
	return nil
}

func (s *Session) drainAlerts() {
	alerter, ok := s.behavior.(Alerter)
	if !ok {
		return
	}
	for {
		s.mu.Lock()
		status, severity, extra, pending := alerter.PendingAlert()
		s.mu.Unlock()
		if !pending {
			return
		}
		if err := s.PublishAlert(status, severity, extra); err != nil {
			s.log.Errorln("alert publish error:", err)
			return
		}
	}
}

// dispatch consumes the connection's inbound channel until the session or
// the current run winds down.
func (s *Session) dispatch(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-done:
			return
		case m, ok := <-s.conn.Inbound():
			if !ok {
				return
			}
			s.handleInbound(m)
		}
	}
}

func (s *Session) handleInbound(m Inbound) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Errorln("error handling command:", rec)
			s.recordError()
		}
	}()

	s.log.Debugln("message received on", m.Topic)
	cmd := s.codec.ExtractCommand(m.Payload)
	if cmd == nil {
		s.log.Warnln("dropping message without valid command on", m.Topic)
		return
	}

	state := s.applyCommand(*cmd)
	s.log.Infof("command handled: %s (%s)", cmd.Action, cmd.RequestID)

	if err := s.reportShadow(state); err != nil {
		s.log.Errorln("shadow update error:", err)
		s.recordError()
	}
}

// Info returns a read-only snapshot of the session. It never mutates.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		Identity:      s.identity,
		Status:        s.statusLocked(),
		IsConnected:   s.conn.IsConnected(),
		ErrorCount:    s.errorCount,
		UptimeSeconds: s.uptimeSeconds,
		State:         copyState(s.behavior.State()),
	}
}

// statusLocked derives the coarse device status from the connection state
// and the error history since the last successful connect.
func (s *Session) statusLocked() Status {
	if !s.everConnected {
		if s.errorCount > 0 {
			return StatusError
		}
		return StatusInactive
	}
	if !s.conn.IsConnected() {
		return StatusOffline
	}
	if s.errorCount > 0 {
		return StatusError
	}
	return StatusActive
}

func (s *Session) onConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.everConnected = true
	s.errorCount = 0
}

func (s *Session) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
}
