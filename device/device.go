// Copyright 2026 Fleexa Project - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@fleexa.io
//

package device

import (
	"strings"
	"time"
)

// Identity describes one device of the fleet. It is created at session
// construction and never mutated.
type Identity struct {
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
	Location   string `json:"location"`
}

// Message type classifiers for the envelope's "type" field.
const (
	TypeSensor   = "sensor"
	TypeActuator = "actuator"
)

// MessageType classifies the device as "sensor" or "actuator" for the wire
// envelope. The rule is a compatibility contract: a device type containing
// the substring "sensor" classifies as "sensor", everything else as
// "actuator". Note that this misclassifies hybrid types such as
// "actuator_sensor_hybrid".
func (id Identity) MessageType() string {
	if strings.Contains(id.DeviceType, TypeSensor) {
		return TypeSensor
	}
	return TypeActuator
}

// Status is the coarse, externally reported device status.
type Status string

// The four device statuses.
const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusError    Status = "ERROR"
	StatusOffline  Status = "OFFLINE"
)

// ConnState is the fine-grained transport connection state, owned by the
// connection manager.
type ConnState int32

// Connection states.
const (
	Disconnected ConnState = iota
	Connecting
	Connected
	ConnError
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case ConnError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Envelope is the outer wire message for telemetry and alerts. The
// timestamp is whole seconds since epoch and is assigned at build time,
// never by the caller.
type Envelope struct {
	DeviceID  string                 `json:"device_id"`
	Timestamp int64                  `json:"timestamp"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
}

// Command is the desired state of an inbound shadow delta, after it passed
// validation against the command schema.
type Command struct {
	RequestID  string                 `json:"request_id"`
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Config holds the transport configuration shared by all devices.
type Config struct {
	// Broker is the broker URL, e.g. "ssl://iot.us-east-1.amazonaws.com:8883"
	// or "tcp://localhost:1883" for local development.
	Broker string
	// CACertFile, CertFile and KeyFile are the X.509 credential files for
	// mutual TLS. All three empty means plain TCP.
	CACertFile string
	CertFile   string
	KeyFile    string
	// PublishInterval is the telemetry cadence.
	PublishInterval time.Duration
	// ConnectTimeout bounds the wait for the broker's connect acknowledgment.
	ConnectTimeout time.Duration
	// KeepAlive is the MQTT keepalive interval.
	KeepAlive time.Duration
}

func (c Config) publishInterval() time.Duration {
	if c.PublishInterval <= 0 {
		return 5 * time.Second
	}
	return c.PublishInterval
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ConnectTimeout
}

func (c Config) keepAlive() time.Duration {
	if c.KeepAlive <= 0 {
		return 60 * time.Second
	}
	return c.KeepAlive
}

// Behavior is the pluggable part of a device: telemetry generation and
// command handling, implemented per device variant.
//
// The session serializes all Behavior calls against its own state, so
// implementations do not need to be safe for concurrent use.
type Behavior interface {
	// GenerateTelemetry returns the device-specific payload for one
	// telemetry envelope. It is called once per loop iteration.
	GenerateTelemetry() map[string]interface{}
	// HandleCommand mutates internal device state in response to a
	// validated command. Unrecognized actions are the behavior's own
	// concern.
	HandleCommand(cmd Command)
	// State returns the current device state as reported to the shadow.
	State() map[string]interface{}
}

// Alerter is implemented by behaviors that raise asynchronous alerts, e.g.
// on a threshold breach. The session drains pending alerts after each
// telemetry cycle and publishes them outside the regular cadence.
type Alerter interface {
	// PendingAlert returns the next alert to raise, if any.
	PendingAlert() (status, severity string, extra map[string]interface{}, ok bool)
}

// TelemetryTopic returns the telemetry topic of a device.
func TelemetryTopic(deviceID string) string {
	return "devices/" + deviceID + "/telemetry"
}

// AlertTopic returns the alert topic of a device.
func AlertTopic(deviceID string) string {
	return "devices/" + deviceID + "/alerts"
}

// ShadowUpdateTopic returns the topic a device reports its state to.
func ShadowUpdateTopic(deviceID string) string {
	return "$aws/things/" + deviceID + "/shadow/update"
}

// ShadowDeltaTopic returns the topic a device receives commands on.
func ShadowDeltaTopic(deviceID string) string {
	return "$aws/things/" + deviceID + "/shadow/update/delta"
}
