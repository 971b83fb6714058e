// Copyright 2026 Fleexa Project - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@fleexa.io
//

package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/fleexa-project/devices/core/logger"
	"github.com/fleexa-project/devices/core/schema"
)

// ErrValidation is returned when a candidate message fails its schema.
// Callers must not publish on validation failure.
var ErrValidation = errors.New("message failed schema validation")

// Codec builds schema-validated envelopes from raw device payloads and
// extracts validated commands from inbound shadow deltas. It holds a
// read-only handle to the shared schema registry.
type Codec struct {
	registry *schema.Registry
	now      func() int64
}

// NewCodec returns a codec validating against the given registry.
func NewCodec(registry *schema.Registry) Codec {
	return Codec{registry: registry, now: func() int64 { return time.Now().Unix() }}
}

// BuildTelemetry wraps the device-specific payload into a telemetry
// envelope, stamped with the device ID, the current time in whole seconds
// and the device's message type classification.
func (c Codec) BuildTelemetry(identity Identity, payload map[string]interface{}) (Envelope, error) {
	envelope := Envelope{
		DeviceID:  identity.DeviceID,
		Timestamp: c.now(),
		Type:      identity.MessageType(),
		Payload:   payload,
	}
	if !c.registry.Validate(envelope, schema.Telemetry) {
		return Envelope{}, fmt.Errorf("telemetry for %s: %w", identity.DeviceID, ErrValidation)
	}
	return envelope, nil
}

// BuildAlert wraps an alert condition into an alert envelope. The payload
// carries the alert status (e.g. "FIRE_DETECTED"), its severity and any
// additional alert data.
func (c Codec) BuildAlert(identity Identity, status, severity string, extra map[string]interface{}) (Envelope, error) {
	payload := map[string]interface{}{
		"status":   status,
		"severity": severity,
	}
	for k, v := range extra {
		payload[k] = v
	}
	envelope := Envelope{
		DeviceID:  identity.DeviceID,
		Timestamp: c.now(),
		Type:      identity.MessageType(),
		Payload:   payload,
	}
	if !c.registry.Validate(envelope, schema.Alert) {
		return Envelope{}, fmt.Errorf("alert for %s: %w", identity.DeviceID, ErrValidation)
	}
	return envelope, nil
}

// shadowDelta is the inbound shadow message carrying the desired state.
type shadowDelta struct {
	State json.RawMessage `json:"state"`
}

// ExtractCommand parses the desired state out of a raw shadow delta and
// validates it against the command schema. It returns nil when parsing or
// validation fails; this is the single gate through which all inbound
// commands pass, the dispatcher never sees an unvalidated command.
func (c Codec) ExtractCommand(raw []byte) *Command {
	var delta shadowDelta
	if err := json.Unmarshal(raw, &delta); err != nil {
		logger.Default().Debugln("shadow delta decode error:", err)
		return nil
	}
	if len(delta.State) == 0 {
		logger.Default().Debugln("shadow delta without state")
		return nil
	}
	if !c.registry.ValidateBytes(delta.State, schema.Command) {
		logger.Default().Errorf("invalid command format: %s", delta.State)
		return nil
	}
	var cmd Command
	if err := json.Unmarshal(delta.State, &cmd); err != nil {
		logger.Default().Debugln("command decode error:", err)
		return nil
	}
	return &cmd
}

// EncodeShadowReport encodes a device state as a shadow update of the
// reported half: {"state": {"reported": {...}}}.
func (c Codec) EncodeShadowReport(state map[string]interface{}) ([]byte, error) {
	update := map[string]interface{}{
		"state": map[string]interface{}{
			"reported": state,
		},
	}
	return json.Marshal(update)
}
