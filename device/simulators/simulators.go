// Copyright 2026 Fleexa Project - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@fleexa.io
//

/*Package simulators contains the concrete device behaviors of the simulated
fleet: sensors generating synthetic telemetry and actuators reacting to
shadow commands. The generated values are synthetic; only the payload
field names are part of the wire contract.
*/
package simulators

import (
	"math/rand"

	"github.com/fleexa-project/devices/device"
)

// TemperatureSensor reports temperature and humidity readings and accepts a
// CALIBRATE command with an "offset" parameter.
type TemperatureSensor struct {
	baseTemperature float64
	offset          float64
	state           map[string]interface{}
}

// NewTemperatureSensor returns a sensor idling around baseTemperature
// degrees celsius.
func NewTemperatureSensor(baseTemperature float64) *TemperatureSensor {
	return &TemperatureSensor{
		baseTemperature: baseTemperature,
		state:           map[string]interface{}{"calibration_offset": 0.0},
	}
}

// GenerateTelemetry implements device.Behavior.
func (t *TemperatureSensor) GenerateTelemetry() map[string]interface{} {
	temperature := t.baseTemperature + t.offset + rand.Float64()*4 - 2
	humidity := 40 + rand.Float64()*20
	t.state["temperature"] = temperature
	t.state["humidity"] = humidity
	return map[string]interface{}{
		"temperature": temperature,
		"humidity":    humidity,
		"unit":        "celsius",
	}
}

// HandleCommand implements device.Behavior.
func (t *TemperatureSensor) HandleCommand(cmd device.Command) {
	if cmd.Action == "CALIBRATE" {
		if offset, ok := cmd.Parameters["offset"].(float64); ok {
			t.offset = offset
			t.state["calibration_offset"] = offset
		}
	}
	t.state["last_request_id"] = cmd.RequestID
}

// State implements device.Behavior.
func (t *TemperatureSensor) State() map[string]interface{} { return t.state }

// GasSensor reports gas concentration and raises a CRITICAL FIRE_DETECTED
// alert when the reading crosses its threshold.
type GasSensor struct {
	thresholdPPM float64
	state        map[string]interface{}

	alertPending bool
	alertLevel   float64
}

// NewGasSensor returns a gas sensor alerting above thresholdPPM.
func NewGasSensor(thresholdPPM float64) *GasSensor {
	return &GasSensor{
		thresholdPPM: thresholdPPM,
		state:        map[string]interface{}{"threshold_ppm": thresholdPPM},
	}
}

// GenerateTelemetry implements device.Behavior.
func (g *GasSensor) GenerateTelemetry() map[string]interface{} {
	level := 400 + rand.Float64()*300
	// rare spike
	if rand.Float64() < 0.02 {
		level = g.thresholdPPM + rand.Float64()*500
	}
	g.state["gas_level_ppm"] = level
	if level > g.thresholdPPM {
		g.alertPending = true
		g.alertLevel = level
	}
	return map[string]interface{}{
		"gas_level_ppm": level,
		"unit":          "ppm",
	}
}

// HandleCommand implements device.Behavior.
func (g *GasSensor) HandleCommand(cmd device.Command) {
	if cmd.Action == "SET_THRESHOLD" {
		if threshold, ok := cmd.Parameters["threshold_ppm"].(float64); ok {
			g.thresholdPPM = threshold
			g.state["threshold_ppm"] = threshold
		}
	}
	g.state["last_request_id"] = cmd.RequestID
}

// State implements device.Behavior.
func (g *GasSensor) State() map[string]interface{} { return g.state }

// PendingAlert implements device.Alerter.
func (g *GasSensor) PendingAlert() (string, string, map[string]interface{}, bool) {
	if !g.alertPending {
		return "", "", nil, false
	}
	g.alertPending = false
	return "FIRE_DETECTED", "CRITICAL", map[string]interface{}{"gas_level_ppm": g.alertLevel}, true
}

// SmartLock is an actuator driven by LOCK and UNLOCK commands. An UNLOCK
// with {"force": true} succeeds even while the lock reports jammed.
type SmartLock struct {
	state map[string]interface{}
}

// NewSmartLock returns a lock in the unlocked state.
func NewSmartLock() *SmartLock {
	return &SmartLock{state: map[string]interface{}{"locked": false, "jammed": false}}
}

// GenerateTelemetry implements device.Behavior.
func (l *SmartLock) GenerateTelemetry() map[string]interface{} {
	return map[string]interface{}{
		"locked":          l.state["locked"],
		"battery_percent": 80 + rand.Float64()*20,
	}
}

// HandleCommand implements device.Behavior.
func (l *SmartLock) HandleCommand(cmd device.Command) {
	force, _ := cmd.Parameters["force"].(bool)
	jammed, _ := l.state["jammed"].(bool)

	switch cmd.Action {
	case "LOCK":
		if !jammed || force {
			l.state["locked"] = true
		}
	case "UNLOCK":
		if !jammed || force {
			l.state["locked"] = false
		}
	}
	l.state["last_request_id"] = cmd.RequestID
}

// State implements device.Behavior.
func (l *SmartLock) State() map[string]interface{} { return l.state }

// ForType returns the behavior for a device type string, defaulting to a
// temperature sensor for unknown types.
func ForType(deviceType string) device.Behavior {
	switch deviceType {
	case "gas_sensor":
		return NewGasSensor(1500)
	case "smart_lock":
		return NewSmartLock()
	default:
		return NewTemperatureSensor(21)
	}
}
