// Copyright 2026 Fleexa Project - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@fleexa.io
//

package broker

import (
	"reflect"
	"sync"

	"github.com/goccy/go-json"
)

// shadowState is one device's shadow: the desired (commanded) and reported
// (actual) halves.
type shadowState struct {
	desired  json.RawMessage
	reported json.RawMessage
}

// shadowStore keeps the shadows of all connected devices in memory. The
// production fleet runs against a cloud shadow service; this store only
// backs the development broker.
type shadowStore struct {
	mu      sync.RWMutex
	shadows map[string]*shadowState
}

func newShadowStore() *shadowStore {
	return &shadowStore{shadows: make(map[string]*shadowState)}
}

func (s *shadowStore) get(deviceID string) *shadowState {
	if shadow, ok := s.shadows[deviceID]; ok {
		return shadow
	}
	shadow := &shadowState{}
	s.shadows[deviceID] = shadow
	return shadow
}

// setDesired stores the desired state and reports whether it differs from
// the reported state, i.e. whether a delta must be pushed to the device.
func (s *shadowStore) setDesired(deviceID string, desired json.RawMessage) (delta json.RawMessage, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shadow := s.get(deviceID)
	shadow.desired = desired
	if jsonEqual(shadow.desired, shadow.reported) {
		return nil, false
	}
	return shadow.desired, true
}

// setReported stores the state the device reported.
func (s *shadowStore) setReported(deviceID string, reported json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(deviceID).reported = reported
}

// desired returns the pending desired state of a device, if any.
func (s *shadowStore) desiredFor(deviceID string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shadow, ok := s.shadows[deviceID]
	if !ok || len(shadow.desired) == 0 {
		return nil, false
	}
	return shadow.desired, true
}

// reportedFor returns the last reported state of a device, if any.
func (s *shadowStore) reportedFor(deviceID string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shadow, ok := s.shadows[deviceID]
	if !ok || len(shadow.reported) == 0 {
		return nil, false
	}
	return shadow.reported, true
}

// jsonEqual compares two JSON documents structurally, ignoring key order
// and whitespace.
func jsonEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var objA, objB interface{}
	if err := json.Unmarshal(a, &objA); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &objB); err != nil {
		return false
	}
	return reflect.DeepEqual(objA, objB)
}
