package broker

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestShadowDesiredProducesDelta(t *testing.T) {
	store := newShadowStore()

	desired := json.RawMessage(`{"request_id":"cmd-1","action":"LOCK"}`)
	delta, changed := store.setDesired("lock-01", desired)
	if !changed {
		t.Fatal("desired state differing from reported state is expected to produce a delta")
	}
	if !jsonEqual(delta, desired) {
		t.Fatalf("delta %s is expected to equal the desired state %s", delta, desired)
	}
}

func TestShadowConvergedProducesNoDelta(t *testing.T) {
	store := newShadowStore()

	store.setReported("lock-01", json.RawMessage(`{"action": "LOCK", "request_id": "cmd-1"}`))
	_, changed := store.setDesired("lock-01", json.RawMessage(`{"request_id":"cmd-1","action":"LOCK"}`))
	if changed {
		t.Fatal("desired state equal to reported state is not expected to produce a delta")
	}
}

func TestShadowReportedRoundTrip(t *testing.T) {
	store := newShadowStore()

	if _, ok := store.reportedFor("lock-01"); ok {
		t.Fatal("no reported state expected for an unknown device")
	}

	store.setReported("lock-01", json.RawMessage(`{"locked":true}`))
	reported, ok := store.reportedFor("lock-01")
	if !ok {
		t.Fatal("reported state expected after a shadow update")
	}
	if !jsonEqual(reported, json.RawMessage(`{"locked":true}`)) {
		t.Fatalf("unexpected reported state: %s", reported)
	}

	if _, ok := store.desiredFor("lock-01"); ok {
		t.Fatal("no desired state expected before a desired write")
	}
}
