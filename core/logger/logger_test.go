package logger

import (
	"context"
	"testing"
)

func TestContextWithDevice(t *testing.T) {
	ctx, rlog := ContextWithDevice(context.Background(), "device-1")
	if rlog == nil {
		t.Fatal("expected a logger")
	}
	if got := rlog.Data[deviceIDLoggerKey]; got != "device-1" {
		t.Fatal("logger not tagged with device ID, got:", got)
	}

	// a context that already carries a logger keeps it
	ctx2, rlog2 := ContextWithDevice(ctx, "device-2")
	if ctx2 != ctx || rlog2 != rlog {
		t.Fatal("expected the existing context logger to be reused")
	}

	if FromContext(ctx) != rlog {
		t.Fatal("FromContext did not return the context logger")
	}
}

func TestContextWithDeviceNilContext(t *testing.T) {
	ctx, rlog := ContextWithDevice(nil, "device-1")
	if ctx == nil || rlog == nil {
		t.Fatal("expected a fresh context and logger")
	}
	if FromContext(nil) == nil {
		t.Fatal("expected the default logger for a nil context")
	}
}
