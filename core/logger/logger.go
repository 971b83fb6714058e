// Copyright 2026 Fleexa Project - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@fleexa.io
//

package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Type for the context keys
type contextKeyDeviceLoggerType struct{}

var contextKeyDeviceLogger = &contextKeyDeviceLoggerType{}

const deviceIDLoggerKey string = "deviceID"

// InitLogger sets up the custom time formatter for all log statements.
func InitLogger(logLevel logrus.Level) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	logrus.SetFormatter(customFormatter)
	customFormatter.FullTimestamp = true
	logrus.SetLevel(logLevel)
}

// ParseLevel maps a configuration string to a logrus level. Unknown
// strings map to info.
func ParseLevel(level string) logrus.Level {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}

// Default returns a logger without a device ID.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ForDevice returns a logger tagged with the given device ID.
func ForDevice(deviceID string) *logrus.Entry {
	return logrus.WithField(deviceIDLoggerKey, deviceID)
}

// ContextWithDevice returns a new context with a logger tagged with the
// given device ID. If the context already has a logger the given context
// will be returned.
func ContextWithDevice(ctx context.Context, deviceID string) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else {
		rlog := loggerFromContext(ctx)
		if rlog != nil {
			return ctx, rlog
		}
	}
	rlog := ForDevice(deviceID)
	return context.WithValue(ctx, contextKeyDeviceLogger, rlog), rlog
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, ok := ctx.Value(contextKeyDeviceLogger).(*logrus.Entry)
	if !ok {
		return nil
	}
	return rlog
}

// FromContext returns the logger from the context. If the context does not
// have a logger a new logger is returned. If the provided context is nil,
// the default logger will be returned.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return rlog
}
