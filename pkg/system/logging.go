// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLoggerConfig returns the zap configuration used by the logmail binary:
// production JSON output, or the development console encoder in debug mode.
// Timestamps are written as RFC3339 UTC under the "ts" key.
func NewLoggerConfig(debug bool) zap.Config {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	// Disable automatic stacktraces for non-fatal levels to avoid noisy traces in WARN/INFO logs
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg
}

// NewLogger builds a logger from NewLoggerConfig.
func NewLogger(debug bool) (*zap.Logger, error) {
	return NewLoggerConfig(debug).Build()
}

// TransportFields returns key/value pairs identifying a transport, suitable
// for SugaredLogger.With or Infow/Errorw calls. The kind is omitted when empty.
func TransportFields(name, kind string) []interface{} {
	if kind == "" || kind == name {
		return []interface{}{"transport", name}
	}
	return []interface{}{"transport", name, "kind", kind}
}
