package logger

import (
	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
)

// Logger is re-exported from eigensdk-go for convenience.
// This allows users of this package to work with loggers without importing sdklogging separately.
type Logger = sdklogging.Logger

// NewLogger creates a zap-backed logger for the given environment
// ("production" or "development").
func NewLogger(env sdklogging.LogLevel) (Logger, error) {
	return sdklogging.NewZapLogger(env)
}
