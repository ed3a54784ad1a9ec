package log

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gammadia/nimbus/server/flags"
	"github.com/spf13/viper"
)

// Living in its own package keeps gopls from confusing a global 'log' with the standard library.

// Base is a bare logger without attributes
var Base *slog.Logger

// logger is the daemon logger
var logger *slog.Logger

func Init() error {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(viper.GetString(flags.LogLevel))); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	options := slog.HandlerOptions{
		AddSource: viper.GetBool(flags.LogSource),
		Level:     logLevel,
	}

	switch format := viper.GetString(flags.LogFormat); format {
	case "json":
		Base = slog.New(slog.NewJSONHandler(os.Stdout, &options))
	case "text":
		Base = slog.New(slog.NewTextHandler(os.Stdout, &options))
	default:
		return fmt.Errorf("unknown log format '%s'", format)
	}

	logger = Component("daemon")
	return nil
}

// Component returns the logger handed to a nimbus package.
func Component(name string) *slog.Logger {
	return Base.With("component", name)
}

func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}
