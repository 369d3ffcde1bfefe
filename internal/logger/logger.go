package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02 15:04:05"

// New constructs the root zerolog logger for the provisioning service.
// Development environments get human readable console output and default to
// debug level; everything else emits JSON at info. The environment name is
// stamped on every line so log aggregation can separate deployments.
func New(env, level string, writers ...io.Writer) (*zerolog.Logger, error) {
	dev := isDevelopment(env)

	lvl, err := parseLevel(level, dev)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	var output io.Writer
	switch {
	case len(writers) > 0:
		output = io.MultiWriter(writers...)
	case dev:
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat}
	default:
		output = os.Stdout
	}

	logger := zerolog.New(output).With().
		Timestamp().
		Str("env", environmentName(env)).
		Logger().
		Level(lvl)
	return &logger, nil
}

func isDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local", "":
		return true
	}
	return false
}

func environmentName(env string) string {
	env = strings.ToLower(strings.TrimSpace(env))
	if env == "" {
		return "development"
	}
	return env
}

func parseLevel(level string, dev bool) (zerolog.Level, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		if dev {
			return zerolog.DebugLevel, nil
		}
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(level))
}
