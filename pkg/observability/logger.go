package observability

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LogConfig selects the process-wide logging behavior.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SetupLogger configures the logrus standard logger and returns the base
// entry components should derive from. Unknown levels fail rather than
// silently defaulting.
func SetupLogger(cfg LogConfig, output io.Writer) (*logrus.Entry, error) {
	if output == nil {
		output = os.Stdout
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	logger := logrus.StandardLogger()
	logger.SetOutput(output)
	logger.SetLevel(parsed)

	switch cfg.Format {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	return logrus.NewEntry(logger), nil
}
