package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/hidppd/internal/config"
	"github.com/srg/hidppd/internal/diagnostics"
)

// configureLogger builds a logger honoring --log-level (which takes
// precedence) and the logging.{enabled,verbose} options from cfg, and
// attaches a diagnostics.Tail sized to logging.maxLines so the daemon
// always has the last N log lines ready for the external crash-log
// writer to drain, per spec §1/§6.
func configureLogger(cmd *cobra.Command, opts config.LoggingOptions) (*logrus.Logger, *diagnostics.Tail, error) {
	logLevel := logrus.PanicLevel
	if !opts.Enabled {
		logLevel = logrus.PanicLevel
	} else if opts.Verbose {
		logLevel = logrus.DebugLevel
	} else {
		logLevel = logrus.InfoLevel
	}

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		switch logLevelStr {
		case "debug":
			logLevel = logrus.DebugLevel
		case "info":
			logLevel = logrus.InfoLevel
		case "warn":
			logLevel = logrus.WarnLevel
		case "error":
			logLevel = logrus.ErrorLevel
		default:
			return nil, nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	}

	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	tail := diagnostics.NewTail(opts.MaxLines)
	logger.AddHook(tail)

	return logger, tail, nil
}
