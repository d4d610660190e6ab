package main

import (
	"errors"

	"github.com/srg/hidppd/internal/config"
)

// FormatUserError renders err as the single line printed to stderr before
// exit. Most daemon failures never reach here - per spec they stay
// internal and visible only via the log - so the only case worth
// special-casing is the one that IS fatal at startup.
func FormatUserError(err error) string {
	var invalid *config.InvalidConfigurationError
	if errors.As(err, &invalid) {
		return invalid.Error()
	}
	return err.Error()
}
