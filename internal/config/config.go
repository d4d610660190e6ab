// Package config builds the daemon's EffectiveConfig: the single,
// validated, immutable settings value constructed once at startup and
// threaded down to every component by value (spec §9 "no package-level
// global state").
package config

import (
	"fmt"

	"github.com/mcuadros/go-defaults"

	"github.com/srg/hidppd/internal/backoff"
)

// InvalidConfigurationError is returned by Build when a setting falls
// outside its allowed range (spec §7 InvalidConfiguration — fatal at
// startup, exit code 1).
type InvalidConfigurationError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Is allows errors.Is(err, &InvalidConfigurationError{}) to match any
// instance regardless of Field/Reason.
func (e *InvalidConfigurationError) Is(target error) bool {
	_, ok := target.(*InvalidConfigurationError)
	return ok
}

// LoggingOptions maps spec §6's logging.* options.
type LoggingOptions struct {
	Enabled  bool `default:"true"`
	Verbose  bool `default:"false"`
	MaxLines int  `default:"1000"`
}

// BackoffOverrides maps spec §6's backoff.<profile> options, one Override
// per named profile; a zero-value entry for a profile means "no override".
type BackoffOverrides struct {
	Init         backoff.Override
	Battery      backoff.Override
	Metadata     backoff.Override
	FeatureEnum  backoff.Override
	Ping         backoff.Override
	ReceiverInit backoff.Override
}

// Raw is the shape configuration arrives in from the host (flags, env,
// or a file the host owns — spec §1 explicitly places config *parsing*
// out of scope, so Raw's fields are the recognized option set, not a
// file format). go-defaults fills in every zero-valued tagged field, so a
// field the host set to zero or false on purpose also gets its default
// (an explicit KeepPollingWithEvents=false comes back true).
type Raw struct {
	SoftwareID               int      `default:"1"`
	DisabledDevices          []string `default:"[]"`
	PollPeriodSeconds        int      `default:"30"`
	RetryTimeSeconds         int      `default:"5"`
	KeepPollingWithEvents    bool     `default:"true"`
	BatteryEventDelayAfterOn int      `default:"0"`
	Logging                  LoggingOptions
	Backoff                  BackoffOverrides
}

// EffectiveConfig is the validated, daemon-ready configuration.
type EffectiveConfig struct {
	SoftwareID               byte
	DisabledDevices          []string
	PollPeriod               int // seconds, clamped to [20, 3600]
	RetryTime                int // seconds
	KeepPollingWithEvents    bool
	BatteryEventDelayAfterOn int // seconds
	Logging                  LoggingOptions
	Backoff                  map[string]backoff.Profile
}

const (
	minPollPeriodSeconds = 20
	maxPollPeriodSeconds = 3600
)

// Build applies defaults to raw, validates it, and produces an
// EffectiveConfig. The only fatal validation failure is an out-of-range
// softwareId (spec §7); every other field is clamped or defaulted rather
// than rejected.
func Build(raw Raw) (EffectiveConfig, error) {
	defaults.SetDefaults(&raw)

	if raw.SoftwareID < 1 || raw.SoftwareID > 15 {
		return EffectiveConfig{}, &InvalidConfigurationError{
			Field:  "softwareId",
			Reason: fmt.Sprintf("must be in 1..15, got %d", raw.SoftwareID),
		}
	}

	poll := raw.PollPeriodSeconds
	if poll < minPollPeriodSeconds {
		poll = minPollPeriodSeconds
	}
	if poll > maxPollPeriodSeconds {
		poll = maxPollPeriodSeconds
	}

	profiles := backoff.Defaults()
	profiles[backoff.Init] = backoff.Apply(profiles[backoff.Init], raw.Backoff.Init)
	profiles[backoff.Battery] = backoff.Apply(profiles[backoff.Battery], raw.Backoff.Battery)
	profiles[backoff.Metadata] = backoff.Apply(profiles[backoff.Metadata], raw.Backoff.Metadata)
	profiles[backoff.FeatureEnum] = backoff.Apply(profiles[backoff.FeatureEnum], raw.Backoff.FeatureEnum)
	profiles[backoff.Ping] = backoff.Apply(profiles[backoff.Ping], raw.Backoff.Ping)
	profiles[backoff.ReceiverInit] = backoff.Apply(profiles[backoff.ReceiverInit], raw.Backoff.ReceiverInit)

	return EffectiveConfig{
		SoftwareID:               byte(raw.SoftwareID),
		DisabledDevices:          raw.DisabledDevices,
		PollPeriod:               poll,
		RetryTime:                raw.RetryTimeSeconds,
		KeepPollingWithEvents:    raw.KeepPollingWithEvents,
		BatteryEventDelayAfterOn: raw.BatteryEventDelayAfterOn,
		Logging:                  raw.Logging,
		Backoff:                  profiles,
	}, nil
}
