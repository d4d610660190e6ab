package backoff

import "time"

// Predefined profile names, addressable from configuration overrides
// (spec §6 "backoff.<profile>").
const (
	Init         = "init"
	Battery      = "battery"
	Metadata     = "metadata"
	FeatureEnum  = "feature_enum"
	Ping         = "ping"
	ReceiverInit = "receiver_init"
)

// Defaults returns the six built-in profiles (spec §4.2), ready for use or
// for a config.EffectiveConfig to clone and override per field.
func Defaults() map[string]Profile {
	return map[string]Profile{
		Init: New(Profile{
			Name:           Init,
			InitialDelay:   2000 * time.Millisecond,
			MaxDelay:       60000 * time.Millisecond,
			InitialTimeout: 1000 * time.Millisecond,
			MaxTimeout:     5000 * time.Millisecond,
			Multiplier:     2,
			MaxAttempts:    10,
		}),
		Battery: New(Profile{
			Name:           Battery,
			InitialDelay:   0,
			MaxDelay:       10000 * time.Millisecond,
			InitialTimeout: 1000 * time.Millisecond,
			MaxTimeout:     5000 * time.Millisecond,
			Multiplier:     2,
			MaxAttempts:    3,
		}),
		Metadata: New(Profile{
			Name:           Metadata,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       30000 * time.Millisecond,
			InitialTimeout: 500 * time.Millisecond,
			MaxTimeout:     3000 * time.Millisecond,
			Multiplier:     2,
			MaxAttempts:    5,
		}),
		FeatureEnum: New(Profile{
			Name:           FeatureEnum,
			InitialDelay:   1000 * time.Millisecond,
			MaxDelay:       30000 * time.Millisecond,
			InitialTimeout: 1000 * time.Millisecond,
			MaxTimeout:     5000 * time.Millisecond,
			Multiplier:     2,
			MaxAttempts:    3,
		}),
		Ping: New(Profile{
			Name:           Ping,
			InitialDelay:   100 * time.Millisecond,
			MaxDelay:       5000 * time.Millisecond,
			InitialTimeout: 100 * time.Millisecond,
			MaxTimeout:     1000 * time.Millisecond,
			Multiplier:     2,
			MaxAttempts:    5,
		}),
		ReceiverInit: New(Profile{
			Name:           ReceiverInit,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5000 * time.Millisecond,
			InitialTimeout: 1000 * time.Millisecond,
			MaxTimeout:     3000 * time.Millisecond,
			Multiplier:     2,
			MaxAttempts:    3,
		}),
	}
}

// Override captures a partial profile override loaded from configuration
// (spec §6 "backoff.<profile>"); zero fields mean "keep the default".
// Tagged with go-defaults so a YAML/JSON-less override loaded from a flat
// map still gets sane fallbacks for the fields it doesn't set.
type Override struct {
	InitialDelayMS   int     `default:"0"`
	MaxDelayMS       int     `default:"0"`
	InitialTimeoutMS int     `default:"0"`
	MaxTimeoutMS     int     `default:"0"`
	Multiplier       float64 `default:"0"`
	MaxAttempts      int     `default:"0"`
}

// Apply merges a non-zero Override onto base and re-validates via New.
func Apply(base Profile, o Override) Profile {
	if o.InitialDelayMS > 0 {
		base.InitialDelay = time.Duration(o.InitialDelayMS) * time.Millisecond
	}
	if o.MaxDelayMS > 0 {
		base.MaxDelay = time.Duration(o.MaxDelayMS) * time.Millisecond
	}
	if o.InitialTimeoutMS > 0 {
		base.InitialTimeout = time.Duration(o.InitialTimeoutMS) * time.Millisecond
	}
	if o.MaxTimeoutMS > 0 {
		base.MaxTimeout = time.Duration(o.MaxTimeoutMS) * time.Millisecond
	}
	if o.Multiplier > 0 {
		base.Multiplier = o.Multiplier
	}
	if o.MaxAttempts > 0 {
		base.MaxAttempts = o.MaxAttempts
	}
	return New(base)
}
