package config

import (
	"fmt"
	"time"

	defaults "github.com/creasty/defaults"
	validator "github.com/go-playground/validator/v10"
)

// Timing modes for the reported call duration of a retried test.
const (
	// TimingOverwrite reports the final attempt's duration alone.
	TimingOverwrite = "overwrite"
	// TimingCumulative reports the sum of all call durations.
	TimingCumulative = "cumulative"
)

// Settings are the resolved retry options for one session, merged from
// built-in defaults, a configuration file and command-line flags.
type Settings struct {
	// Retries is the global retry budget. Nil means not configured: no
	// auto-marking happens and a bare flaky marker keeps its default of one
	// retry. An explicit 0 disables global retries.
	Retries *int `mapstructure:"retries" yaml:"retries" validate:"omitempty,gte=0"`

	// RetryDelay is the pause between attempts, in seconds.
	RetryDelay float64 `mapstructure:"retry-delay" yaml:"retry-delay" default:"0" validate:"gte=0"`

	// TimingMode selects how the reported call duration is computed.
	TimingMode string `mapstructure:"timing-mode" yaml:"timing-mode" default:"overwrite" validate:"oneof=overwrite cumulative"`

	// RetryOutcome is the outcome category reported for interim attempts.
	RetryOutcome string `mapstructure:"retry-outcome" yaml:"retry-outcome" default:"retried" validate:"required"`

	// CumulativeTiming is the boolean alias for TimingMode carried by the
	// flag and ini surfaces. When set it overrides TimingMode.
	CumulativeTiming *bool `mapstructure:"cumulative-timing" yaml:"cumulative-timing"`
}

var validate = validator.New()

// NewSettings returns settings populated with the built-in defaults.
func NewSettings() (*Settings, error) {
	s := &Settings{}
	if err := defaults.Set(s); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return s, nil
}

// Validate resolves the timing-mode alias, checks the settings against
// their constraints and wraps any violation in ErrConfiguration.
func (s *Settings) Validate() error {
	if s.CumulativeTiming != nil {
		if *s.CumulativeTiming {
			s.TimingMode = TimingCumulative
		} else {
			s.TimingMode = TimingOverwrite
		}
		s.CumulativeTiming = nil
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

// Delay returns the retry delay as a duration.
func (s *Settings) Delay() time.Duration {
	return time.Duration(s.RetryDelay * float64(time.Second))
}
