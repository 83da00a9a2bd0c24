package orchestrator

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/scenechain/internal/provider"
)

// Defaults applied to zero-valued settings.
const (
	DefaultDurationSec  = 8
	DefaultPollInterval = 10 * time.Second
	DefaultRetryDelay   = 5 * time.Second
)

var settingsValidator = validator.New()

// Settings are the per-run scalars and reference pools. They are fixed for
// the duration of a run.
type Settings struct {
	DurationSec    int      `validate:"min=1,max=60"`
	Resolution     string   `validate:"oneof=720p 1080p"`
	Seed           int64    `validate:"min=0"`
	FrameChaining  bool
	OutputDir      string   `validate:"required"`
	SubjectRefs    []string `validate:"dive,required"`
	BackgroundRefs []string `validate:"dive,required"`

	// PollInterval is the pause between status checks.
	PollInterval time.Duration `validate:"gte=0"`
	// RetryDelay is the pause before a retried submission.
	RetryDelay time.Duration `validate:"gte=0"`
}

// DefaultSettings returns settings for 8-second 720p clips with frame chaining on.
func DefaultSettings(outputDir string) Settings {
	return Settings{
		DurationSec:   DefaultDurationSec,
		Resolution:    provider.Resolution720p,
		FrameChaining: true,
		OutputDir:     outputDir,
		PollInterval:  DefaultPollInterval,
		RetryDelay:    DefaultRetryDelay,
	}
}

// withDefaults fills zero durations and an empty resolution.
func (s Settings) withDefaults() Settings {
	if s.DurationSec == 0 {
		s.DurationSec = DefaultDurationSec
	}
	if s.Resolution == "" {
		s.Resolution = provider.Resolution720p
	}
	if s.PollInterval == 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.RetryDelay == 0 {
		s.RetryDelay = DefaultRetryDelay
	}
	return s
}

// Validate checks the settings after defaults are applied.
func (s Settings) Validate() error {
	if err := settingsValidator.Struct(s.withDefaults()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}
