package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/botflow/botflow/pkg/backoff"
	"github.com/botflow/botflow/pkg/common/errors"
	"github.com/botflow/botflow/pkg/ratelimit/dual"
	"github.com/botflow/botflow/pkg/ratelimit/keyed"
	"github.com/botflow/botflow/pkg/ratelimit/tokenbucket"
)

// File is the root of a limits file. Load and Parse apply defaults and
// validate, so a File obtained from either is ready to build from.
type File struct {
	// Global describes the account-wide bucket shared by every channel.
	Global BucketConfig `yaml:"global"`

	// Buckets holds named per-channel bucket profiles. A "default"
	// profile is added when absent.
	Buckets map[string]BucketConfig `yaml:"buckets"`

	// Backoff describes the reconnect backoff policy.
	Backoff BackoffConfig `yaml:"backoff"`

	// Headers names the response headers the buckets reconcile against.
	Headers HeadersConfig `yaml:"headers"`

	// Registry tunes the per-channel limiter registry.
	Registry RegistryConfig `yaml:"registry"`
}

// BucketConfig describes one token bucket.
type BucketConfig struct {
	Limit  int      `yaml:"limit"`
	Period Duration `yaml:"period"`
}

// Build creates a token bucket from the profile.
func (c BucketConfig) Build() tokenbucket.Limiter {
	return tokenbucket.NewWithConfig(tokenbucket.Config{
		Limit:         c.Limit,
		Period:        c.Period.Duration(),
		InitialTokens: -1,
	})
}

func (c BucketConfig) validate(section string) error {
	if c.Limit <= 0 {
		return errors.NewValidationError("config", section+".limit", c.Limit, "must be positive")
	}
	if c.Period <= 0 {
		return errors.NewValidationError("config", section+".period", c.Period.String(), "must be positive").
			WithHint(`use a duration string like "30s"`)
	}
	return nil
}

// BackoffConfig describes an escalating delay policy.
type BackoffConfig struct {
	// Strategy is "exponential" or "linear". Defaults to "exponential".
	Strategy string `yaml:"strategy"`

	// Initial is the first delay. Defaults to 1s.
	Initial Duration `yaml:"initial"`

	// Max is the delay ceiling. Defaults to 2m.
	Max Duration `yaml:"max"`

	// Step is the linear increment. Zero means a constant delay.
	Step Duration `yaml:"step"`
}

// Build creates a backoff from the policy.
func (c BackoffConfig) Build() (backoff.Backoff, error) {
	var strategy backoff.Strategy
	switch c.Strategy {
	case "", "exponential":
		strategy = backoff.StrategyExponential
	case "linear":
		strategy = backoff.StrategyLinear
	default:
		return nil, errors.NewValidationError("config", "backoff.strategy", c.Strategy, "unknown strategy").
			WithHint(`use "exponential" or "linear"`)
	}
	return backoff.NewWithConfig(backoff.Config{
		Initial:  c.Initial.Duration(),
		Max:      c.Max.Duration(),
		Step:     c.Step.Duration(),
		Strategy: strategy,
	}), nil
}

func (c BackoffConfig) validate() error {
	if _, err := c.Build(); err != nil {
		return err
	}
	if c.Initial <= 0 {
		return errors.NewValidationError("config", "backoff.initial", c.Initial.String(), "must be positive")
	}
	if c.Max < c.Initial {
		return errors.NewValidationError("config", "backoff.max", c.Max.String(), "must be at least backoff.initial")
	}
	if c.Step < 0 {
		return errors.NewValidationError("config", "backoff.step", c.Step.String(), "must not be negative")
	}
	return nil
}

// HeadersConfig names the rate-limit response headers. An empty name
// leaves the corresponding bucket field unreconciled.
type HeadersConfig struct {
	Limit     string `yaml:"limit"`
	Remaining string `yaml:"remaining"`
	Reset     string `yaml:"reset"`

	// Format is how the reset header value is encoded: "rfc3339",
	// "unix", "unix_ms" or "unix_ns". Defaults to "unix".
	Format string `yaml:"format"`
}

// Mapping converts the section into a header mapping.
func (c HeadersConfig) Mapping() (tokenbucket.HeaderMapping, error) {
	format, err := parseResetFormat(c.Format)
	if err != nil {
		return tokenbucket.HeaderMapping{}, err
	}
	return tokenbucket.HeaderMapping{
		Limit:     c.Limit,
		Remaining: c.Remaining,
		Reset:     c.Reset,
		Format:    format,
	}, nil
}

func parseResetFormat(name string) (tokenbucket.ResetFormat, error) {
	switch name {
	case "", "unix":
		return tokenbucket.ResetUnixSeconds, nil
	case "rfc3339":
		return tokenbucket.ResetRFC3339, nil
	case "unix_ms":
		return tokenbucket.ResetUnixMilliseconds, nil
	case "unix_ns":
		return tokenbucket.ResetUnixNanoseconds, nil
	default:
		return 0, errors.NewValidationError("config", "headers.format", name, "unknown reset format").
			WithHint(`use "rfc3339", "unix", "unix_ms" or "unix_ns"`)
	}
}

// RegistryConfig tunes the per-channel limiter registry.
type RegistryConfig struct {
	// Bucket names the profile in Buckets stamped per channel.
	// Defaults to "default".
	Bucket string `yaml:"bucket"`

	// IdleAfter is how long an entry must sit unused before the sweeper
	// may remove it. Defaults to 15m.
	IdleAfter Duration `yaml:"idle_after"`

	// SweepSchedule is a cron expression for the idle sweeper.
	// Defaults to "@every 5m".
	SweepSchedule string `yaml:"sweep_schedule"`
}

// Load reads and parses a limits file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewOperationError("config", "load", err).WithContext(path)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults, and validates.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.NewOperationError("config", "parse", err)
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	if f.Global.Limit == 0 && f.Global.Period == 0 {
		f.Global = BucketConfig{Limit: 100, Period: Duration(30 * time.Second)}
	}
	if f.Buckets == nil {
		f.Buckets = make(map[string]BucketConfig)
	}
	if _, ok := f.Buckets["default"]; !ok {
		f.Buckets["default"] = BucketConfig{Limit: 20, Period: Duration(30 * time.Second)}
	}
	if f.Backoff.Strategy == "" {
		f.Backoff.Strategy = "exponential"
	}
	if f.Backoff.Initial == 0 {
		f.Backoff.Initial = Duration(time.Second)
	}
	if f.Backoff.Max == 0 {
		f.Backoff.Max = Duration(2 * time.Minute)
	}
	if f.Headers == (HeadersConfig{}) {
		mapping := tokenbucket.DefaultHeaderMapping()
		f.Headers = HeadersConfig{
			Limit:     mapping.Limit,
			Remaining: mapping.Remaining,
			Reset:     mapping.Reset,
		}
	}
	if f.Headers.Format == "" {
		f.Headers.Format = "unix"
	}
	if f.Registry.Bucket == "" {
		f.Registry.Bucket = "default"
	}
	if f.Registry.IdleAfter == 0 {
		f.Registry.IdleAfter = Duration(15 * time.Minute)
	}
	if f.Registry.SweepSchedule == "" {
		f.Registry.SweepSchedule = "@every 5m"
	}
}

// Validate checks every section and cross-references the registry's
// bucket profile.
func (f *File) Validate() error {
	if err := f.Global.validate("global"); err != nil {
		return err
	}
	for name, bucket := range f.Buckets {
		if name == "" {
			return errors.NewValidationError("config", "buckets", name, "profile name must not be empty")
		}
		if err := bucket.validate(fmt.Sprintf("buckets[%s]", name)); err != nil {
			return err
		}
	}
	if err := f.Backoff.validate(); err != nil {
		return err
	}
	if _, err := f.Headers.Mapping(); err != nil {
		return err
	}
	if _, ok := f.Buckets[f.Registry.Bucket]; !ok {
		return errors.NewValidationError("config", "registry.bucket", f.Registry.Bucket, "references an undefined bucket profile").
			WithHint("add it to buckets or point registry.bucket at an existing profile")
	}
	if f.Registry.IdleAfter < 0 {
		return errors.NewValidationError("config", "registry.idle_after", f.Registry.IdleAfter.String(), "must not be negative")
	}
	return nil
}

// KeyedConfig assembles a per-channel registry config from the file: the
// profile named by registry.bucket is stamped per channel, and the given
// global bucket is shared across all of them. The sweep schedule string
// is validated by keyed.New.
func (f *File) KeyedConfig(global dual.Bucket) (keyed.Config, error) {
	profile, ok := f.Buckets[f.Registry.Bucket]
	if !ok {
		return keyed.Config{}, errors.NewValidationError("config", "registry.bucket", f.Registry.Bucket, "references an undefined bucket profile").
			WithHint("add it to buckets or point registry.bucket at an existing profile")
	}
	return keyed.Config{
		LocalLimit:    profile.Limit,
		LocalPeriod:   profile.Period.Duration(),
		Global:        global,
		IdleAfter:     f.Registry.IdleAfter.Duration(),
		SweepSchedule: f.Registry.SweepSchedule,
	}, nil
}
