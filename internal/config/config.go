// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/azure/webimage/internal/fetch"
	"github.com/azure/webimage/internal/files/cache"
	"github.com/azure/webimage/internal/files/memory"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

// Duration is a time.Duration written as a string such as "30s" or "168h".
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config holds the settings of the image cache.
type Config struct {
	// Dir is the cache directory.
	Dir string `toml:"dir"`

	// MaxAge and MaxSize are the eviction budgets. Zero disables a budget.
	MaxAge  Duration `toml:"max_age"`
	MaxSize int64    `toml:"max_size"`

	SweepInterval Duration `toml:"sweep_interval"`
	FlushInterval Duration `toml:"flush_interval"`

	FetchWorkers  int `toml:"fetch_workers"`
	DecodeWorkers int `toml:"decode_workers"`

	MemoryMaxEntries int   `toml:"memory_max_entries"`
	MemoryMaxCost    int64 `toml:"memory_max_cost"`

	HTTPTimeout Duration `toml:"http_timeout"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Dir:              cache.DefaultDir,
		MaxAge:           Duration(7 * 24 * time.Hour),
		MaxSize:          0,
		SweepInterval:    Duration(time.Hour),
		FlushInterval:    Duration(30 * time.Second),
		FetchWorkers:     fetch.FetchWorkers,
		DecodeWorkers:    fetch.DecodeWorkers,
		MemoryMaxEntries: memory.DefaultMaxEntries,
		MemoryMaxCost:    memory.DefaultMaxCost,
		HTTPTimeout:      Duration(30 * time.Second),
	}
}

// Load reads the configuration file at path on fs over the defaults.
// Unknown keys are rejected.
func Load(fs afero.Fs, path string) (Config, error) {
	c := Default()

	f, err := fs.Open(path)
	if err != nil {
		return c, err
	}
	defer f.Close()

	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&c); err != nil {
		var strictErr *toml.StrictMissingError
		if errors.As(err, &strictErr) {
			return c, fmt.Errorf("config %v: %v", path, strictErr.String())
		}
		return c, fmt.Errorf("config %v: %w", path, err)
	}

	return c, c.Validate()
}

// Validate checks that all settings are usable.
func (c Config) Validate() error {
	var errs []error
	if c.Dir == "" {
		errs = append(errs, errors.New("dir is required"))
	}
	if c.MaxAge < 0 {
		errs = append(errs, errors.New("max_age must not be negative"))
	}
	if c.MaxSize < 0 {
		errs = append(errs, errors.New("max_size must not be negative"))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("sweep_interval must not be negative"))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("flush_interval must be positive"))
	}
	if c.FetchWorkers <= 0 {
		errs = append(errs, errors.New("fetch_workers must be positive"))
	}
	if c.DecodeWorkers <= 0 {
		errs = append(errs, errors.New("decode_workers must be positive"))
	}
	if c.MemoryMaxEntries <= 0 {
		errs = append(errs, errors.New("memory_max_entries must be positive"))
	}
	if c.MemoryMaxCost <= 0 {
		errs = append(errs, errors.New("memory_max_cost must be positive"))
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, errors.New("http_timeout must not be negative"))
	}
	return errors.Join(errs...)
}
