package silt

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to read and write YAML duration
// strings such as "5s", "30m", "168h".
type Duration time.Duration

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// fileConfig mirrors Config for YAML decoding, with durations as
// strings. Formatter has no file representation.
type fileConfig struct {
	Path          string   `yaml:"path"`
	Table         string   `yaml:"table"`
	Capacity      int      `yaml:"capacity"`
	FlushInterval Duration `yaml:"flush_interval"`
	StopTimeout   Duration `yaml:"stop_timeout"`
	Columns       []Column `yaml:"columns"`
	Retention     struct {
		MaxAge   Duration `yaml:"max_age"`
		Schedule string   `yaml:"schedule"`
	} `yaml:"retention"`
}

// LoadConfig reads a YAML sink configuration from path. Missing keys
// stay zero and take the usual defaults when the sink is created.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return Config{
		Path:          fc.Path,
		Table:         fc.Table,
		Capacity:      fc.Capacity,
		FlushInterval: fc.FlushInterval.Std(),
		StopTimeout:   fc.StopTimeout.Std(),
		Columns:       fc.Columns,
		Retention: Retention{
			MaxAge:   fc.Retention.MaxAge.Std(),
			Schedule: fc.Retention.Schedule,
		},
	}, nil
}
