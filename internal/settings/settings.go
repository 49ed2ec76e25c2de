package settings

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine configuration loaded from the YAML config file.
type Settings struct {
	Registry Registry `yaml:"registry"` // Registry transport configuration.
	Upgrade  Upgrade  `yaml:"upgrade"`  // Upgrade retry and backoff policy.
	Prune    Prune    `yaml:"prune"`    // Deployment retention policy.
}

// Registry transport configuration.
type Registry struct {

	// Host rewrites applied before contacting a registry. Keys are the
	// hosts as they appear in image references, values the mirror hosts
	// to contact instead.
	Mirrors map[string]string `yaml:"mirrors"`

	// Registries images may be pulled from. An empty list allows all.
	Allowed []string `yaml:"allowed"`
}

// Upgrade retry and backoff policy.
//
// Only transient resolution failures are retried. Backoff doubles per
// attempt from Backoff up to BackoffMax.
type Upgrade struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     Duration `yaml:"backoff"`
	BackoffMax  Duration `yaml:"backoff_max"`
	Timeout     Duration `yaml:"timeout"` // Per-attempt network timeout.
}

// Deployment retention policy.
type Prune struct {

	// Number of rollback deployments to keep. Booted and staged
	// deployments are never pruned regardless of this value.
	KeepRollback int `yaml:"keep_rollback"`
}

// Default configuration used when no config file exists.
func Default() *Settings {
	return &Settings{
		Upgrade: Upgrade{
			MaxAttempts: 3,
			Backoff:     Duration(time.Second),
			BackoffMax:  Duration(30 * time.Second),
			Timeout:     Duration(5 * time.Minute),
		},
		Prune: Prune{
			KeepRollback: 2,
		},
	}
}

// Loads configuration from the given path.
//
// A missing file is not an error; defaults are returned. Fields absent from
// the file keep their default values.
func Load(path string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return s, nil
}

// Duration wraps [time.Duration] with YAML support for strings like "30s".
type Duration time.Duration

// Parses a duration from its YAML string form.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
