// Package config loads the on-disk YAML configuration consumed by the
// inject and serve-client commands: os.ReadFile plus yaml.Unmarshal
// into a tagged struct, with defaults applied before parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape for both roles; a given process only
// reads the fields its role needs.
type Config struct {
	// IPNSName is the mutable name the Injector publishes under and
	// the Client resolves.
	IPNSName string `yaml:"ipnsName"`

	// RepoDir holds the persisted root-hash file and, for the local
	// object-store backend, the bbolt database.
	RepoDir string `yaml:"repoDir"`

	// ObjectStore selects the Adapter implementation: "local" or "ipfs".
	ObjectStore string `yaml:"objectStore"`

	// IPFSAPIAddr is the daemon API address used when ObjectStore is "ipfs".
	IPFSAPIAddr string `yaml:"ipfsApiAddr,omitempty"`

	// MaxNodeSize bounds B-tree node size (MAX_NODE_SIZE).
	MaxNodeSize int `yaml:"maxNodeSize"`

	// RepublishLifetime is how long the object store keeps a publish
	// binding valid before it must be re-announced, given as a
	// Go duration string (e.g. "10m").
	RepublishLifetime Duration `yaml:"republishLifetime"`

	// RefreshInterval is read as a Go duration string (e.g. "5s"). The
	// serve-client command does not pass it on: ClientDb re-resolves at
	// the fixed clientdb.RefreshInterval (5s) whatever this is set to.
	RefreshInterval Duration `yaml:"refreshInterval,omitempty"`
}

// Duration wraps time.Duration so it can be read from YAML as a plain
// string ("10m", "5s") rather than a raw integer nanosecond count.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns a Config with every production default filled in:
// a 64-entry max node size, a 10-minute republish lifetime, and a
// 5-second client refresh interval.
func Default() Config {
	return Config{
		ObjectStore:       "local",
		MaxNodeSize:       64,
		RepublishLifetime: Duration(10 * time.Minute),
		RefreshInterval:   Duration(5 * time.Second),
	}
}

// Load reads and parses the YAML file at path, applying Default()
// values for any field the file leaves zero.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.IPNSName == "" {
		return Config{}, fmt.Errorf("config: ipnsName is required")
	}
	if cfg.RepoDir == "" {
		return Config{}, fmt.Errorf("config: repoDir is required")
	}

	return cfg, nil
}
