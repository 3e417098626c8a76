// Package config loads and validates per-lane configuration files, the
// way the teacher's config.go loads per-epoch configs: sniff the
// extension, unmarshal YAML or JSON, and stamp a sha256 content hash used
// for change detection — here doubling as the SnapshotMismatch check,
// which reports whether a lane's config file has changed since it was
// loaded.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethpir/statepir/uri"
	"gopkg.in/yaml.v3"
)

// Version is the only configuration schema version this build understands.
const Version = 1

// Snapshot names the data artifacts one lane serves.
type Snapshot struct {
	State   uri.URI `json:"state" yaml:"state"`
	Buckets uri.URI `json:"buckets" yaml:"buckets"`
	Stems   uri.URI `json:"stems" yaml:"stems"`
	Hints   uri.URI `json:"hints" yaml:"hints"`
	CRS     uri.URI `json:"crs" yaml:"crs"`
	Deltas  uri.URI `json:"deltas" yaml:"deltas"`
}

// Config is one lane's configuration: its identity, schema version, and
// the artifact locations it serves from.
type Config struct {
	originalFilepath string
	hashOfConfigFile string

	Lane     string   `json:"lane" yaml:"lane"`
	Version  *uint64  `json:"version" yaml:"version"`
	Snapshot Snapshot `json:"snapshot" yaml:"snapshot"`
	Bucketed *bool    `json:"bucketed" yaml:"bucketed"`
}

// LoadConfig sniffs configFilepath's extension and decodes it into a
// Config, stamping its content hash.
func LoadConfig(configFilepath string) (*Config, error) {
	var cfg Config
	switch {
	case isJSONFile(configFilepath):
		if err := loadFromJSON(configFilepath, &cfg); err != nil {
			return nil, err
		}
	case isYAMLFile(configFilepath):
		if err := loadFromYAML(configFilepath, &cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("config: file %q must be JSON or YAML", configFilepath)
	}
	cfg.originalFilepath = configFilepath
	sum, err := hashFileSha256(configFilepath)
	if err != nil {
		return nil, fmt.Errorf("config: hashing %q: %w", configFilepath, err)
	}
	cfg.hashOfConfigFile = sum
	return &cfg, nil
}

func isJSONFile(path string) bool { return strings.HasSuffix(path, ".json") }

func isYAMLFile(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}

func loadFromJSON(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: opening %q: %w", path, err)
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(dst)
}

func loadFromYAML(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: opening %q: %w", path, err)
	}
	defer f.Close()
	return yaml.NewDecoder(f).Decode(dst)
}

func hashFileSha256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// ConfigFilepath returns the path the config was loaded from.
func (c *Config) ConfigFilepath() string { return c.originalFilepath }

// HashOfConfigFile returns the sha256 content hash stamped at load time.
func (c *Config) HashOfConfigFile() string { return c.hashOfConfigFile }

// SnapshotMismatch reports whether the on-disk config file has changed
// since it was loaded, by comparing its current sha256 against the hash
// stamped at load time. The serve command's hot reload does not call it;
// it reacts to file-system events instead.
func (c *Config) SnapshotMismatch() (bool, error) {
	sum, err := hashFileSha256(c.originalFilepath)
	if err != nil {
		return false, err
	}
	return sum != c.hashOfConfigFile, nil
}

func isSupportedURI(u uri.URI, field string) error {
	if !u.IsFile() && !u.IsWeb() {
		return fmt.Errorf("config: %s must be a local file or a remote web URI", field)
	}
	return nil
}

// Validate checks a single lane's config for structural errors.
func (c *Config) Validate() error {
	if c.Lane == "" {
		return errors.New("config: lane must be set")
	}
	if c.Version == nil {
		return errors.New("config: version must be set")
	}
	if *c.Version != Version {
		return fmt.Errorf("config: version must be %d", Version)
	}
	if c.Snapshot.State.IsZero() {
		return errors.New("config: snapshot.state must be set")
	}
	if err := isSupportedURI(c.Snapshot.State, "snapshot.state"); err != nil {
		return err
	}
	if c.Snapshot.Hints.IsZero() {
		return errors.New("config: snapshot.hints must be set")
	}
	if err := isSupportedURI(c.Snapshot.Hints, "snapshot.hints"); err != nil {
		return err
	}
	if err := isSupportedURI(c.Snapshot.CRS, "snapshot.crs"); c.Snapshot.CRS.IsValid() && err != nil {
		return err
	}
	isBucketed := c.Bucketed == nil || *c.Bucketed
	if isBucketed {
		if c.Snapshot.Buckets.IsZero() {
			return errors.New("config: snapshot.buckets must be set for a bucketed lane")
		}
		if err := isSupportedURI(c.Snapshot.Buckets, "snapshot.buckets"); err != nil {
			return err
		}
	} else if c.Snapshot.Stems.IsZero() {
		return errors.New("config: snapshot.stems must be set for a non-bucketed lane")
	}
	return nil
}

// Slice is a set of lane configs, validated and ordered together.
type Slice []*Config

// Validate checks every config individually, then that lane names are
// unique across the set.
func (s Slice) Validate() error {
	for _, cfg := range s {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config: file %q: %w", cfg.ConfigFilepath(), err)
		}
	}
	seen := make(map[string][]string)
	for _, cfg := range s {
		seen[cfg.Lane] = append(seen[cfg.Lane], cfg.originalFilepath)
	}
	var multi []error
	for lane, files := range seen {
		if len(files) > 1 {
			multi = append(multi, fmt.Errorf("config: lane %q defined in multiple files: %v", lane, files))
		}
	}
	if len(multi) > 0 {
		return errors.Join(multi...)
	}
	return nil
}

// SortByLane orders the slice lexically by lane name, for deterministic
// startup logging and /health output.
func (s Slice) SortByLane() {
	sort.Slice(s, func(i, j int) bool { return s[i].Lane < s[j].Lane })
}

// LoadDir loads every *.yaml/*.yml/*.json file directly under dir as a lane
// config.
func LoadDir(dir string) (Slice, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: reading directory %q: %w", dir, err)
	}
	var out Slice
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if !isJSONFile(path) && !isYAMLFile(path) {
			continue
		}
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}
