package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/user/breathlab/internal/respiration"
	"github.com/user/breathlab/internal/sensor"
)

// Duration is a time.Duration stored as a string such as "2s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// bare numbers are seconds
		var secs float64
		if err := json.Unmarshal(data, &secs); err != nil {
			return fmt.Errorf("duration must be a string or number: %s", data)
		}
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// SensorConfig describes one sensor subprocess.
type SensorConfig struct {
	Command       string   `json:"command"`
	Shell         string   `json:"shell,omitempty"`
	KnownMessages []string `json:"known_messages,omitempty"`
	StopGrace     Duration `json:"stop_grace"`
}

// Bridge converts the entry into a sensor bridge configuration.
func (s SensorConfig) Bridge(name string) sensor.Config {
	return sensor.Config{
		Name:          name,
		Command:       s.Command,
		Shell:         s.Shell,
		KnownMessages: s.KnownMessages,
		StopGrace:     s.StopGrace.Duration,
	}
}

type Config struct {
	DataDir      string       `json:"data_dir"`
	LogLevel     string       `json:"log_level"`
	ProtocolPath string       `json:"protocol_path"`
	Eye          SensorConfig `json:"eye"`
	Breath       struct {
		SensorConfig
		SampleRate    float64 `json:"sample_rate"`
		WindowSeconds float64 `json:"window_seconds"`
		EstimateEvery int     `json:"estimate_every"`
	} `json:"breath"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
		Token   string `json:"token"`
	} `json:"http"`
	Archive struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	} `json:"archive"`
}

// Window returns the respiration window settings.
func (c *Config) Window() respiration.WindowConfig {
	return respiration.WindowConfig{
		SampleRate:    c.Breath.SampleRate,
		WindowSeconds: c.Breath.WindowSeconds,
		EstimateEvery: c.Breath.EstimateEvery,
	}
}

// ResolvedProtocolPath returns the protocol file path, relative paths
// being resolved against the data directory.
func (c *Config) ResolvedProtocolPath() string {
	return resolve(c.DataDir, c.ProtocolPath, "protocol.yaml")
}

// ResolvedArchivePath returns the archive database path.
func (c *Config) ResolvedArchivePath() string {
	return resolve(c.DataDir, c.Archive.Path, "archive.db")
}

func resolve(dir, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	cfg := &Config{
		DataDir:      filepath.Join(os.Getenv("HOME"), ".breathlab"),
		LogLevel:     "info",
		ProtocolPath: "protocol.yaml",
	}
	cfg.Eye.Shell = "/bin/sh"
	cfg.Eye.KnownMessages = append([]string(nil), sensor.DefaultKnownMessages...)
	cfg.Eye.StopGrace = Duration{sensor.DefaultStopGrace}

	w := respiration.DefaultWindowConfig()
	cfg.Breath.Shell = "/bin/sh"
	cfg.Breath.KnownMessages = append([]string(nil), sensor.DefaultKnownMessages...)
	cfg.Breath.StopGrace = Duration{sensor.DefaultStopGrace}
	cfg.Breath.SampleRate = w.SampleRate
	cfg.Breath.WindowSeconds = w.WindowSeconds
	cfg.Breath.EstimateEvery = w.EstimateEvery

	cfg.HTTP.Listen = "127.0.0.1:8470"
	cfg.Archive.Enabled = true
	cfg.Archive.Path = "archive.db"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if dir := os.Getenv("BREATHLAB_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if level := os.Getenv("BREATHLAB_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if cmd := os.Getenv("BREATHLAB_EYE_COMMAND"); cmd != "" {
		cfg.Eye.Command = cmd
	}
	if cmd := os.Getenv("BREATHLAB_BREATH_COMMAND"); cmd != "" {
		cfg.Breath.Command = cmd
	}
	if token := os.Getenv("BREATHLAB_HTTP_TOKEN"); token != "" {
		cfg.HTTP.Token = token
	}

	return cfg, nil
}

// Save writes the configuration atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	data = append(data, '\n')
	if err := renameio.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ToMap converts the configuration into its nested JSON map form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns every value keyed by its dot-separated path.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

// GetValue returns the value stored in the file under a dot-separated key.
// A missing file is created with defaults first.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(raw)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores a value under a dot-separated key. Values that parse as
// JSON (numbers, booleans, arrays) are stored typed, anything else as a
// string. The file must already exist.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(raw)

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat[key] = parsed

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := json.Unmarshal(data, Defaults()); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeFile(path, data)
}
