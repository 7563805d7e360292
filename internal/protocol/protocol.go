// Package protocol loads the experiment protocol: which stimuli to show,
// the optional trial block and the sequence of levels to run.
package protocol

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/breathlab/internal/nback"
)

// Trial configures the practice block run before the level sequence.
// Seconds of zero disables it.
type Trial struct {
	Level   nback.Level `yaml:"level"`
	Seconds int         `yaml:"seconds"`
}

// Unmatched holds the match-frequency thresholds.
type Unmatched struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Protocol describes one experiment run.
type Protocol struct {
	Stimuli        []string      `yaml:"stimuli"`
	Trial          Trial         `yaml:"trial"`
	Levels         []nback.Level `yaml:"levels"`
	SessionSeconds int           `yaml:"session_seconds"`
	WarmupSeconds  int           `yaml:"warmup_seconds"`
	ResponseWindow time.Duration `yaml:"response_window"`
	Unmatched      Unmatched     `yaml:"unmatched"`
}

// Block is one session of a planned run.
type Block struct {
	Level  nback.Level
	Config nback.Config
}

// Default returns the protocol of the reference study: a 30 second easy
// trial followed by easy, normal and hard sessions.
func Default() *Protocol {
	c := nback.DefaultConfig()
	return &Protocol{
		Stimuli:        c.Stimuli,
		Trial:          Trial{Level: nback.Easy, Seconds: 30},
		Levels:         append([]nback.Level(nil), nback.Levels...),
		SessionSeconds: c.SessionSeconds,
		WarmupSeconds:  c.WarmupSeconds,
		ResponseWindow: c.ResponseWindow,
		Unmatched:      Unmatched{Min: c.MinUnmatched, Max: c.MaxUnmatched},
	}
}

// Load reads a protocol file. A missing file yields the defaults.
func Load(path string) (*Protocol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read protocol: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("protocol %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Protocol, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Save writes the protocol as YAML, creating parent directories.
func (p *Protocol) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal protocol: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create protocol dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks every block the protocol would run.
func (p *Protocol) Validate() error {
	if len(p.Levels) == 0 {
		return errors.New("levels must not be empty")
	}
	for _, l := range p.Levels {
		if _, err := nback.ParseLevel(l.String()); err != nil {
			return err
		}
	}
	if p.Trial.Seconds < 0 {
		return fmt.Errorf("trial seconds must not be negative, got %d", p.Trial.Seconds)
	}
	if p.Trial.Seconds > 0 {
		if _, err := nback.ParseLevel(p.Trial.Level.String()); err != nil {
			return fmt.Errorf("trial: %w", err)
		}
	}
	return p.Config(false).Validate()
}

// Config builds the engine config for a level session or the trial block.
func (p *Protocol) Config(trial bool) nback.Config {
	c := nback.Config{
		Stimuli:        append([]string(nil), p.Stimuli...),
		MinUnmatched:   p.Unmatched.Min,
		MaxUnmatched:   p.Unmatched.Max,
		ResponseWindow: p.ResponseWindow,
		SessionSeconds: p.SessionSeconds,
		WarmupSeconds:  p.WarmupSeconds,
	}
	if trial {
		c.SessionSeconds = p.Trial.Seconds
		c.Trial = true
	}
	return c
}

// Plan lists the sessions of a full run: the trial block when enabled, then
// each level in order.
func (p *Protocol) Plan() []Block {
	blocks := make([]Block, 0, len(p.Levels)+1)
	if p.Trial.Seconds > 0 {
		blocks = append(blocks, Block{Level: p.Trial.Level, Config: p.Config(true)})
	}
	for _, l := range p.Levels {
		blocks = append(blocks, Block{Level: l, Config: p.Config(false)})
	}
	return blocks
}
