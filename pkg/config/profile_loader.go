package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arbiterlabs/arbiter/pkg/policy"
)

// Duration parses Go duration strings ("45s", "2m") from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
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

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Profile is the YAML-declared tuning for one deployment: council
// thresholds, judge weights, dispatch limits, and policy extension rules.
type Profile struct {
	Council struct {
		AcceptThreshold float64  `yaml:"accept_threshold"`
		RejectThreshold float64  `yaml:"reject_threshold"`
		FailGuard       float64  `yaml:"fail_guard"`
		MaxDebateRounds int      `yaml:"max_debate_rounds"`
		PerJudgeTimeout Duration `yaml:"per_judge_timeout"`
		EnrichmentSLA   Duration `yaml:"enrichment_sla"`
		Judges          []struct {
			ID      string  `yaml:"id"`
			Version string  `yaml:"version"`
			Weight  float64 `yaml:"weight"`
		} `yaml:"judges"`
	} `yaml:"council"`

	Dispatch struct {
		MaxConcurrent    int      `yaml:"max_concurrent"`
		QueueCapacity    int      `yaml:"queue_capacity"`
		PerWorkerTimeout Duration `yaml:"per_worker_timeout"`
		RetryAttempts    int      `yaml:"retry_attempts"`
	} `yaml:"dispatch"`

	Policy struct {
		BlockedGlobs []string      `yaml:"blocked_globs"`
		Rules        []policy.Rule `yaml:"rules"`
	} `yaml:"policy"`

	Provenance struct {
		RetentionDays int    `yaml:"retention_days"`
		Algorithm     string `yaml:"algorithm"`
	} `yaml:"provenance"`
}

// LoadProfile reads and validates a YAML profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

func (p *Profile) validate() error {
	c := p.Council
	if c.AcceptThreshold != 0 && (c.AcceptThreshold <= 0 || c.AcceptThreshold > 1) {
		return fmt.Errorf("accept_threshold %v outside (0,1]", c.AcceptThreshold)
	}
	if c.RejectThreshold != 0 && (c.RejectThreshold <= 0 || c.RejectThreshold >= 1) {
		return fmt.Errorf("reject_threshold %v outside (0,1)", c.RejectThreshold)
	}
	var weightSum float64
	for _, j := range c.Judges {
		if j.Weight < 0 || j.Weight > 1 {
			return fmt.Errorf("judge %s weight %v outside [0,1]", j.ID, j.Weight)
		}
		weightSum += j.Weight
	}
	if weightSum > 1 {
		return fmt.Errorf("judge weights sum %v exceeds 1", weightSum)
	}
	return nil
}
