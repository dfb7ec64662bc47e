package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Preset names.
const (
	PresetDiscretionary = "discretionary"
	PresetScalp         = "scalp"
	PresetMomentum      = "momentum"
	PresetEquityCross   = "equity-cross"
)

// Ladder is the consecutive-loss escalation: at Losses the size multiplier
// drops to SizeMultiplier, at Losses+1 the strategy pauses for PauseFor and
// then resumes at the reduced size. A win restores full size.
type Ladder struct {
	Losses         int           `yaml:"losses" default:"3"`
	SizeMultiplier float64       `yaml:"size_multiplier" default:"0.5"`
	PauseFor       time.Duration `yaml:"-"`

	PauseForRaw string `yaml:"pause_for" default:"4h"`
}

// Policy holds every constant that distinguishes one strategy from another.
type Policy struct {
	Name            string   `yaml:"name"`
	Preset          string   `yaml:"preset"`
	AutoExecute     bool     `yaml:"auto_execute"`
	KellyMultiplier float64  `yaml:"kelly_multiplier" default:"0.5"`
	SizeFloor       float64  `yaml:"size_floor" default:"0.05"`
	MaxPositions    int      `yaml:"max_positions" default:"2"`
	AllocationPct   float64  `yaml:"allocation_pct" default:"25"`
	DefaultLeverage int      `yaml:"default_leverage" default:"3"`
	MaxLeverage     int      `yaml:"max_leverage" default:"10"`
	PriorWinRate    float64  `yaml:"prior_win_rate" default:"0.5"`
	MinTrades       int      `yaml:"min_trades" default:"10"`
	Symbols         []string `yaml:"symbols"`
	Ladder          Ladder   `yaml:"ladder"`

	MaxHold     time.Duration `yaml:"-"`
	ProposalTTL time.Duration `yaml:"-"`

	MaxHoldRaw     string `yaml:"max_hold"`
	ProposalTTLRaw string `yaml:"proposal_ttl" default:"15m"`
}

// Presets returns the four built-in policies keyed by name.
func Presets() map[string]Policy {
	return map[string]Policy{
		PresetDiscretionary: {
			Name: PresetDiscretionary, Preset: PresetDiscretionary,
			AutoExecute: false, KellyMultiplier: 0.5, SizeFloor: 0.05,
			MaxPositions: 3, AllocationPct: 30, DefaultLeverage: 3, MaxLeverage: 10,
			PriorWinRate: 0.5, MinTrades: 10,
			ProposalTTL: 30 * time.Minute, ProposalTTLRaw: "30m",
			Ladder: Ladder{Losses: 3, SizeMultiplier: 0.5, PauseFor: 6 * time.Hour, PauseForRaw: "6h"},
		},
		PresetScalp: {
			Name: PresetScalp, Preset: PresetScalp,
			AutoExecute: true, KellyMultiplier: 0.5, SizeFloor: 0.1,
			MaxPositions: 2, AllocationPct: 20, DefaultLeverage: 5, MaxLeverage: 10,
			PriorWinRate: 0.55, MinTrades: 20,
			MaxHold: 2 * time.Hour, MaxHoldRaw: "2h",
			ProposalTTL: 5 * time.Minute, ProposalTTLRaw: "5m",
			Ladder: Ladder{Losses: 3, SizeMultiplier: 0.5, PauseFor: 2 * time.Hour, PauseForRaw: "2h"},
		},
		PresetMomentum: {
			Name: PresetMomentum, Preset: PresetMomentum,
			AutoExecute: true, KellyMultiplier: 0.75, SizeFloor: 0.05,
			MaxPositions: 3, AllocationPct: 30, DefaultLeverage: 3, MaxLeverage: 8,
			PriorWinRate: 0.45, MinTrades: 10,
			MaxHold: 48 * time.Hour, MaxHoldRaw: "48h",
			ProposalTTL: 10 * time.Minute, ProposalTTLRaw: "10m",
			Ladder: Ladder{Losses: 4, SizeMultiplier: 0.5, PauseFor: 12 * time.Hour, PauseForRaw: "12h"},
		},
		PresetEquityCross: {
			Name: PresetEquityCross, Preset: PresetEquityCross,
			AutoExecute: false, KellyMultiplier: 0.5, SizeFloor: 0.05,
			MaxPositions: 1, AllocationPct: 20, DefaultLeverage: 2, MaxLeverage: 5,
			PriorWinRate: 0.5, MinTrades: 10,
			Symbols:     []string{"SPX", "NDX"},
			ProposalTTL: time.Hour, ProposalTTLRaw: "1h",
			Ladder: Ladder{Losses: 2, SizeMultiplier: 0.5, PauseFor: 24 * time.Hour, PauseForRaw: "24h"},
		},
	}
}

// Preset returns a named preset.
func Preset(name string) (Policy, bool) {
	p, ok := Presets()[name]
	return p, ok
}

// PolicyFile is the on-disk strategy list.
type PolicyFile struct {
	Strategies []Policy `yaml:"strategies"`
}

// LoadPolicies reads and validates a strategy policy file.
func LoadPolicies(path string) ([]Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: open policy file: %w", err)
	}
	defer f.Close()
	return LoadPoliciesFromReader(f)
}

// LoadPoliciesFromReader decodes policies. An entry naming a preset starts
// from that preset; fields present in the file override it, and remaining
// zero fields take the struct defaults.
func LoadPoliciesFromReader(r io.Reader) ([]Policy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: read policy file: %w", err)
	}
	var raw struct {
		Strategies []yaml.Node `yaml:"strategies"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("lifecycle: unmarshal policy file: %w", err)
	}
	out := make([]Policy, 0, len(raw.Strategies))
	for i := range raw.Strategies {
		var head struct {
			Preset string `yaml:"preset"`
		}
		if err := raw.Strategies[i].Decode(&head); err != nil {
			return nil, fmt.Errorf("lifecycle: strategies[%d]: %w", i, err)
		}
		var p Policy
		if head.Preset != "" {
			preset, ok := Preset(head.Preset)
			if !ok {
				return nil, fmt.Errorf("lifecycle: strategies[%d]: unknown preset %q", i, head.Preset)
			}
			p = preset
		}
		if err := raw.Strategies[i].Decode(&p); err != nil {
			return nil, fmt.Errorf("lifecycle: strategies[%d]: %w", i, err)
		}
		if err := p.Normalize(); err != nil {
			return nil, fmt.Errorf("lifecycle: strategies[%d]: %w", i, err)
		}
		out = append(out, p)
	}
	if err := validateSet(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize applies defaults, parses durations and validates.
func (p *Policy) Normalize() error {
	if err := defaults.Set(p); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = p.Preset
	}
	for i, s := range p.Symbols {
		p.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	var err error
	if p.MaxHold, err = parseOptionalDuration("max_hold", p.MaxHoldRaw); err != nil {
		return err
	}
	if p.ProposalTTL, err = parseOptionalDuration("proposal_ttl", p.ProposalTTLRaw); err != nil {
		return err
	}
	if p.Ladder.PauseFor, err = parseOptionalDuration("ladder.pause_for", p.Ladder.PauseForRaw); err != nil {
		return err
	}
	return p.Validate()
}

// Validate checks ranges.
func (p Policy) Validate() error {
	switch {
	case p.Name == "":
		return errors.New("name is required")
	case p.KellyMultiplier <= 0 || p.KellyMultiplier > 1:
		return fmt.Errorf("%s: kelly_multiplier must be in (0,1]", p.Name)
	case p.SizeFloor < 0 || p.SizeFloor > 1:
		return fmt.Errorf("%s: size_floor must be in [0,1]", p.Name)
	case p.MaxPositions <= 0:
		return fmt.Errorf("%s: max_positions must be positive", p.Name)
	case p.AllocationPct <= 0 || p.AllocationPct > 100:
		return fmt.Errorf("%s: allocation_pct must be in (0,100]", p.Name)
	case p.DefaultLeverage <= 0 || p.MaxLeverage < p.DefaultLeverage:
		return fmt.Errorf("%s: leverage must satisfy 0 < default_leverage <= max_leverage", p.Name)
	case p.PriorWinRate < 0 || p.PriorWinRate > 1:
		return fmt.Errorf("%s: prior_win_rate must be in [0,1]", p.Name)
	case p.Ladder.Losses <= 0:
		return fmt.Errorf("%s: ladder.losses must be positive", p.Name)
	case p.Ladder.SizeMultiplier <= 0 || p.Ladder.SizeMultiplier > 1:
		return fmt.Errorf("%s: ladder.size_multiplier must be in (0,1]", p.Name)
	}
	return nil
}

// Accepts reports whether the policy trades symbol.
func (p Policy) Accepts(symbol string) bool {
	if len(p.Symbols) == 0 {
		return true
	}
	for _, s := range p.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func validateSet(policies []Policy) error {
	if len(policies) == 0 {
		return errors.New("lifecycle: at least one strategy must be defined")
	}
	seen := make(map[string]struct{}, len(policies))
	total := 0.0
	for _, p := range policies {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("lifecycle: duplicate strategy %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		total += p.AllocationPct
	}
	if total > 100+1e-6 {
		names := make([]string, 0, len(seen))
		for n := range seen {
			names = append(names, n)
		}
		sort.Strings(names)
		return fmt.Errorf("lifecycle: allocation across %s sums to %.2f%%", strings.Join(names, ", "), total)
	}
	return nil
}

func parseOptionalDuration(field, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", field, d)
	}
	return d, nil
}
