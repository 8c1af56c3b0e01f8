package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a reproducible run description, loadable from a YAML file.
// Nil pointer fields and empty strings mean "not set in YAML"; they do not
// override command-line defaults.
type Scenario struct {
	Seed              *int64           `yaml:"seed"`
	Ticks             int64            `yaml:"ticks"`
	StallTimeoutTicks *int             `yaml:"stall_timeout_ticks"`
	Controls          ScenarioControls `yaml:"controls"`
	Hardware          ScenarioHardware `yaml:"hardware"`
	Models            []string         `yaml:"models"`
	Events            []ScenarioEvent  `yaml:"events"`
}

// ScenarioControls overrides a subset of Controls. It doubles as the partial
// update accepted by the control API.
type ScenarioControls struct {
	TargetUsers *int              `yaml:"target_users" json:"targetUsers,omitempty"`
	Balancer    BalancingStrategy `yaml:"balancer" json:"balancer,omitempty"`
	Network     NetworkSpeed      `yaml:"network" json:"network,omitempty"`
	Placement   PlacementStrategy `yaml:"placement" json:"placement,omitempty"`
}

// ApplyTo returns base with every set field overridden.
func (c ScenarioControls) ApplyTo(base Controls) Controls {
	if c.TargetUsers != nil {
		base.TargetUsers = *c.TargetUsers
	}
	if c.Balancer != "" {
		base.Balancer = c.Balancer
	}
	if c.Network != "" {
		base.Network = c.Network
	}
	if c.Placement != "" {
		base.Placement = c.Placement
	}
	return base
}

// IsZero reports whether no field is set.
func (c ScenarioControls) IsZero() bool {
	return c.TargetUsers == nil && c.Balancer == "" && c.Network == "" && c.Placement == ""
}

// Validate checks the set fields against cat.
func (c ScenarioControls) Validate(cat *Catalog) error {
	if c.TargetUsers != nil && (*c.TargetUsers < 0 || *c.TargetUsers > MaxTargetUsers) {
		return fmt.Errorf("target_users must be in [0, %d], got %d", MaxTargetUsers, *c.TargetUsers)
	}
	if !ValidBalancingStrategies[c.Balancer] {
		return fmt.Errorf("unknown load balancing strategy %q", c.Balancer)
	}
	if !ValidPlacementStrategies[c.Placement] {
		return fmt.Errorf("unknown placement strategy %q", c.Placement)
	}
	if c.Network != "" {
		if _, err := cat.Network(c.Network); err != nil {
			return err
		}
	}
	return nil
}

// ScenarioHardware names a template or lists node groups, never both.
type ScenarioHardware struct {
	Template string          `yaml:"template"`
	Groups   []NodeGroupSpec `yaml:"groups"`
}

// Specs resolves the hardware against cat. Returns nil when unset.
func (h ScenarioHardware) Specs(cat *Catalog) ([]NodeGroupSpec, error) {
	if h.Template != "" {
		tpl, err := cat.Template(h.Template)
		if err != nil {
			return nil, err
		}
		return tpl.Specs, nil
	}
	return h.Groups, nil
}

// ScenarioEvent is an operator action applied just before the given tick.
type ScenarioEvent struct {
	Tick     int64            `yaml:"tick"`
	Node     string           `yaml:"node"`
	Online   *bool            `yaml:"online"`
	Controls ScenarioControls `yaml:"controls"`
	Models   []string         `yaml:"models"`
}

// LoadScenario reads and parses a YAML scenario file. Unknown keys are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a YAML scenario with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &sc, nil
}

// Validate checks every name and range in the scenario against cat.
func (s *Scenario) Validate(cat *Catalog) error {
	if s.Ticks < 0 {
		return fmt.Errorf("ticks must be non-negative, got %d", s.Ticks)
	}
	if s.StallTimeoutTicks != nil && *s.StallTimeoutTicks < 0 {
		return fmt.Errorf("stall_timeout_ticks must be non-negative, got %d", *s.StallTimeoutTicks)
	}
	if err := s.Controls.Validate(cat); err != nil {
		return fmt.Errorf("controls: %w", err)
	}
	if s.Hardware.Template != "" && len(s.Hardware.Groups) > 0 {
		return errors.New("hardware: set either template or groups, not both")
	}
	if _, err := s.Hardware.Specs(cat); err != nil {
		return fmt.Errorf("hardware: %w", err)
	}
	if err := cat.validateSpecs(s.Hardware.Groups); err != nil {
		return fmt.Errorf("hardware: %w", err)
	}
	if s.Models != nil {
		if err := cat.ValidateModelIDs(s.Models); err != nil {
			return fmt.Errorf("models: %w", err)
		}
	}

	var last int64
	for i, ev := range s.Events {
		if ev.Tick < 1 {
			return fmt.Errorf("event %d: tick must be >= 1, got %d", i, ev.Tick)
		}
		if ev.Tick < last {
			return fmt.Errorf("event %d: events must be ordered by tick", i)
		}
		last = ev.Tick
		if (ev.Node == "") != (ev.Online == nil) {
			return fmt.Errorf("event %d: node and online must be set together", i)
		}
		if ev.Node == "" && ev.Controls.IsZero() && ev.Models == nil {
			return fmt.Errorf("event %d: no action", i)
		}
		if err := ev.Controls.Validate(cat); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if ev.Models != nil {
			if err := cat.ValidateModelIDs(ev.Models); err != nil {
				return fmt.Errorf("event %d: %w", i, err)
			}
		}
	}
	return nil
}
