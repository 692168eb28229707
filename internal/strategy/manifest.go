package strategy

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Spec is one manifest entry. Kind selects a registered generator; the rest
// parameterizes it.
type Spec struct {
	Name       string   `yaml:"name"`
	Kind       string   `yaml:"kind"`
	DDLookback int      `yaml:"dd_lookback"`
	BuyAt      string   `yaml:"buy_at"`  // "09:31" exchange time
	SellAt     string   `yaml:"sell_at"` // "15:50"
	Symbols    []string `yaml:"symbols"`
	Weight     float64  `yaml:"weight"`
	StopFrac   float64  `yaml:"stop_frac"`
	OrderKind  string   `yaml:"order_kind"` // market | limit | moc
}

type manifest struct {
	Strategies []Spec `yaml:"strategies"`
}

// Factory builds a strategy from its manifest spec.
type Factory func(Spec) (Strategy, error)

var factories = map[string]Factory{}

func Register(kind string, f Factory) {
	factories[kind] = f
}

// LoadManifest reads the YAML manifest and builds every listed strategy.
func LoadManifest(path string) ([]Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading strategy manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing strategy manifest: %w", err)
	}
	return Build(m.Strategies)
}

func Build(specs []Spec) ([]Strategy, error) {
	seen := make(map[string]struct{}, len(specs))
	out := make([]Strategy, 0, len(specs))
	for _, spec := range specs {
		if err := spec.validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate strategy name %q", spec.Name)
		}
		seen[spec.Name] = struct{}{}
		factory, ok := factories[spec.Kind]
		if !ok {
			return nil, fmt.Errorf("strategy %q: unknown kind %q", spec.Name, spec.Kind)
		}
		s, err := factory(spec)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", spec.Name, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (s Spec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("strategy without a name")
	}
	if s.Kind == "" {
		return fmt.Errorf("strategy %q: kind is required", s.Name)
	}
	if _, _, err := parseClock(s.BuyAt); err != nil {
		return fmt.Errorf("strategy %q: buy_at: %w", s.Name, err)
	}
	if _, _, err := parseClock(s.SellAt); err != nil {
		return fmt.Errorf("strategy %q: sell_at: %w", s.Name, err)
	}
	return nil
}

func parseClock(v string) (int, int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", v)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", v)
	}
	min, err := strconv.Atoi(parts[1])
	if err != nil || min < 0 || min > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", v)
	}
	return hour, min, nil
}
