package market

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed is a tradable symbol and its opening price.
type Seed struct {
	Symbol string  `yaml:"symbol"`
	Price  float64 `yaml:"price"`
}

// SeedFile is the top-level YAML structure.
type SeedFile struct {
	Symbols []Seed `yaml:"symbols"`
}

// DefaultSeeds is used when no market file is configured.
var DefaultSeeds = []Seed{
	{Symbol: "AAPL", Price: 150},
	{Symbol: "MSFT", Price: 380},
	{Symbol: "GOOGL", Price: 140},
	{Symbol: "AMZN", Price: 175},
	{Symbol: "TSLA", Price: 240},
	{Symbol: "NVDA", Price: 480},
	{Symbol: "BTCUSD", Price: 65000},
	{Symbol: "ETHUSD", Price: 3200},
}

// LoadSeeds reads seeds from a YAML file. An empty path yields DefaultSeeds.
func LoadSeeds(path string) ([]Seed, error) {
	if path == "" {
		return DefaultSeeds, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Symbols))
	out := make([]Seed, 0, len(file.Symbols))
	for _, s := range file.Symbols {
		s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
		if s.Symbol == "" || s.Price <= 0 {
			return nil, fmt.Errorf("invalid seed %q @ %v", s.Symbol, s.Price)
		}
		if seen[s.Symbol] {
			return nil, fmt.Errorf("duplicate seed %q", s.Symbol)
		}
		seen[s.Symbol] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s lists no symbols", path)
	}
	return out, nil
}
