// Package holdings loads the portfolio file for the sell command.
package holdings

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mkkang/swingbot/internal/models"
)

// Settings are file-level defaults applied to rows that omit a field.
type Settings struct {
	DefaultCurrency string   `yaml:"default_currency"`
	DefaultStrategy string   `yaml:"default_strategy"`
	DefaultTags     []string `yaml:"default_tags"`
}

// Data is the parsed holdings file.
type Data struct {
	Path     string
	Settings Settings
	Holdings []models.Holding
}

type fileFormat struct {
	Settings Settings    `yaml:"settings"`
	Holdings []yaml.Node `yaml:"holdings"`
}

// Load parses the holdings YAML. A missing or empty path yields empty
// holdings; rows that fail to decode or lack a ticker are skipped.
func Load(path string) (*Data, error) {
	data := &Data{Path: path}
	if path == "" {
		return data, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return nil, fmt.Errorf("failed to read holdings file %s: %w", path, err)
	}

	var parsed fileFormat
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse holdings file %s: %w", path, err)
	}
	data.Settings = parsed.Settings

	for i := range parsed.Holdings {
		var holding models.Holding
		if err := parsed.Holdings[i].Decode(&holding); err != nil {
			continue
		}
		holding.Ticker = strings.TrimSpace(holding.Ticker)
		if holding.Ticker == "" {
			continue
		}
		if holding.EntryCurrency == "" {
			holding.EntryCurrency = parsed.Settings.DefaultCurrency
		}
		if holding.Strategy == "" {
			holding.Strategy = parsed.Settings.DefaultStrategy
		}
		if len(holding.Tags) == 0 {
			holding.Tags = append([]string(nil), parsed.Settings.DefaultTags...)
		}
		data.Holdings = append(data.Holdings, holding)
	}

	return data, nil
}

// Tickers returns the unique tickers across holdings, in file order.
func (d *Data) Tickers() []string {
	seen := make(map[string]bool)
	var tickers []string
	for _, holding := range d.Holdings {
		if holding.Ticker == "" || seen[holding.Ticker] {
			continue
		}
		seen[holding.Ticker] = true
		tickers = append(tickers, holding.Ticker)
	}
	return tickers
}
