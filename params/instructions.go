package params

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/updownbot/pkg/rules"
)

// instructionsFile matches the structure of instructions.yaml:
//
//	instructions:
//	  - title: Bitcoin Up or Down
//	    match_slug: bitcoin-up-or-down
//	    order_size: 5
//	    buy_price_threshold: 0.90
//	    minutes_offset: 0
//	    current_hour_only: true
type instructionsFile struct {
	Instructions []struct {
		Title             string  `yaml:"title"`
		MatchSlug         string  `yaml:"match_slug"`
		OrderSize         float64 `yaml:"order_size"`
		BuyPriceThreshold float64 `yaml:"buy_price_threshold"`
		MinutesOffset     int     `yaml:"minutes_offset"`
		CurrentHourOnly   bool    `yaml:"current_hour_only"`
		Disabled          bool    `yaml:"disabled"`
	} `yaml:"instructions"`
}

// LoadInstructions reads instructions from a YAML file. A missing file is
// reported as an error wrapping os.ErrNotExist.
func LoadInstructions(path string) ([]rules.Instruction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instructions: %w", err)
	}

	var f instructionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrConfig, path, err)
	}

	out := make([]rules.Instruction, 0, len(f.Instructions))
	for _, in := range f.Instructions {
		out = append(out, rules.Instruction{
			Title:             in.Title,
			MatchSlug:         in.MatchSlug,
			OrderSize:         decimal.NewFromFloat(in.OrderSize),
			BuyPriceThreshold: decimal.NewFromFloat(in.BuyPriceThreshold),
			MinutesOffset:     in.MinutesOffset,
			Flags: rules.Flags{
				CurrentHourOnly: in.CurrentHourOnly,
				Disabled:        in.Disabled,
			},
		})
	}
	return out, nil
}
