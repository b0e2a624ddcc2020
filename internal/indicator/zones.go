package indicator

import (
	"fmt"

	"chart-rsi/internal/model"
)

// Zones holds the RSI thresholds used to classify a reading.
type Zones struct {
	Overbought float64 `yaml:"overbought" json:"overbought" env:"OVERBOUGHT, overwrite"`
	Oversold   float64 `yaml:"oversold" json:"oversold" env:"OVERSOLD, overwrite"`
}

// DefaultZones returns the conventional 70/30 thresholds.
func DefaultZones() Zones {
	return Zones{Overbought: 70, Oversold: 30}
}

// Validate requires 0 <= Oversold < Overbought <= 100.
func (z Zones) Validate() error {
	if z.Oversold < 0 || z.Overbought > 100 || z.Oversold >= z.Overbought {
		return fmt.Errorf("indicator: invalid zones oversold=%v overbought=%v", z.Oversold, z.Overbought)
	}
	return nil
}

// Classify places v in a zone. Thresholds are inclusive.
func (z Zones) Classify(v float64) model.Zone {
	switch {
	case v >= z.Overbought:
		return model.ZoneOverbought
	case v <= z.Oversold:
		return model.ZoneOversold
	}
	return model.ZoneNeutral
}
