package model

import (
	"encoding/json"
	"time"
)

// Zone is the RSI band the latest value falls into.
type Zone string

const (
	ZoneOverbought Zone = "overbought"
	ZoneOversold   Zone = "oversold"
	ZoneNeutral    Zone = "neutral"
)

// Analysis is the finished result of one chart upload. It is what the service
// journals, publishes and streams; intermediate sequences are not part of it.
type Analysis struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	FileName    string    `json:"file_name"`
	PriceMin    float64   `json:"price_min"`
	PriceMax    float64   `json:"price_max"`
	ChartHeight int       `json:"chart_height"`
	Period      int       `json:"period"`
	Method      string    `json:"method"`
	PointCount  int       `json:"point_count"`
	RSI         []float64 `json:"rsi"`
	Latest      float64   `json:"latest"`
	Zone        Zone      `json:"zone"`
}

// JSON returns the JSON-encoded analysis (ignoring errors; all fields are plain values).
func (a *Analysis) JSON() []byte {
	b, _ := json.Marshal(a)
	return b
}

// Summary is the lightweight view used by listings and the WebSocket stream.
type Summary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	FileName   string    `json:"file_name"`
	PointCount int       `json:"point_count"`
	Samples    int       `json:"samples"`
	Latest     float64   `json:"latest"`
	Zone       Zone      `json:"zone"`
}

// Summarize builds the Summary view of a.
func (a *Analysis) Summarize() Summary {
	return Summary{
		ID:         a.ID,
		CreatedAt:  a.CreatedAt,
		FileName:   a.FileName,
		PointCount: a.PointCount,
		Samples:    len(a.RSI),
		Latest:     a.Latest,
		Zone:       a.Zone,
	}
}
