// Package indicator computes the Relative Strength Index over a price series.
//
// Two smoothing methods are offered. MethodSMA averages gains and losses with
// a plain rolling mean and is the default. MethodWilder applies Wilder's
// recursive smoothing seeded with the first simple mean.
package indicator

import (
	"fmt"
	"strings"
)

// DefaultPeriod is the conventional RSI look-back.
const DefaultPeriod = 14

// Method selects how average gain and loss are smoothed.
type Method string

const (
	MethodSMA    Method = "sma"
	MethodWilder Method = "wilder"
)

// ParseMethod accepts "sma" or "wilder" (case-insensitive). Empty means sma.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodSMA:
		return MethodSMA, nil
	case MethodWilder:
		return MethodWilder, nil
	}
	return "", fmt.Errorf("indicator: unknown RSI method %q", s)
}

// Compute dispatches to the RSI variant named by m.
func Compute(m Method, prices []float64, period int) ([]float64, error) {
	switch m {
	case "", MethodSMA:
		return RSI(prices, period)
	case MethodWilder:
		return WilderRSI(prices, period)
	}
	return nil, fmt.Errorf("indicator: unknown RSI method %q", m)
}
