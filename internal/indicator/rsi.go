package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"chart-rsi/internal/model"
)

// Epsilon keeps RS finite when a window holds no losses.
const Epsilon = 1e-6

// RSI returns the simple-moving-average RSI of prices.
//
// Consecutive differences are split into gains and losses, each averaged over
// a rolling window of period differences, and RS = gain/(loss+Epsilon). The
// result has len(prices)-period values, the first aligned with the difference
// ending at prices[period]. Every value lies in [0, 100].
func RSI(prices []float64, period int) ([]float64, error) {
	if err := checkInput(prices, period, 1); err != nil {
		return nil, err
	}

	n := len(prices) - 1
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gains[i-1] = d
		} else {
			losses[i-1] = -d
		}
	}

	// talib pads the first period-1 slots with zeros.
	avgGain := talib.Sma(gains, period)[period-1:]
	avgLoss := talib.Sma(losses, period)[period-1:]

	out := make([]float64, len(avgGain))
	for i := range out {
		// Rolling sums can drift a hair below zero.
		g, l := math.Max(avgGain[i], 0), math.Max(avgLoss[i], 0)
		rs := g / (l + Epsilon)
		out[i] = 100 - 100/(1+rs)
	}
	return out, nil
}

// WilderRSI returns Wilder's RSI of prices, with the same length and alignment
// as RSI. A window with no movement at all reads 100.
func WilderRSI(prices []float64, period int) ([]float64, error) {
	if err := checkInput(prices, period, 2); err != nil {
		return nil, err
	}
	s := NewStream(period)
	out := make([]float64, 0, len(prices)-period)
	for _, p := range prices {
		s.Update(p)
		if s.Ready() {
			out = append(out, s.Value())
		}
	}
	return out, nil
}

func checkInput(prices []float64, period, minPeriod int) error {
	if period < minPeriod {
		return fmt.Errorf("indicator: period %d must be at least %d", period, minPeriod)
	}
	if len(prices) <= period {
		return fmt.Errorf("%w: %d prices, RSI(%d) needs more than %d", model.ErrInsufficientData, len(prices), period, period)
	}
	return nil
}
