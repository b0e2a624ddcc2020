package indicator

// Stream is an incremental Wilder RSI. Update is O(1) per price; no history
// is kept. It backs WilderRSI and lets callers extend a finished series one
// sample at a time.
type Stream struct {
	period  int
	count   int
	prev    float64
	avgGain float64
	avgLoss float64
	current float64
}

// NewStream creates a Stream with the given period (typically 14).
func NewStream(period int) *Stream {
	return &Stream{period: period}
}

// Update feeds the next price.
func (s *Stream) Update(price float64) {
	s.count++
	if s.count == 1 {
		s.prev = price
		return
	}

	gain, loss := split(price - s.prev)
	s.prev = price

	if s.count <= s.period+1 {
		// Seed phase: accumulate the first period differences.
		s.avgGain += gain
		s.avgLoss += loss
		if s.count == s.period+1 {
			s.avgGain /= float64(s.period)
			s.avgLoss /= float64(s.period)
			s.current = rsiFrom(s.avgGain, s.avgLoss)
		}
		return
	}

	p := float64(s.period)
	s.avgGain = (s.avgGain*(p-1) + gain) / p
	s.avgLoss = (s.avgLoss*(p-1) + loss) / p
	s.current = rsiFrom(s.avgGain, s.avgLoss)
}

// Value returns the latest RSI, or 0 before Ready.
func (s *Stream) Value() float64 { return s.current }

// Ready reports whether period differences have been seen.
func (s *Stream) Ready() bool { return s.count > s.period }

// Peek returns what Value would be after Update(price), without mutating state.
func (s *Stream) Peek(price float64) float64 {
	if s.count <= s.period {
		return s.current
	}
	gain, loss := split(price - s.prev)
	p := float64(s.period)
	return rsiFrom((s.avgGain*(p-1)+gain)/p, (s.avgLoss*(p-1)+loss)/p)
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}
