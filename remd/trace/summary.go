package trace

// TraceSummary aggregates statistics from an ExchangeTrace.
type TraceSummary struct {
	TotalAttempts  int
	AcceptedCount  int
	RejectedCount  int
	AcceptanceRate float64
	PairAttempts   map[PairKey]int
	PairAccepted   map[PairKey]int
}

// PairAcceptance returns the acceptance fraction for a pair (0 when never attempted).
func (s *TraceSummary) PairAcceptance(i, j int) float64 {
	k := PairKey{I: i, J: j}
	n := s.PairAttempts[k]
	if n == 0 {
		return 0
	}
	return float64(s.PairAccepted[k]) / float64(n)
}

// Summarize computes aggregate statistics from an ExchangeTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(t *ExchangeTrace) *TraceSummary {
	summary := &TraceSummary{
		PairAttempts: make(map[PairKey]int),
		PairAccepted: make(map[PairKey]int),
	}
	if t == nil {
		return summary
	}

	summary.TotalAttempts = len(t.Exchanges)
	for _, r := range t.Exchanges {
		k := PairKey{I: r.I, J: r.J}
		summary.PairAttempts[k]++
		if r.Accepted {
			summary.AcceptedCount++
			summary.PairAccepted[k]++
		} else {
			summary.RejectedCount++
		}
	}
	if summary.TotalAttempts > 0 {
		summary.AcceptanceRate = float64(summary.AcceptedCount) / float64(summary.TotalAttempts)
	}
	return summary
}
