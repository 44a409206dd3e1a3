package trace

import "testing"

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	tr := NewExchangeTrace(TraceLevelExchanges)

	// WHEN summarized
	summary := Summarize(tr)

	// THEN all counts are zero
	if summary.TotalAttempts != 0 || summary.AcceptedCount != 0 || summary.RejectedCount != 0 {
		t.Errorf("expected zero counts, got %+v", summary)
	}
	if summary.AcceptanceRate != 0 {
		t.Errorf("expected 0 acceptance rate, got %v", summary.AcceptanceRate)
	}
	if summary.PairAcceptance(0, 1) != 0 {
		t.Error("expected 0 acceptance for unattempted pair")
	}
}

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	if summary.TotalAttempts != 0 || len(summary.PairAttempts) != 0 {
		t.Errorf("expected empty summary, got %+v", summary)
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with mixed accepted and rejected attempts
	tr := NewExchangeTrace(TraceLevelExchanges)
	tr.RecordExchanges(
		ExchangeRecord{Step: 1, I: 0, J: 1, Accepted: true},
		ExchangeRecord{Step: 1, I: 1, J: 2, Accepted: false},
		ExchangeRecord{Step: 2, I: 0, J: 1, Accepted: false},
		ExchangeRecord{Step: 2, I: 1, J: 2, Accepted: false},
	)

	// WHEN summarized
	summary := Summarize(tr)

	// THEN counts and per-pair acceptance match
	if summary.TotalAttempts != 4 {
		t.Errorf("expected 4 attempts, got %d", summary.TotalAttempts)
	}
	if summary.AcceptedCount != 1 || summary.RejectedCount != 3 {
		t.Errorf("expected 1 accepted and 3 rejected, got %d/%d", summary.AcceptedCount, summary.RejectedCount)
	}
	if summary.AcceptanceRate != 0.25 {
		t.Errorf("expected acceptance rate 0.25, got %v", summary.AcceptanceRate)
	}
	if got := summary.PairAcceptance(0, 1); got != 0.5 {
		t.Errorf("expected pair (0,1) acceptance 0.5, got %v", got)
	}
	if got := summary.PairAcceptance(1, 2); got != 0 {
		t.Errorf("expected pair (1,2) acceptance 0, got %v", got)
	}
}
