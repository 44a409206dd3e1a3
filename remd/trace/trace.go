package trace

// TraceLevel selects what the exchange trace keeps.
type TraceLevel string

const (
	TraceLevelNone      TraceLevel = "none"      // nothing recorded
	TraceLevelExchanges TraceLevel = "exchanges" // every attempted swap
)

// IsValidTraceLevel reports whether level names a known trace level.
// The empty string means none.
func IsValidTraceLevel(level string) bool {
	switch TraceLevel(level) {
	case "", TraceLevelNone, TraceLevelExchanges:
		return true
	}
	return false
}

// ExchangeTrace collects exchange records during a run.
type ExchangeTrace struct {
	Level     TraceLevel
	Exchanges []ExchangeRecord
}

// NewExchangeTrace creates an ExchangeTrace ready for recording.
func NewExchangeTrace(level TraceLevel) *ExchangeTrace {
	return &ExchangeTrace{
		Level:     level,
		Exchanges: make([]ExchangeRecord, 0),
	}
}

// Enabled reports whether records are kept. Safe on nil.
func (t *ExchangeTrace) Enabled() bool {
	return t != nil && t.Level == TraceLevelExchanges
}

// RecordExchanges appends exchange records. No-op when tracing is disabled.
func (t *ExchangeTrace) RecordExchanges(records ...ExchangeRecord) {
	if !t.Enabled() {
		return
	}
	t.Exchanges = append(t.Exchanges, records...)
}
