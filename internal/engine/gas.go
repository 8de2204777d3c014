package engine

// GasMeter enforces a session's gas budget. Charges are all-or-nothing: a
// charge that would exceed the limit is refused without being applied, so
// the recorded usage never overshoots the budget.
type GasMeter struct {
	limit int64
	used  int64
}

// NewGasMeter creates a meter with the given budget.
func NewGasMeter(limit int64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Charge deducts cost from the budget. Returns an out-of-gas fault when the
// budget cannot cover the charge.
func (m *GasMeter) Charge(cost int64) error {
	if cost < 0 {
		return NewTrapError("negative gas charge")
	}
	if m.used+cost > m.limit {
		return NewOutOfGasError(m.limit, cost)
	}
	m.used += cost
	return nil
}

// Used returns gas consumed so far.
func (m *GasMeter) Used() int64 { return m.used }

// Remaining returns the unconsumed budget.
func (m *GasMeter) Remaining() int64 { return m.limit - m.used }

// Limit returns the total budget.
func (m *GasMeter) Limit() int64 { return m.limit }
