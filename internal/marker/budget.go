package marker

// Budget bounds the OCR and model probes of one segmentation run.
// It only ever decreases and is not safe for concurrent use; each run owns one.
type Budget struct {
	limit int
	spent int
}

// NewBudget returns a budget of limit probes. Negative limits are treated as 0.
func NewBudget(limit int) *Budget {
	if limit < 0 {
		limit = 0
	}
	return &Budget{limit: limit}
}

// Remaining returns the probes left. A nil budget has none.
func (b *Budget) Remaining() int {
	if b == nil {
		return 0
	}
	return b.limit - b.spent
}

// Spent returns the probes used so far.
func (b *Budget) Spent() int {
	if b == nil {
		return 0
	}
	return b.spent
}

// TrySpend takes one probe and reports whether one was available.
func (b *Budget) TrySpend() bool {
	if b.Remaining() <= 0 {
		return false
	}
	b.spent++
	return true
}
