package spreadsheet

// MemoryBudget estimates how much memory a row set needs once materialized
// for preview, and whether that fits the memory available to one import.
// It is a plain value so each session or request carries its own budget.
type MemoryBudget struct {
	AvailableBytes  int64
	ExpansionFactor float64
}

const (
	defaultAvailableBytes  = 256 * 1024 * 1024
	defaultExpansionFactor = 3.0

	// JSON punctuation around one "key":"value" pair, and around one object.
	cellOverheadBytes = 6
	rowOverheadBytes  = 2

	estimateProbeRows = 200
)

// DefaultMemoryBudget returns a 256MB budget with a 3x expansion factor.
func DefaultMemoryBudget() MemoryBudget {
	return MemoryBudget{AvailableBytes: defaultAvailableBytes, ExpansionFactor: defaultExpansionFactor}
}

// EstimateBytes approximates the serialized size of rows, extrapolating from
// the first rows of the set.
func (b MemoryBudget) EstimateBytes(rows []Row) int64 {
	n := len(rows)
	if n == 0 {
		return 0
	}
	probe := n
	if probe > estimateProbeRows {
		probe = estimateProbeRows
	}

	var sum int64
	for _, row := range rows[:probe] {
		sum += rowOverheadBytes
		for k, v := range row {
			sum += int64(len(k) + len(v) + cellOverheadBytes)
		}
	}
	return sum * int64(n) / int64(probe)
}

// EstimateMB is EstimateBytes in megabytes.
func (b MemoryBudget) EstimateMB(rows []Row) float64 {
	return float64(b.EstimateBytes(rows)) / (1024 * 1024)
}

// Exceeds reports whether rows, once expanded in memory, would not fit the
// budget. A zero budget never overflows.
func (b MemoryBudget) Exceeds(rows []Row) bool {
	if b.AvailableBytes <= 0 {
		return false
	}
	factor := b.ExpansionFactor
	if factor <= 0 {
		factor = 1
	}
	return float64(b.EstimateBytes(rows))*factor > float64(b.AvailableBytes)
}
