package terminal

// approxCellBytes is the accounting weight of one cell when estimating
// scrollback memory use. It only needs to be stable, not exact.
const approxCellBytes = 16

// scrollbackEvictionBatch is how many rows are dropped at once when the
// memory threshold is crossed, so eviction cost amortizes over many pushes.
const scrollbackEvictionBatch = 64

// defaultScrollbackMemory caps history at roughly 8 MiB of cell data on top
// of the row-count capacity.
const defaultScrollbackMemory = 8 << 20

// Scrollback retains rows that scrolled off the top of the screen, oldest
// first. It is bounded two ways: by row capacity and by an approximate
// memory threshold; whichever is hit first evicts from the oldest end.
// Scrollback is not safe for concurrent use on its own; the owning Terminal
// serializes access.
type Scrollback struct {
	rows     [][]Cell
	capacity int
	maxBytes int
	bytes    int
}

// NewScrollback creates a history bounded to capacity rows.
func NewScrollback(capacity int) *Scrollback {
	return &Scrollback{capacity: capacity, maxBytes: defaultScrollbackMemory}
}

// Push appends a row as the newest history entry, evicting from the oldest
// end when either bound is exceeded. The scrollback takes ownership of the
// slice.
func (s *Scrollback) Push(row []Cell) {
	if s.capacity <= 0 {
		return
	}
	s.rows = append(s.rows, row)
	s.bytes += len(row) * approxCellBytes

	if len(s.rows) > s.capacity {
		s.evict(len(s.rows) - s.capacity)
	}
	if s.bytes > s.maxBytes {
		n := scrollbackEvictionBatch
		if n > len(s.rows) {
			n = len(s.rows)
		}
		s.evict(n)
	}
}

func (s *Scrollback) evict(n int) {
	for i := 0; i < n; i++ {
		s.bytes -= len(s.rows[i]) * approxCellBytes
		s.rows[i] = nil
	}
	s.rows = append(s.rows[:0], s.rows[n:]...)
}

// Len returns the number of retained rows.
func (s *Scrollback) Len() int {
	return len(s.rows)
}

// Line returns the row at index, where 0 is the oldest retained row. The
// second return is false when index is out of range.
func (s *Scrollback) Line(index int) ([]Cell, bool) {
	if index < 0 || index >= len(s.rows) {
		return nil, false
	}
	return s.rows[index], true
}

// Clear discards all retained rows.
func (s *Scrollback) Clear() {
	s.rows = nil
	s.bytes = 0
}
