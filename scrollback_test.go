package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyRow(r rune) []Cell {
	row := make([]Cell, 4)
	for i := range row {
		row[i] = defaultCell()
	}
	row[0].Rune = r
	return row
}

func TestScrollbackOrderAndEviction(t *testing.T) {
	s := NewScrollback(3)
	for _, r := range "abcde" {
		s.Push(historyRow(r))
	}

	assert.Equal(t, 3, s.Len())

	row, ok := s.Line(0)
	require.True(t, ok)
	assert.Equal(t, 'c', row[0].Rune, "index 0 is the oldest retained row")
	row, _ = s.Line(2)
	assert.Equal(t, 'e', row[0].Rune)

	_, ok = s.Line(3)
	assert.False(t, ok)
	_, ok = s.Line(-1)
	assert.False(t, ok)
}

func TestScrollbackZeroCapacity(t *testing.T) {
	s := NewScrollback(0)
	s.Push(historyRow('a'))
	assert.Equal(t, 0, s.Len())
}

func TestScrollbackClear(t *testing.T) {
	s := NewScrollback(10)
	s.Push(historyRow('a'))
	s.Push(historyRow('b'))
	s.Clear()

	assert.Equal(t, 0, s.Len())
	_, ok := s.Line(0)
	assert.False(t, ok)

	s.Push(historyRow('c'))
	assert.Equal(t, 1, s.Len())
}

func TestScrollbackMemoryBound(t *testing.T) {
	s := NewScrollback(1 << 20)
	s.maxBytes = 10 * 4 * approxCellBytes // room for ten 4-cell rows

	for i := 0; i < 500; i++ {
		s.Push(historyRow('x'))
		assert.LessOrEqual(t, s.bytes, s.maxBytes)
	}
	assert.Greater(t, s.Len(), 0)
	assert.LessOrEqual(t, s.Len(), 10)
}
