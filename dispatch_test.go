package terminal

import (
	"bytes"
	"io"
	"strconv"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTerm(t *testing.T, w, h int, opts ...Option) (*Terminal, *Dispatcher) {
	t.Helper()
	opts = append(opts, WithLogger(log.New(io.Discard)))
	term := New(w, h, opts...)
	return term, NewDispatcher(term)
}

func feed(d *Dispatcher, s string) {
	_, _ = d.Write([]byte(s))
}

func cellAt(t *testing.T, term *Terminal, x, y int) Cell {
	t.Helper()
	c, ok := term.CellAt(x, y)
	require.True(t, ok, "cell (%d,%d) out of range", x, y)
	return c
}

func TestFreshGrid(t *testing.T) {
	term, _ := newTestTerm(t, 80, 24)

	x, y := term.CursorPos()
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
	assert.Equal(t, defaultCell(), cellAt(t, term, 0, 0))
	assert.Equal(t, defaultCell(), cellAt(t, term, 79, 23))

	_, ok := term.CellAt(80, 0)
	assert.False(t, ok)
	_, ok = term.CellAt(0, 24)
	assert.False(t, ok)

	assert.Equal(t, "", term.Text())
}

func TestPrintAdvancesCursor(t *testing.T) {
	term, d := newTestTerm(t, 10, 3)
	feed(d, "AB")

	assert.Equal(t, 'A', cellAt(t, term, 0, 0).Rune)
	assert.Equal(t, 'B', cellAt(t, term, 1, 0).Rune)
	x, y := term.CursorPos()
	assert.Equal(t, 2, x)
	assert.Equal(t, 0, y)
}

func TestSgrForeground(t *testing.T) {
	term, d := newTestTerm(t, 10, 3)
	feed(d, "\x1b[31mHI\x1b[0mz")

	red := basicColor(1)
	assert.Equal(t, red, cellAt(t, term, 0, 0).FG)
	assert.Equal(t, red, cellAt(t, term, 1, 0).FG)
	// pen is back to defaults after SGR 0
	assert.Equal(t, DefaultForeground, cellAt(t, term, 2, 0).FG)
}

func TestSgrExtendedColors(t *testing.T) {
	term, d := newTestTerm(t, 10, 3)
	feed(d, "\x1b[38;5;196mA\x1b[48;2;10;20;30mB\x1b[38:5:21mC")

	assert.Equal(t, Color{255, 0, 0, 255}, cellAt(t, term, 0, 0).FG)

	b := cellAt(t, term, 1, 0)
	assert.Equal(t, Color{255, 0, 0, 255}, b.FG)
	assert.Equal(t, Color{10, 20, 30, 255}, b.BG)

	c := cellAt(t, term, 2, 0)
	assert.Equal(t, Color{0, 0, 255, 255}, c.FG)
	assert.Equal(t, Color{10, 20, 30, 255}, c.BG)
}

func TestSgrAttributes(t *testing.T) {
	term, d := newTestTerm(t, 10, 3)
	feed(d, "\x1b[1;4mA\x1b[24mB")

	a := cellAt(t, term, 0, 0)
	assert.True(t, a.Attr.Has(AttrBold|AttrUnderline))
	b := cellAt(t, term, 1, 0)
	assert.True(t, b.Attr.Has(AttrBold))
	assert.False(t, b.Attr.Has(AttrUnderline))
}

func TestSgrReverseVideo(t *testing.T) {
	term, d := newTestTerm(t, 10, 3)
	feed(d, "\x1b[7mX")

	x := cellAt(t, term, 0, 0)
	assert.Equal(t, DefaultBackground, x.FG)
	assert.Equal(t, DefaultForeground, x.BG)
	assert.False(t, x.Attr.Has(AttrReverse), "reverse resolves at write time")
}

func TestScrollRegionAndOriginMode(t *testing.T) {
	term, d := newTestTerm(t, 80, 24)

	feed(d, "\x1b[2;5r")
	top, bottom := term.ScrollRegion()
	assert.Equal(t, 1, top)
	assert.Equal(t, 4, bottom)
	x, y := term.CursorPos()
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)

	feed(d, "\x1b[?6h")
	_, y = term.CursorPos()
	assert.Equal(t, 1, y, "origin mode homes to the top margin")

	feed(d, "\x1b[99;1H")
	_, y = term.CursorPos()
	assert.Equal(t, 4, y, "origin mode clamps to the bottom margin")

	// an invalid region resets to the full screen
	feed(d, "\x1b[?6l\x1b[7;3r")
	top, bottom = term.ScrollRegion()
	assert.Equal(t, 0, top)
	assert.Equal(t, 23, bottom)
}

func TestCursorAddressingClamped(t *testing.T) {
	term, d := newTestTerm(t, 80, 24)
	feed(d, "\x1b[99;199H")

	x, y := term.CursorPos()
	assert.Equal(t, 79, x)
	assert.Equal(t, 23, y)
}

func TestCursorMovementStopsAtMargins(t *testing.T) {
	term, d := newTestTerm(t, 80, 24)
	feed(d, "\x1b[5;25r\x1b[10;1H\x1b[99A")
	_, y := term.CursorPos()
	assert.Equal(t, 4, y, "CUU stops at the top margin")

	feed(d, "\x1b[99B")
	_, y = term.CursorPos()
	assert.Equal(t, 23, y, "CUD stops at the bottom margin")
}

func TestClearScreenAndHome(t *testing.T) {
	term, d := newTestTerm(t, 20, 5)
	for i := 1; i <= 5; i++ {
		feed(d, "\x1b["+strconv.Itoa(i)+";1HLine "+strconv.Itoa(i))
	}
	feed(d, "\x1b[2J\x1b[1;1HHI")

	assert.Equal(t, "HI", term.Text())
	assert.Equal(t, defaultCell(), cellAt(t, term, 5, 2))
	x, y := term.CursorPos()
	assert.Equal(t, 2, x)
	assert.Equal(t, 0, y)
}

func TestEraseInLine(t *testing.T) {
	tests := map[string]struct {
		seq  string
		want string
	}{
		"to end":      {"\x1b[0K", "AB"},
		"to start":    {"\x1b[1K", "   DE"},
		"entire line": {"\x1b[2K", ""},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			term, d := newTestTerm(t, 10, 2)
			feed(d, "ABCDE\x1b[1;3H"+tt.seq)
			assert.Equal(t, tt.want, term.Text())
		})
	}
}

func TestLineFeedScrollsIntoHistory(t *testing.T) {
	term, d := newTestTerm(t, 10, 5)
	for i := 1; i <= 7; i++ {
		if i > 1 {
			feed(d, "\r\n")
		}
		feed(d, "L"+strconv.Itoa(i))
	}

	assert.Equal(t, "L3\nL4\nL5\nL6\nL7", term.Text())
	assert.Equal(t, 2, term.ScrollbackLen())

	row, ok := term.ScrollbackLine(0)
	require.True(t, ok)
	assert.Equal(t, 'L', row[0].Rune)
	assert.Equal(t, '1', row[1].Rune)
}

func TestScrollbackCapped(t *testing.T) {
	term, d := newTestTerm(t, 10, 3, WithScrollback(3))
	for i := 1; i <= 10; i++ {
		if i > 1 {
			feed(d, "\r\n")
		}
		feed(d, "L"+strconv.Itoa(i))
	}

	// 7 rows scrolled off; only the newest 3 are retained
	assert.Equal(t, 3, term.ScrollbackLen())
	row, ok := term.ScrollbackLine(0)
	require.True(t, ok)
	assert.Equal(t, '5', row[1].Rune)

	_, ok = term.ScrollbackLine(3)
	assert.False(t, ok)
}

func TestResizePreservesTopLeft(t *testing.T) {
	term, d := newTestTerm(t, 10, 5)
	feed(d, "AB\x1b[2;1HCD")

	term.Resize(6, 3)
	assert.Equal(t, 'A', cellAt(t, term, 0, 0).Rune)
	assert.Equal(t, 'C', cellAt(t, term, 0, 1).Rune)

	term.Resize(12, 6)
	assert.Equal(t, 'A', cellAt(t, term, 0, 0).Rune)
	assert.Equal(t, defaultCell(), cellAt(t, term, 11, 5))

	top, bottom := term.ScrollRegion()
	assert.Equal(t, 0, top)
	assert.Equal(t, 5, bottom)
}

func TestResizeClampsCursor(t *testing.T) {
	term, d := newTestTerm(t, 10, 5)
	feed(d, "\x1b[5;10H")

	term.Resize(4, 2)
	x, y := term.CursorPos()
	assert.Equal(t, 3, x)
	assert.Equal(t, 1, y)

	// zero dimensions are rejected
	term.Resize(0, 5)
	w, h := term.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 2, h)
}

func TestDeferredWrap(t *testing.T) {
	term, d := newTestTerm(t, 5, 2)
	feed(d, "ABCDE")

	x, y := term.CursorPos()
	assert.Equal(t, 4, x, "cursor holds the last column until the next print")
	assert.Equal(t, 0, y)

	feed(d, "F")
	assert.Equal(t, "ABCDE\nF", term.Text())
	x, y = term.CursorPos()
	assert.Equal(t, 1, x)
	assert.Equal(t, 1, y)
}

func TestCarriageReturnClearsPendingWrap(t *testing.T) {
	term, d := newTestTerm(t, 5, 2)
	feed(d, "ABCDE\rX")

	assert.Equal(t, "XBCDE", term.Text())
	x, y := term.CursorPos()
	assert.Equal(t, 1, x)
	assert.Equal(t, 0, y)
}

func TestWrapDisabled(t *testing.T) {
	term, d := newTestTerm(t, 5, 2)
	feed(d, "\x1b[?7lABCDEFG")

	assert.Equal(t, "ABCDG", term.Text())
	x, _ := term.CursorPos()
	assert.Equal(t, 4, x)
}

func TestWideCharacter(t *testing.T) {
	term, d := newTestTerm(t, 10, 2)
	feed(d, "漢a")

	assert.Equal(t, '漢', cellAt(t, term, 0, 0).Rune)
	assert.Equal(t, ' ', cellAt(t, term, 1, 0).Rune)
	assert.Equal(t, 'a', cellAt(t, term, 2, 0).Rune)
	x, _ := term.CursorPos()
	assert.Equal(t, 3, x)
}

func TestZeroWidthDropped(t *testing.T) {
	term, d := newTestTerm(t, 10, 2)
	feed(d, "a\u0301b")

	assert.Equal(t, 'a', cellAt(t, term, 0, 0).Rune)
	assert.Equal(t, 'b', cellAt(t, term, 1, 0).Rune)
	x, _ := term.CursorPos()
	assert.Equal(t, 2, x)
}

func TestDecSpecialGraphics(t *testing.T) {
	term, d := newTestTerm(t, 10, 2)
	feed(d, "\x1b(0lqk\x1b(Bl")

	assert.Equal(t, '┌', cellAt(t, term, 0, 0).Rune)
	assert.Equal(t, '─', cellAt(t, term, 1, 0).Rune)
	assert.Equal(t, '┐', cellAt(t, term, 2, 0).Rune)
	assert.Equal(t, 'l', cellAt(t, term, 3, 0).Rune)
}

func TestShiftInOut(t *testing.T) {
	term, d := newTestTerm(t, 10, 2)
	feed(d, "\x1b)0q\x0eq\x0fq")

	assert.Equal(t, 'q', cellAt(t, term, 0, 0).Rune)
	assert.Equal(t, '─', cellAt(t, term, 1, 0).Rune)
	assert.Equal(t, 'q', cellAt(t, term, 2, 0).Rune)
}

func TestTabStops(t *testing.T) {
	term, d := newTestTerm(t, 80, 5)

	feed(d, "\tX")
	x, _ := term.CursorPos()
	assert.Equal(t, 9, x)

	feed(d, "\x1b[2I")
	x, _ = term.CursorPos()
	assert.Equal(t, 24, x)

	feed(d, "\x1b[2Z")
	x, _ = term.CursorPos()
	assert.Equal(t, 8, x)

	// clear all stops; HT then runs to the last column
	feed(d, "\x1b[3g\t")
	x, _ = term.CursorPos()
	assert.Equal(t, 79, x)

	// HTS sets a custom stop
	feed(d, "\x1b[1;21H\x1bH\x1b[1;1H\t")
	x, _ = term.CursorPos()
	assert.Equal(t, 20, x)
}

func TestInsertDeleteLines(t *testing.T) {
	term, d := newTestTerm(t, 10, 5)
	feed(d, "A\r\nB\r\nC\r\nD\r\nE")

	feed(d, "\x1b[2;1H\x1b[L")
	assert.Equal(t, "A\n\nB\nC\nD", term.Text())

	feed(d, "\x1b[2;1H\x1b[M")
	assert.Equal(t, "A\nB\nC\nD", term.Text())
}

func TestInsertDeleteEraseChars(t *testing.T) {
	term, d := newTestTerm(t, 10, 2)
	feed(d, "ABCDE\x1b[1;1H")

	feed(d, "\x1b[2@")
	assert.Equal(t, "  ABCDE", term.Text())

	feed(d, "\x1b[3P")
	assert.Equal(t, "BCDE", term.Text())

	feed(d, "\x1b[2X")
	assert.Equal(t, "  DE", term.Text())
}

func TestInsertMode(t *testing.T) {
	term, d := newTestTerm(t, 10, 2)
	feed(d, "AB\x1b[1;1H\x1b[4hX")
	assert.Equal(t, "XAB", term.Text())

	feed(d, "\x1b[4lY")
	assert.Equal(t, "XYB", term.Text())
}

func TestAltScreen(t *testing.T) {
	term, d := newTestTerm(t, 10, 3)
	feed(d, "main")
	before := term.ScrollbackLen()

	feed(d, "\x1b[?1049h")
	assert.Equal(t, "", term.Text())

	feed(d, "alt\r\n\r\n\r\n\r\n")
	assert.Equal(t, before, term.ScrollbackLen(), "alternate screen has no scrollback")

	feed(d, "\x1b[?1049l")
	assert.Equal(t, "main", term.Text())
	x, y := term.CursorPos()
	assert.Equal(t, 4, x)
	assert.Equal(t, 0, y)
}

func TestCursorVisibilityAndShape(t *testing.T) {
	term, d := newTestTerm(t, 10, 3)

	feed(d, "\x1b[?25l")
	assert.False(t, term.CursorState().Visible)
	feed(d, "\x1b[?25h")
	assert.True(t, term.CursorState().Visible)

	feed(d, "\x1b[5 q")
	assert.Equal(t, CursorBar, term.CursorState().Shape)
	feed(d, "\x1b[3 q")
	assert.Equal(t, CursorUnderline, term.CursorState().Shape)
	feed(d, "\x1b[0 q")
	assert.Equal(t, CursorBlock, term.CursorState().Shape)
}

func TestModeFlags(t *testing.T) {
	term, d := newTestTerm(t, 10, 3)

	feed(d, "\x1b[?2004h\x1b[?1h")
	m := term.Modes()
	assert.True(t, m.BracketedPaste)
	assert.True(t, m.AppCursorKeys)

	feed(d, "\x1b[?2004l")
	assert.False(t, term.Modes().BracketedPaste)

	// LNM: line feed implies carriage return
	feed(d, "\x1b[20hA\nB")
	assert.Equal(t, 'B', cellAt(t, term, 0, 1).Rune)
}

func TestSaveRestoreCursor(t *testing.T) {
	term, d := newTestTerm(t, 20, 5)
	feed(d, "\x1b[31m\x1b[2;3H\x1b7\x1b[m\x1b[1;1Hplain\x1b8X")

	x, y := term.CursorPos()
	assert.Equal(t, 3, x)
	assert.Equal(t, 1, y)
	assert.Equal(t, basicColor(1), cellAt(t, term, 2, 1).FG, "DECRC restores the pen")
}

func TestDeviceStatusReport(t *testing.T) {
	var reply bytes.Buffer
	term := New(80, 24, WithLogger(log.New(io.Discard)))
	d := NewDispatcher(term, WithReplyWriter(&reply))

	feed(d, "\x1b[4;6H\x1b[6n")
	assert.Equal(t, "\x1b[4;6R", reply.String())

	reply.Reset()
	feed(d, "\x1b[5n")
	assert.Equal(t, "\x1b[0n", reply.String())

	// cursor position reports are origin-relative in origin mode
	reply.Reset()
	feed(d, "\x1b[5;20r\x1b[?6h\x1b[6n")
	assert.Equal(t, "\x1b[1;1R", reply.String())
}

func TestPrimaryDeviceAttributes(t *testing.T) {
	var reply bytes.Buffer
	term := New(80, 24, WithLogger(log.New(io.Discard)))
	d := NewDispatcher(term, WithReplyWriter(&reply))

	feed(d, "\x1b[c")
	assert.Equal(t, "\x1b[?6c", reply.String())

	reply.Reset()
	feed(d, "\x1b[>c")
	assert.Equal(t, "\x1b[>0;0;0c", reply.String())
}

func TestOscTitleAndWorkingDir(t *testing.T) {
	term, d := newTestTerm(t, 10, 3)

	feed(d, "\x1b]2;window\x07\x1b]1;icon\x07")
	assert.Equal(t, "window", term.Title())
	assert.Equal(t, "icon", term.IconTitle())

	feed(d, "\x1b]0;both\x07")
	assert.Equal(t, "both", term.Title())
	assert.Equal(t, "both", term.IconTitle())

	feed(d, "\x1b]7;file://somehost/home/me\x1b\\")
	assert.Equal(t, "/home/me", term.WorkingDir())

	feed(d, "\x1b]7;/plain/path\x07")
	assert.Equal(t, "/plain/path", term.WorkingDir())
}

func TestScreenAlignment(t *testing.T) {
	term, d := newTestTerm(t, 10, 3)
	feed(d, "\x1b[5;8H\x1b#8")

	assert.Equal(t, 'E', cellAt(t, term, 0, 0).Rune)
	assert.Equal(t, 'E', cellAt(t, term, 9, 2).Rune)
	x, y := term.CursorPos()
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
}

func TestReverseIndexScrollsDown(t *testing.T) {
	term, d := newTestTerm(t, 10, 3)
	feed(d, "A\r\nB\r\nC\x1b[1;1H\x1bM")

	assert.Equal(t, "\nA\nB", term.Text())
}

func TestFullReset(t *testing.T) {
	term, d := newTestTerm(t, 10, 3)
	feed(d, "\x1b[31mhello\x1b[?25l\x1b[2;3r\x1bc")

	assert.Equal(t, "", term.Text())
	assert.True(t, term.CursorState().Visible)
	top, bottom := term.ScrollRegion()
	assert.Equal(t, 0, top)
	assert.Equal(t, 2, bottom)
	assert.Equal(t, defaultModes(), term.Modes())
}

func TestScrollUpCommand(t *testing.T) {
	term, d := newTestTerm(t, 10, 3)
	feed(d, "A\r\nB\r\nC\x1b[2S")

	assert.Equal(t, "C", term.Text())
	assert.Equal(t, 2, term.ScrollbackLen())
}

func TestSetCellBounds(t *testing.T) {
	term, _ := newTestTerm(t, 4, 2)
	c := defaultCell()
	c.Rune = 'x'

	assert.True(t, term.SetCell(3, 1, c))
	assert.Equal(t, 'x', cellAt(t, term, 3, 1).Rune)
	assert.False(t, term.SetCell(4, 0, c))
	assert.False(t, term.SetCell(0, -1, c))
}

func TestSnapshotIsDetached(t *testing.T) {
	term, d := newTestTerm(t, 10, 2)
	feed(d, "AB")

	snap := term.Snapshot()
	feed(d, "\x1b[1;1HZZ")

	assert.Equal(t, 'A', snap.Cells[0][0].Rune, "snapshot does not alias the live grid")
	assert.Equal(t, 'Z', cellAt(t, term, 0, 0).Rune)
	assert.Equal(t, 2, snap.Cursor.X)
	assert.Equal(t, 10, snap.Width)
}

func TestResizeRebuildsTabStops(t *testing.T) {
	term, d := newTestTerm(t, 80, 5)
	feed(d, "\x1b[3g") // clear every stop

	term.Resize(40, 5)
	feed(d, "\t")
	x, _ := term.CursorPos()
	assert.Equal(t, 8, x)
}

func TestDcsContentNeverPrinted(t *testing.T) {
	term, d := newTestTerm(t, 20, 2)
	feed(d, "\x1bPq#0;1;0~~@@\x1b\\ok")

	assert.Equal(t, "ok", term.Text())
}

func TestMalformedSequencesCounted(t *testing.T) {
	term, d := newTestTerm(t, 10, 2)
	feed(d, "\x1b[ 5mok")

	assert.Equal(t, 1, d.Malformed())
	assert.Equal(t, "ok", term.Text())
}
