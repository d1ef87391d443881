package terminal

// Color is the canonical RGBA value used everywhere past the dispatch
// boundary. Indexed ANSI colors, 256-color palette entries and truecolor
// parameters are all resolved into it when the sequence is applied; a raw
// palette index is never stored in a Cell.
type Color struct {
	R, G, B, A uint8
}

// Default colors for cells that have no explicit SGR color applied.
var (
	DefaultForeground = Color{229, 229, 229, 255}
	DefaultBackground = Color{0, 0, 0, 255}
)

// Attr is a bit set of independent character style flags.
type Attr uint16

const (
	AttrBold Attr = 1 << iota
	AttrDim
	AttrItalic
	AttrUnderline
	AttrBlink
	AttrReverse
	AttrStrikethrough
)

// Has reports whether all flags in mask are set.
func (a Attr) Has(mask Attr) bool {
	return a&mask == mask
}

// Cell is one character position of the grid. Cells are value types; the
// reverse attribute is resolved at write time by swapping FG and BG, so it
// never appears in a stored cell's Attr.
type Cell struct {
	Rune rune
	FG   Color
	BG   Color
	Attr Attr
}

func defaultCell() Cell {
	return Cell{Rune: ' ', FG: DefaultForeground, BG: DefaultBackground}
}

// CursorShape selects how a renderer should draw the cursor.
type CursorShape int

const (
	CursorBlock CursorShape = iota
	CursorUnderline
	CursorBar
)

// Cursor is the insertion point state exposed to renderers.
type Cursor struct {
	X, Y    int
	Visible bool
	Shape   CursorShape
}

// pen carries the attribute state applied to newly written cells.
type pen struct {
	fg   Color
	bg   Color
	attr Attr
}

func defaultPen() pen {
	return pen{fg: DefaultForeground, bg: DefaultBackground}
}

type charSet int

const (
	charSetANSII charSet = iota
	charSetDECSpecialGraphics
	charSetAlternate
)
