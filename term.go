package terminal

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Modes holds the independently toggled terminal behavior flags.
type Modes struct {
	Wraparound        bool // DECAWM
	Origin            bool // DECOM: cursor addressing relative to scroll region
	Insert            bool // IRM: printed characters shift the rest of the row
	Newline           bool // LNM: line feed also returns to column 0
	AutoRepeat        bool // DECARM
	AppCursorKeys     bool // DECCKM
	BracketedPaste    bool
	KeypadApplication bool
}

func defaultModes() Modes {
	return Modes{Wraparound: true, AutoRepeat: true}
}

// savedCursor is the snapshot taken by DECSC / CSI s.
type savedCursor struct {
	x, y   int
	pen    pen
	g0, g1 charSet
	useG1  bool
	origin bool
}

// Terminal is the grid and state engine: it owns the visible cell matrix,
// cursor, modes, scroll region, tab stops and scrollback history. It is
// mutated exclusively through a Dispatcher; every dispatched event is
// applied atomically under the terminal lock, so readers using the exported
// surface never observe a partially applied sequence.
type Terminal struct {
	mu sync.RWMutex

	width, height int
	rows          [][]Cell

	// main screen kept aside while the alternate screen is active
	savedMain [][]Cell
	altActive bool

	cur         Cursor
	pen         pen
	saved       savedCursor
	wrapPending bool

	scrollTop    int
	scrollBottom int
	tabStops     []bool

	modes Modes
	g0    charSet
	g1    charSet
	useG1 bool

	title      string
	iconTitle  string
	workingDir string

	history *Scrollback
	logger  *log.Logger
}

// Option configures a Terminal at construction time.
type Option func(*Terminal)

// WithScrollback sets the scrollback row capacity. A capacity of 0 disables
// history entirely.
func WithScrollback(capacity int) Option {
	return func(t *Terminal) {
		if capacity <= 0 {
			t.history = nil
			return
		}
		t.history = NewScrollback(capacity)
	}
}

// WithLogger sets the logger used for diagnostics about unrecognized or
// malformed sequences.
func WithLogger(l *log.Logger) Option {
	return func(t *Terminal) {
		t.logger = l
	}
}

const defaultScrollbackCapacity = 1000

// New creates a terminal of the given size with fully default-initialized
// cells. Dimensions below 1 are raised to 1.
func New(width, height int, opts ...Option) *Terminal {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	t := &Terminal{
		width:   width,
		height:  height,
		history: NewScrollback(defaultScrollbackCapacity),
		logger:  log.NewWithOptions(os.Stderr, log.Options{Prefix: "vterm"}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.rows = blankGrid(width, height, defaultCell())
	t.cur = Cursor{Visible: true, Shape: CursorBlock}
	t.pen = defaultPen()
	t.modes = defaultModes()
	t.scrollBottom = height - 1
	t.tabStops = defaultTabStops(width)
	return t
}

func blankGrid(width, height int, blank Cell) [][]Cell {
	rows := make([][]Cell, height)
	for i := range rows {
		rows[i] = blankRow(width, blank)
	}
	return rows
}

func blankRow(width int, blank Cell) []Cell {
	row := make([]Cell, width)
	for i := range row {
		row[i] = blank
	}
	return row
}

func defaultTabStops(width int) []bool {
	stops := make([]bool, width)
	for i := tabWidth; i < width; i += tabWidth {
		stops[i] = true
	}
	return stops
}

// Size returns the grid dimensions.
func (t *Terminal) Size() (width, height int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.width, t.height
}

// CellAt returns the cell at (x, y). The second return is false when the
// coordinates are out of range.
func (t *Terminal) CellAt(x, y int) (Cell, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if x < 0 || y < 0 || x >= t.width || y >= t.height {
		return Cell{}, false
	}
	return t.rows[y][x], true
}

// SetCell overwrites the cell at (x, y) directly, bypassing the pen.
// It reports whether the write was in bounds; out-of-bounds writes leave
// state unchanged.
func (t *Terminal) SetCell(x, y int, c Cell) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if x < 0 || y < 0 || x >= t.width || y >= t.height {
		return false
	}
	t.rows[y][x] = c
	return true
}

// CursorPos returns the cursor column and row (0-based).
func (t *Terminal) CursorPos() (x, y int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cur.X, t.cur.Y
}

// CursorState returns the full cursor state.
func (t *Terminal) CursorState() Cursor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cur
}

// Modes returns a copy of the current mode flags.
func (t *Terminal) Modes() Modes {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.modes
}

// ScrollRegion returns the scroll region bounds (0-based, inclusive).
func (t *Terminal) ScrollRegion() (top, bottom int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scrollTop, t.scrollBottom
}

// Title returns the window title set through OSC 0/2.
func (t *Terminal) Title() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.title
}

// IconTitle returns the icon title set through OSC 0/1.
func (t *Terminal) IconTitle() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.iconTitle
}

// WorkingDir returns the directory reported through OSC 7.
func (t *Terminal) WorkingDir() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.workingDir
}

// ScrollbackLen returns the number of retained history rows.
func (t *Terminal) ScrollbackLen() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.history == nil {
		return 0
	}
	return t.history.Len()
}

// ScrollbackLine returns the history row at index (0 = oldest retained).
// The second return is false when the index is out of range.
func (t *Terminal) ScrollbackLine(index int) ([]Cell, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.history == nil {
		return nil, false
	}
	return t.history.Line(index)
}

// Snapshot is a point-in-time copy of the renderable state. Renderers must
// read through snapshots (or the per-cell surface) rather than holding
// references into the live grid.
type Snapshot struct {
	Width, Height int
	Cells         [][]Cell
	Cursor        Cursor
	Title         string
	IconTitle     string
	WorkingDir    string
	ScrollbackLen int
}

// Snapshot returns a deep copy of the visible grid and cursor state.
func (t *Terminal) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cells := make([][]Cell, t.height)
	for i, row := range t.rows {
		cells[i] = append([]Cell(nil), row...)
	}
	sb := 0
	if t.history != nil {
		sb = t.history.Len()
	}
	return Snapshot{
		Width:         t.width,
		Height:        t.height,
		Cells:         cells,
		Cursor:        t.cur,
		Title:         t.title,
		IconTitle:     t.iconTitle,
		WorkingDir:    t.workingDir,
		ScrollbackLen: sb,
	}
}

// Text returns the grid contents as newline-joined rows with trailing
// spaces and trailing blank lines trimmed. Style information is dropped.
func (t *Terminal) Text() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lines := make([]string, t.height)
	last := -1
	for i, row := range t.rows {
		var b strings.Builder
		for _, c := range row {
			b.WriteRune(c.Rune)
		}
		lines[i] = strings.TrimRight(b.String(), " ")
		if lines[i] != "" {
			last = i
		}
	}
	return strings.Join(lines[:last+1], "\n")
}

// Resize changes the grid dimensions in place. Existing content is kept
// top-left-aligned: rows and columns are truncated on shrink and padded
// with default cells on growth. The cursor is clamped into bounds, the
// scroll region resets to the full screen and tab stops are rebuilt at
// 8-column boundaries. A zero or negative dimension is a no-op.
func (t *Terminal) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if width == t.width && height == t.height {
		return
	}
	t.rows = resizeGrid(t.rows, width, height)
	if t.savedMain != nil {
		t.savedMain = resizeGrid(t.savedMain, width, height)
	}
	t.width, t.height = width, height
	if t.cur.X >= width {
		t.cur.X = width - 1
	}
	if t.cur.Y >= height {
		t.cur.Y = height - 1
	}
	t.scrollTop = 0
	t.scrollBottom = height - 1
	t.tabStops = defaultTabStops(width)
	t.wrapPending = false
}

func resizeGrid(rows [][]Cell, width, height int) [][]Cell {
	blank := defaultCell()
	out := make([][]Cell, height)
	for i := 0; i < height; i++ {
		row := make([]Cell, width)
		if i < len(rows) {
			n := copy(row, rows[i])
			for j := n; j < width; j++ {
				row[j] = blank
			}
		} else {
			for j := range row {
				row[j] = blank
			}
		}
		out[i] = row
	}
	return out
}

// Reset reinitializes all terminal state while preserving the current
// dimensions, equivalent to RIS (ESC c). Scrollback is retained.
func (t *Terminal) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

func (t *Terminal) reset() {
	t.rows = blankGrid(t.width, t.height, defaultCell())
	t.savedMain = nil
	t.altActive = false
	t.cur = Cursor{Visible: true, Shape: CursorBlock}
	t.pen = defaultPen()
	t.saved = savedCursor{}
	t.wrapPending = false
	t.scrollTop = 0
	t.scrollBottom = t.height - 1
	t.tabStops = defaultTabStops(t.width)
	t.modes = defaultModes()
	t.g0, t.g1 = charSetANSII, charSetANSII
	t.useG1 = false
}

// --- internal operations, terminal lock held by the Dispatcher ---

// blankCell builds an erase cell from the current pen colors. Reverse video
// is resolved immediately; attributes are not carried onto erased cells.
func (t *Terminal) blankCell() Cell {
	fg, bg := t.pen.fg, t.pen.bg
	if t.pen.attr.Has(AttrReverse) {
		fg, bg = bg, fg
	}
	return Cell{Rune: ' ', FG: fg, BG: bg}
}

// penCell builds the cell written for a printed character. The reverse
// attribute swaps foreground and background at write time and is not
// stored per cell.
func (t *Terminal) penCell(r rune) Cell {
	fg, bg := t.pen.fg, t.pen.bg
	attr := t.pen.attr
	if attr.Has(AttrReverse) {
		fg, bg = bg, fg
		attr &^= AttrReverse
	}
	return Cell{Rune: r, FG: fg, BG: bg, Attr: attr}
}

// writeRune places a printed character at the cursor, honoring insert mode,
// wide characters and deferred wrap. Zero-width characters are dropped.
func (t *Terminal) writeRune(r rune, width int) {
	if width <= 0 {
		return
	}
	if width > t.width {
		width = t.width
	}

	if t.wrapPending {
		t.wrapPending = false
		if t.modes.Wraparound {
			t.cur.X = 0
			t.lineFeedRaw()
		}
	}

	// A wide character that does not fit on the line wraps early (or
	// overtypes at the edge with wrap disabled).
	if t.cur.X+width > t.width {
		if t.modes.Wraparound {
			t.cur.X = 0
			t.lineFeedRaw()
		} else {
			t.cur.X = t.width - width
		}
	}

	row := t.rows[t.cur.Y]
	if t.modes.Insert {
		copy(row[t.cur.X+width:], row[t.cur.X:])
	}
	cell := t.penCell(r)
	row[t.cur.X] = cell
	if width == 2 && t.cur.X+1 < t.width {
		spacer := cell
		spacer.Rune = ' '
		row[t.cur.X+1] = spacer
	}

	if t.cur.X+width >= t.width {
		if t.modes.Wraparound {
			t.cur.X = t.width - 1
			t.wrapPending = true
		} else {
			t.cur.X = t.width - 1
		}
	} else {
		t.cur.X += width
	}
}

// moveCursor clamps to the full screen. Any explicit movement clears a
// pending wrap, per xterm deferred-wrap rules.
func (t *Terminal) moveCursor(x, y int) {
	if x < 0 {
		x = 0
	} else if x >= t.width {
		x = t.width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= t.height {
		y = t.height - 1
	}
	t.wrapPending = false
	t.cur.X, t.cur.Y = x, y
}

// moveCursorTo performs absolute addressing (CUP/VPA), remapping y into the
// scroll region when origin mode is active.
func (t *Terminal) moveCursorTo(x, y int) {
	if t.modes.Origin {
		y += t.scrollTop
		if y > t.scrollBottom {
			y = t.scrollBottom
		}
		if y < t.scrollTop {
			y = t.scrollTop
		}
	}
	t.moveCursor(x, y)
}

// cursorUp moves the cursor up n rows, stopping at the top margin when the
// cursor started inside the scroll region.
func (t *Terminal) cursorUp(n int) {
	limit := 0
	if t.cur.Y >= t.scrollTop {
		limit = t.scrollTop
	}
	y := t.cur.Y - n
	if y < limit {
		y = limit
	}
	t.moveCursor(t.cur.X, y)
}

// cursorDown moves the cursor down n rows, stopping at the bottom margin
// when the cursor started inside the scroll region.
func (t *Terminal) cursorDown(n int) {
	limit := t.height - 1
	if t.cur.Y <= t.scrollBottom {
		limit = t.scrollBottom
	}
	y := t.cur.Y + n
	if y > limit {
		y = limit
	}
	t.moveCursor(t.cur.X, y)
}

// lineFeedRaw advances the cursor one row, scrolling the region when the
// cursor sits on the region's bottom margin.
func (t *Terminal) lineFeedRaw() {
	if t.cur.Y == t.scrollBottom {
		t.scrollUp(1)
		return
	}
	if t.cur.Y < t.height-1 {
		t.cur.Y++
	}
}

func (t *Terminal) lineFeed() {
	t.wrapPending = false
	t.lineFeedRaw()
	if t.modes.Newline {
		t.cur.X = 0
	}
}

func (t *Terminal) carriageReturn() {
	t.wrapPending = false
	t.cur.X = 0
}

func (t *Terminal) backspace() {
	t.wrapPending = false
	if t.cur.X > 0 {
		t.cur.X--
	}
}

// index / reverseIndex / nextLine implement ESC D, ESC M and ESC E with
// scroll-at-margin semantics.
func (t *Terminal) index() {
	t.wrapPending = false
	t.lineFeedRaw()
}

func (t *Terminal) reverseIndex() {
	t.wrapPending = false
	if t.cur.Y == t.scrollTop {
		t.scrollDown(1)
		return
	}
	if t.cur.Y > 0 {
		t.cur.Y--
	}
}

func (t *Terminal) nextLine() {
	t.wrapPending = false
	t.lineFeedRaw()
	t.cur.X = 0
}

// scrollUp shifts the rows of the scroll region up by n, inserting blank
// rows at the bottom. Rows leaving the top are pushed into scrollback only
// when the region spans the full screen and the main buffer is active;
// partial-region scrolls discard the evicted rows.
func (t *Terminal) scrollUp(n int) {
	regionRows := t.scrollBottom - t.scrollTop + 1
	if n <= 0 || regionRows <= 0 {
		return
	}
	if n > regionRows {
		n = regionRows
	}
	full := t.scrollTop == 0 && t.scrollBottom == t.height-1 && !t.altActive
	if full && t.history != nil {
		for i := 0; i < n; i++ {
			t.history.Push(t.rows[t.scrollTop+i])
		}
	}
	blank := t.blankCell()
	for i := t.scrollTop; i+n <= t.scrollBottom; i++ {
		t.rows[i] = t.rows[i+n]
	}
	for i := t.scrollBottom - n + 1; i <= t.scrollBottom; i++ {
		t.rows[i] = blankRow(t.width, blank)
	}
}

// scrollDown shifts the region down by n, inserting blank rows at the top.
// Rows leaving the bottom are discarded.
func (t *Terminal) scrollDown(n int) {
	regionRows := t.scrollBottom - t.scrollTop + 1
	if n <= 0 || regionRows <= 0 {
		return
	}
	if n > regionRows {
		n = regionRows
	}
	blank := t.blankCell()
	for i := t.scrollBottom; i-n >= t.scrollTop; i-- {
		t.rows[i] = t.rows[i-n]
	}
	for i := t.scrollTop; i < t.scrollTop+n && i <= t.scrollBottom; i++ {
		t.rows[i] = blankRow(t.width, blank)
	}
}

// insertLines shifts rows at and below the cursor down by n within the
// scroll region, discarding rows pushed past the bottom margin. A cursor
// outside the region makes this a no-op.
func (t *Terminal) insertLines(n int) {
	if t.cur.Y < t.scrollTop || t.cur.Y > t.scrollBottom || n <= 0 {
		return
	}
	avail := t.scrollBottom - t.cur.Y + 1
	if n > avail {
		n = avail
	}
	blank := t.blankCell()
	for i := t.scrollBottom; i-n >= t.cur.Y; i-- {
		t.rows[i] = t.rows[i-n]
	}
	for i := t.cur.Y; i < t.cur.Y+n; i++ {
		t.rows[i] = blankRow(t.width, blank)
	}
	t.cur.X = 0
	t.wrapPending = false
}

// deleteLines removes n rows at the cursor, shifting the remainder of the
// region up and blanking the bottom.
func (t *Terminal) deleteLines(n int) {
	if t.cur.Y < t.scrollTop || t.cur.Y > t.scrollBottom || n <= 0 {
		return
	}
	avail := t.scrollBottom - t.cur.Y + 1
	if n > avail {
		n = avail
	}
	blank := t.blankCell()
	for i := t.cur.Y; i+n <= t.scrollBottom; i++ {
		t.rows[i] = t.rows[i+n]
	}
	for i := t.scrollBottom - n + 1; i <= t.scrollBottom; i++ {
		t.rows[i] = blankRow(t.width, blank)
	}
	t.cur.X = 0
	t.wrapPending = false
}

// insertChars shifts cells right of the cursor further right by n,
// discarding cells pushed past the end of the row.
func (t *Terminal) insertChars(n int) {
	if n <= 0 {
		return
	}
	row := t.rows[t.cur.Y]
	if n > t.width-t.cur.X {
		n = t.width - t.cur.X
	}
	copy(row[t.cur.X+n:], row[t.cur.X:])
	blank := t.blankCell()
	for i := t.cur.X; i < t.cur.X+n; i++ {
		row[i] = blank
	}
}

// deleteChars removes n cells at the cursor, shifting the rest of the row
// left and blanking the tail.
func (t *Terminal) deleteChars(n int) {
	if n <= 0 {
		return
	}
	row := t.rows[t.cur.Y]
	if n > t.width-t.cur.X {
		n = t.width - t.cur.X
	}
	copy(row[t.cur.X:], row[t.cur.X+n:])
	blank := t.blankCell()
	for i := t.width - n; i < t.width; i++ {
		row[i] = blank
	}
}

// eraseChars blanks n cells from the cursor rightward without shifting.
func (t *Terminal) eraseChars(n int) {
	if n <= 0 {
		return
	}
	row := t.rows[t.cur.Y]
	end := t.cur.X + n
	if end > t.width {
		end = t.width
	}
	blank := t.blankCell()
	for i := t.cur.X; i < end; i++ {
		row[i] = blank
	}
}

// eraseInLine implements EL: 0 erases to end of line, 1 to start
// (inclusive), 2 the entire line.
func (t *Terminal) eraseInLine(mode int) {
	row := t.rows[t.cur.Y]
	blank := t.blankCell()
	switch mode {
	case 0:
		for i := t.cur.X; i < t.width; i++ {
			row[i] = blank
		}
	case 1:
		for i := 0; i <= t.cur.X && i < t.width; i++ {
			row[i] = blank
		}
	case 2:
		for i := range row {
			row[i] = blank
		}
	default:
		t.logger.Debug("unsupported erase-in-line mode", "mode", mode)
	}
}

// eraseInDisplay implements ED: 0 erases from the cursor to the end of the
// screen, 1 from the start to the cursor, 2 the whole screen and 3 the
// whole screen plus scrollback. The cursor does not move.
func (t *Terminal) eraseInDisplay(mode int) {
	blank := t.blankCell()
	switch mode {
	case 0:
		t.eraseInLine(0)
		for y := t.cur.Y + 1; y < t.height; y++ {
			t.rows[y] = blankRow(t.width, blank)
		}
	case 1:
		t.eraseInLine(1)
		for y := 0; y < t.cur.Y; y++ {
			t.rows[y] = blankRow(t.width, blank)
		}
	case 2:
		for y := range t.rows {
			t.rows[y] = blankRow(t.width, blank)
		}
	case 3:
		for y := range t.rows {
			t.rows[y] = blankRow(t.width, blank)
		}
		if t.history != nil {
			t.history.Clear()
		}
	default:
		t.logger.Debug("unsupported erase-in-display mode", "mode", mode)
	}
}

// setScrollRegion validates and applies DECSTBM bounds (0-based,
// inclusive). An invalid region resets to the full screen. The cursor
// moves to the region's home position respecting origin mode.
func (t *Terminal) setScrollRegion(top, bottom int) {
	if top < 0 {
		top = 0
	}
	if bottom >= t.height {
		bottom = t.height - 1
	}
	if top >= bottom {
		top, bottom = 0, t.height-1
	}
	t.scrollTop, t.scrollBottom = top, bottom
	t.moveCursorTo(0, 0)
}

// tabForward advances the cursor to the n-th following tab stop, stopping
// at the last column.
func (t *Terminal) tabForward(n int) {
	x := t.cur.X
	for ; n > 0 && x < t.width-1; n-- {
		x++
		for x < t.width-1 && !t.tabStops[x] {
			x++
		}
	}
	t.cur.X = x
	t.wrapPending = false
}

// tabBackward moves the cursor to the n-th preceding tab stop, stopping at
// column 0.
func (t *Terminal) tabBackward(n int) {
	x := t.cur.X
	for ; n > 0 && x > 0; n-- {
		x--
		for x > 0 && !t.tabStops[x] {
			x--
		}
	}
	t.cur.X = x
	t.wrapPending = false
}

func (t *Terminal) setTabStop() {
	t.tabStops[t.cur.X] = true
}

// clearTabStop implements TBC: mode 0 clears the stop at the cursor, mode 3
// clears every stop.
func (t *Terminal) clearTabStop(mode int) {
	switch mode {
	case 0:
		t.tabStops[t.cur.X] = false
	case 3:
		for i := range t.tabStops {
			t.tabStops[i] = false
		}
	default:
		t.logger.Debug("unsupported tab clear mode", "mode", mode)
	}
}

func (t *Terminal) saveCursor() {
	t.saved = savedCursor{
		x: t.cur.X, y: t.cur.Y,
		pen:    t.pen,
		g0:     t.g0,
		g1:     t.g1,
		useG1:  t.useG1,
		origin: t.modes.Origin,
	}
}

func (t *Terminal) restoreCursor() {
	t.pen = t.saved.pen
	if t.saved.pen == (pen{}) {
		t.pen = defaultPen()
	}
	t.g0, t.g1, t.useG1 = t.saved.g0, t.saved.g1, t.saved.useG1
	t.modes.Origin = t.saved.origin
	t.moveCursor(t.saved.x, t.saved.y)
}

// enterAlt switches to the alternate screen buffer, which has no
// scrollback. Re-entering while already active is a no-op.
func (t *Terminal) enterAlt() {
	if t.altActive {
		return
	}
	t.savedMain = t.rows
	t.rows = blankGrid(t.width, t.height, defaultCell())
	t.altActive = true
	t.moveCursor(0, 0)
}

func (t *Terminal) exitAlt() {
	if !t.altActive {
		return
	}
	t.rows = t.savedMain
	t.savedMain = nil
	t.altActive = false
}
