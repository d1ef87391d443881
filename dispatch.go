package terminal

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

const (
	asciiBell      = 7
	asciiBackspace = 8
	asciiEscape    = 27

	tabWidth = 8
)

// decSpecialGraphics maps the DEC special graphics character set (ESC ( 0)
// onto the unicode box drawing runes used for output.
var decSpecialGraphics = map[rune]rune{
	'`': '◆', 'a': '▒', 'b': '␉', 'c': '␌', 'd': '␍',
	'e': '␊', 'f': '°', 'g': '±', 'h': '␤', 'i': '␋',
	'j': '┘', 'k': '┐', 'l': '┌', 'm': '└', 'n': '┼',
	'o': '⎺', 'p': '⎻', 'q': '─', 'r': '⎼', 's': '⎽',
	't': '├', 'u': '┤', 'v': '┴', 'w': '┬', 'x': '│',
	'y': '≤', 'z': '≥', '{': 'π', '|': '≠', '}': '£',
	'~': '·',
}

// csiHandlers maps a CSI final rune to its handler. Final runes absent from
// the table are logged and dropped without touching terminal state.
var csiHandlers = map[rune]func(*Dispatcher, Event){
	'@': func(d *Dispatcher, ev Event) { d.term.insertChars(countParam(ev)) },
	'A': func(d *Dispatcher, ev Event) { d.term.cursorUp(countParam(ev)) },
	'B': func(d *Dispatcher, ev Event) { d.term.cursorDown(countParam(ev)) },
	'e': func(d *Dispatcher, ev Event) { d.term.cursorDown(countParam(ev)) },
	'C': func(d *Dispatcher, ev Event) { d.term.moveCursor(d.term.cur.X+countParam(ev), d.term.cur.Y) },
	'a': func(d *Dispatcher, ev Event) { d.term.moveCursor(d.term.cur.X+countParam(ev), d.term.cur.Y) },
	'D': func(d *Dispatcher, ev Event) { d.term.moveCursor(d.term.cur.X-countParam(ev), d.term.cur.Y) },
	'E': func(d *Dispatcher, ev Event) {
		d.term.cursorDown(countParam(ev))
		d.term.cur.X = 0
	},
	'F': func(d *Dispatcher, ev Event) {
		d.term.cursorUp(countParam(ev))
		d.term.cur.X = 0
	},
	'G': func(d *Dispatcher, ev Event) { d.term.moveCursor(ev.Param(0, 1)-1, d.term.cur.Y) },
	'`': func(d *Dispatcher, ev Event) { d.term.moveCursor(ev.Param(0, 1)-1, d.term.cur.Y) },
	'H': csiCup,
	'f': csiCup,
	'I': func(d *Dispatcher, ev Event) { d.term.tabForward(countParam(ev)) },
	'Z': func(d *Dispatcher, ev Event) { d.term.tabBackward(countParam(ev)) },
	'J': func(d *Dispatcher, ev Event) { d.term.eraseInDisplay(firstNumParam(ev, 0)) },
	'K': func(d *Dispatcher, ev Event) { d.term.eraseInLine(firstNumParam(ev, 0)) },
	'L': func(d *Dispatcher, ev Event) { d.term.insertLines(countParam(ev)) },
	'M': func(d *Dispatcher, ev Event) { d.term.deleteLines(countParam(ev)) },
	'P': func(d *Dispatcher, ev Event) { d.term.deleteChars(countParam(ev)) },
	'S': func(d *Dispatcher, ev Event) { d.term.scrollUp(countParam(ev)) },
	'T': func(d *Dispatcher, ev Event) { d.term.scrollDown(countParam(ev)) },
	'X': func(d *Dispatcher, ev Event) { d.term.eraseChars(countParam(ev)) },
	'd': func(d *Dispatcher, ev Event) { d.term.moveCursorTo(d.term.cur.X, ev.Param(0, 1)-1) },
	'g': func(d *Dispatcher, ev Event) { d.term.clearTabStop(ev.Param(0, 0)) },
	'h': func(d *Dispatcher, ev Event) { d.setModes(ev, true) },
	'l': func(d *Dispatcher, ev Event) { d.setModes(ev, false) },
	'm': csiSgr,
	'n': csiDsr,
	'r': csiDecstbm,
	's': func(d *Dispatcher, ev Event) { d.term.saveCursor() },
	'u': func(d *Dispatcher, ev Event) { d.term.restoreCursor() },
	'c': csiDa,
	'q': csiDecscusr,
}

func csiCup(d *Dispatcher, ev Event) {
	d.term.moveCursorTo(ev.Param(1, 1)-1, ev.Param(0, 1)-1)
}

// countParam is the common "Pn defaults to 1, never 0" CSI parameter.
func countParam(ev Event) int {
	n := ev.Param(0, 1)
	if n < 1 {
		n = 1
	}
	return n
}

// firstNumParam tolerates a DEC private marker on selective variants such
// as CSI ? J, which are treated like their plain forms.
func firstNumParam(ev Event, def int) int {
	if len(ev.Params) == 0 {
		return def
	}
	return atoiDefault(strings.TrimPrefix(ev.Params[0], "?"), def)
}

func csiDecstbm(d *Dispatcher, ev Event) {
	top := ev.Param(0, 1) - 1
	bottom := ev.Param(1, d.term.height) - 1
	d.term.setScrollRegion(top, bottom)
}

func csiDsr(d *Dispatcher, ev Event) {
	switch firstNumParam(ev, 0) {
	case 5:
		d.queueReply("\x1b[0n")
	case 6:
		row, col := d.term.cur.Y+1, d.term.cur.X+1
		if d.term.modes.Origin {
			row -= d.term.scrollTop
		}
		d.queueReply(fmt.Sprintf("\x1b[%d;%dR", row, col))
	default:
		d.logger.Debug("unsupported device status report", "params", ev.Params)
	}
}

func csiDa(d *Dispatcher, ev Event) {
	if len(ev.Params) > 0 && strings.HasPrefix(ev.Params[0], ">") {
		d.queueReply("\x1b[>0;0;0c")
		return
	}
	d.queueReply("\x1b[?6c")
}

func csiDecscusr(d *Dispatcher, ev Event) {
	if ev.Intermediates != " " {
		d.logger.Debug("unrecognized CSI q variant", "intermediates", ev.Intermediates)
		return
	}
	switch ev.Param(0, 0) {
	case 0, 1, 2:
		d.term.cur.Shape = CursorBlock
	case 3, 4:
		d.term.cur.Shape = CursorUnderline
	case 5, 6:
		d.term.cur.Shape = CursorBar
	default:
		d.logger.Debug("unrecognized cursor style", "params", ev.Params)
	}
}

// Dispatcher consumes parser events and applies them to a Terminal. It is
// the single writer of the terminal it wraps: each event is applied under
// the terminal lock, so a sequence is never observed half-applied.
type Dispatcher struct {
	mu     sync.Mutex
	term   *Terminal
	parser *Parser
	reply  io.Writer

	replyBuf []byte

	logger *log.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithReplyWriter sets the destination for sequences the terminal answers
// with (cursor position reports, device attributes). For a live session
// this is the session's input writer; nil discards replies.
func WithReplyWriter(w io.Writer) DispatcherOption {
	return func(d *Dispatcher) {
		d.reply = w
	}
}

// NewDispatcher wires a fresh parser to term.
func NewDispatcher(term *Terminal, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		term:   term,
		parser: &Parser{},
		logger: term.logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Write feeds raw output bytes through the parser into the terminal. It
// always consumes the full buffer; bytes ending mid-sequence are retained
// by the parser for the next call. Write is safe for concurrent use, though
// interleaving chunks from multiple writers rarely makes sense.
func (d *Dispatcher) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parser.Parse(p, d.handle)
	return len(p), nil
}

// Malformed returns the number of malformed sequences dropped so far.
func (d *Dispatcher) Malformed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.parser.Malformed()
}

func (d *Dispatcher) handle(ev Event) {
	t := d.term
	t.mu.Lock()
	switch ev.Kind {
	case EventPrint:
		d.handlePrint(ev)
	case EventExecute:
		d.handleExecute(ev.Byte)
	case EventCsi:
		d.handleCsi(ev)
	case EventEsc:
		d.handleEsc(ev)
	case EventOsc:
		d.handleOsc(ev.Text)
	case EventDcs:
		d.logger.Debug("ignoring device control string", "kind", string(ev.Byte), "len", len(ev.Text))
	}
	t.mu.Unlock()

	if len(d.replyBuf) > 0 {
		if d.reply != nil {
			_, _ = d.reply.Write(d.replyBuf)
		} else {
			d.logger.Debug("discarding terminal reply, no reply writer", "len", len(d.replyBuf))
		}
		d.replyBuf = d.replyBuf[:0]
	}
}

// queueReply buffers an answer sequence; it is flushed to the reply writer
// after the terminal lock is released.
func (d *Dispatcher) queueReply(s string) {
	d.replyBuf = append(d.replyBuf, s...)
}

func (d *Dispatcher) handlePrint(ev Event) {
	r := ev.Rune
	set := d.term.g0
	if d.term.useG1 {
		set = d.term.g1
	}
	if set == charSetDECSpecialGraphics {
		if mapped, ok := decSpecialGraphics[r]; ok {
			r = mapped
		}
	}
	d.term.writeRune(r, ev.Width)
}

func (d *Dispatcher) handleExecute(b byte) {
	t := d.term
	switch b {
	case asciiBell:
		d.logger.Debug("bell")
	case asciiBackspace:
		t.backspace()
	case '\t':
		t.tabForward(1)
	case '\n', '\v', '\f':
		t.lineFeed()
	case '\r':
		t.carriageReturn()
	case 0x0e: // SO
		t.useG1 = true
	case 0x0f: // SI
		t.useG1 = false
	case 0:
		// NUL is padding
	default:
		d.logger.Debug("ignoring control byte", "byte", b)
	}
}

func (d *Dispatcher) handleCsi(ev Event) {
	if h, ok := csiHandlers[ev.Final]; ok {
		h(d, ev)
		return
	}
	d.logger.Debug("unrecognized control sequence",
		"final", string(ev.Final), "params", ev.Params, "intermediates", ev.Intermediates)
}

func (d *Dispatcher) handleEsc(ev Event) {
	t := d.term
	switch ev.Intermediates {
	case "":
	case "(":
		t.g0 = designateCharSet(ev.Final)
		return
	case ")":
		t.g1 = designateCharSet(ev.Final)
		return
	case "#":
		if ev.Final == '8' {
			d.screenAlignment()
			return
		}
		fallthrough
	default:
		d.logger.Debug("unrecognized escape sequence",
			"intermediates", ev.Intermediates, "final", string(ev.Final))
		return
	}

	switch ev.Final {
	case '7':
		t.saveCursor()
	case '8':
		t.restoreCursor()
	case 'D':
		t.index()
	case 'E':
		t.nextLine()
	case 'M':
		t.reverseIndex()
	case 'H':
		t.setTabStop()
	case 'c':
		t.reset()
	case '=':
		t.modes.KeypadApplication = true
	case '>':
		t.modes.KeypadApplication = false
	case '\\':
		// stray string terminator
	default:
		d.logger.Debug("unrecognized escape sequence", "final", string(ev.Final))
	}
}

func designateCharSet(final rune) charSet {
	switch final {
	case '0':
		return charSetDECSpecialGraphics
	case 'A':
		return charSetAlternate
	default:
		return charSetANSII
	}
}

// screenAlignment implements DECALN: the screen fills with 'E', the scroll
// region resets and the cursor homes.
func (d *Dispatcher) screenAlignment() {
	t := d.term
	cell := defaultCell()
	cell.Rune = 'E'
	for y := range t.rows {
		for x := range t.rows[y] {
			t.rows[y][x] = cell
		}
	}
	t.scrollTop, t.scrollBottom = 0, t.height-1
	t.moveCursor(0, 0)
}

// setModes applies SM/RM and their DEC private variants. Unknown modes are
// logged and skipped; recognized ones in the same sequence still apply.
func (d *Dispatcher) setModes(ev Event, set bool) {
	params := ev.Params
	private := len(params) > 0 && strings.HasPrefix(params[0], "?")
	for i, raw := range params {
		if i == 0 {
			raw = strings.TrimPrefix(raw, "?")
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			d.logger.Debug("bad mode parameter", "param", raw)
			continue
		}
		if private {
			d.setPrivateMode(n, set)
		} else {
			d.setAnsiMode(n, set)
		}
	}
}

func (d *Dispatcher) setAnsiMode(mode int, set bool) {
	t := d.term
	switch mode {
	case 4:
		t.modes.Insert = set
	case 20:
		t.modes.Newline = set
	default:
		d.logger.Debug("unsupported mode", "mode", mode, "set", set)
	}
}

func (d *Dispatcher) setPrivateMode(mode int, set bool) {
	t := d.term
	switch mode {
	case 1:
		t.modes.AppCursorKeys = set
	case 6:
		t.modes.Origin = set
		t.moveCursorTo(0, 0)
	case 7:
		t.modes.Wraparound = set
		if !set {
			t.wrapPending = false
		}
	case 8:
		t.modes.AutoRepeat = set
	case 12:
		// cursor blink, renderer concern
	case 25:
		t.cur.Visible = set
	case 47:
		if set {
			t.enterAlt()
		} else {
			t.exitAlt()
		}
	case 1048:
		if set {
			t.saveCursor()
		} else {
			t.restoreCursor()
		}
	case 1049:
		if set {
			t.saveCursor()
			t.enterAlt()
		} else {
			t.exitAlt()
			t.restoreCursor()
		}
	case 2004:
		t.modes.BracketedPaste = set
	default:
		d.logger.Debug("unsupported private mode", "mode", mode, "set", set)
	}
}

// csiSgr applies character attribute parameters. Both the semicolon form
// (38;5;196) and the colon subparameter form (38:5:196) of extended colors
// are accepted.
func csiSgr(d *Dispatcher, ev Event) {
	params := ev.Params
	if len(params) == 0 {
		params = []string{""}
	}
	if strings.HasPrefix(params[0], ">") || strings.HasPrefix(params[0], "?") {
		d.logger.Debug("ignoring private SGR", "params", params)
		return
	}
	p := &d.term.pen
	for i := 0; i < len(params); i++ {
		if strings.ContainsRune(params[i], ':') {
			sub := strings.Split(params[i], ":")
			n := atoiDefault(sub[0], -1)
			if n == 38 || n == 48 {
				if c, ok := extendedColor(sub[1:]); ok {
					d.applyExtended(n, c)
				} else {
					d.logger.Debug("bad extended color", "param", params[i])
				}
				continue
			}
			d.logger.Debug("unsupported SGR subparameters", "param", params[i])
			continue
		}

		n := atoiDefault(params[i], 0)
		switch {
		case n == 0:
			*p = defaultPen()
		case n == 1:
			p.attr |= AttrBold
		case n == 2:
			p.attr |= AttrDim
		case n == 3:
			p.attr |= AttrItalic
		case n == 4:
			p.attr |= AttrUnderline
		case n == 5 || n == 6:
			p.attr |= AttrBlink
		case n == 7:
			p.attr |= AttrReverse
		case n == 9:
			p.attr |= AttrStrikethrough
		case n == 21 || n == 22:
			p.attr &^= AttrBold | AttrDim
		case n == 23:
			p.attr &^= AttrItalic
		case n == 24:
			p.attr &^= AttrUnderline
		case n == 25:
			p.attr &^= AttrBlink
		case n == 27:
			p.attr &^= AttrReverse
		case n == 29:
			p.attr &^= AttrStrikethrough
		case n >= 30 && n <= 37:
			p.fg = basicColor(n - 30)
		case n == 38 || n == 48:
			c, consumed, ok := extendedColorSemi(params[i+1:])
			if !ok {
				d.logger.Debug("bad extended color", "params", params[i:])
				return
			}
			d.applyExtended(n, c)
			i += consumed
		case n == 39:
			p.fg = DefaultForeground
		case n >= 40 && n <= 47:
			p.bg = basicColor(n - 40)
		case n == 49:
			p.bg = DefaultBackground
		case n >= 90 && n <= 97:
			p.fg = brightColor(n - 90)
		case n >= 100 && n <= 107:
			p.bg = brightColor(n - 100)
		default:
			d.logger.Debug("unsupported SGR attribute", "attr", n)
		}
	}
}

func (d *Dispatcher) applyExtended(which int, c Color) {
	if which == 38 {
		d.term.pen.fg = c
	} else {
		d.term.pen.bg = c
	}
}

// extendedColor resolves the argument list of an extended color: "5", id
// for the 256-color palette or "2", r, g, b for truecolor.
func extendedColor(args []string) (Color, bool) {
	if len(args) == 0 {
		return Color{}, false
	}
	switch args[0] {
	case "5":
		if len(args) < 2 {
			return Color{}, false
		}
		return paletteColor(atoiDefault(args[1], -1))
	case "2":
		// xterm also accepts 2:colorspace:r:g:b
		rgb := args[1:]
		if len(rgb) >= 4 {
			rgb = rgb[1:]
		}
		if len(rgb) < 3 {
			return Color{}, false
		}
		return rgbColor(atoiDefault(rgb[0], 0), atoiDefault(rgb[1], 0), atoiDefault(rgb[2], 0)), true
	}
	return Color{}, false
}

// extendedColorSemi resolves the semicolon form, returning how many
// following parameters were consumed.
func extendedColorSemi(rest []string) (Color, int, bool) {
	if len(rest) == 0 {
		return Color{}, 0, false
	}
	switch rest[0] {
	case "5":
		if len(rest) < 2 {
			return Color{}, 0, false
		}
		c, ok := paletteColor(atoiDefault(rest[1], -1))
		return c, 2, ok
	case "2":
		if len(rest) < 4 {
			return Color{}, 0, false
		}
		c := rgbColor(atoiDefault(rest[1], 0), atoiDefault(rest[2], 0), atoiDefault(rest[3], 0))
		return c, 4, true
	}
	return Color{}, 0, false
}

// handleOsc applies operating system commands: window and icon titles and
// the OSC 7 working directory report.
func (d *Dispatcher) handleOsc(text string) {
	t := d.term
	code, payload, ok := strings.Cut(text, ";")
	if !ok {
		d.logger.Debug("malformed operating system command", "text", text)
		return
	}
	switch code {
	case "0":
		t.title = payload
		t.iconTitle = payload
	case "1":
		t.iconTitle = payload
	case "2":
		t.title = payload
	case "7":
		t.workingDir = parseDirURL(payload)
	default:
		d.logger.Debug("unsupported operating system command", "code", code)
	}
}

// parseDirURL strips the scheme and host from a file:// URL as sent by
// shells for OSC 7. A bare path passes through unchanged.
func parseDirURL(s string) string {
	rest, ok := strings.CutPrefix(s, "file://")
	if !ok {
		return s
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i:]
	}
	return "/"
}
