package terminal

import (
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// EventKind identifies the class of a tokenized terminal event.
type EventKind uint8

const (
	// EventPrint is a decoded printable character.
	EventPrint EventKind = iota
	// EventExecute is a C0 control byte.
	EventExecute
	// EventCsi is a complete control sequence (CSI ... final).
	EventCsi
	// EventEsc is a plain escape sequence (ESC intermediates final).
	EventEsc
	// EventOsc is an operating system command (OSC ... BEL/ST).
	EventOsc
	// EventDcs is a device control, APC, PM or SOS string. The payload is
	// surfaced so a dispatcher can log or forward it; none of them affect
	// grid state here.
	EventDcs
)

// Event is one semantic unit produced by the Parser. Which fields are
// meaningful depends on Kind.
type Event struct {
	Kind EventKind

	Rune  rune // Print: the decoded character
	Width int  // Print: display columns (0, 1 or 2)

	Byte byte // Execute: control byte; Dcs: introducer ('P', '_', '^', 'X')

	Params        []string // Csi: raw parameters, one entry per ';'
	Intermediates string   // Csi/Esc: intermediate bytes (0x20-0x2F)
	Final         rune     // Csi/Esc: final byte

	Text string // Osc/Dcs: accumulated payload
}

// Param returns the i-th parameter as an integer, or def when the parameter
// is absent, empty or not numeric.
func (e Event) Param(i, def int) int {
	if i < 0 || i >= len(e.Params) {
		return def
	}
	return atoiDefault(e.Params[i], def)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
		if n > 1<<24 {
			return def
		}
	}
	return n
}

type parserState uint8

const (
	stateGround parserState = iota
	stateEscape
	stateCsi
	stateOsc
	stateDcs
)

// Parser tokenizes a terminal byte stream into Events. State persists
// between Parse calls, so escape sequences and multi-byte characters split
// across chunks are recognized correctly. A Parser owns no grid state and
// can be reset or replaced independently of the terminal it feeds.
//
// The zero value is ready to use.
type Parser struct {
	state parserState

	pending []byte // incomplete trailing UTF-8 sequence
	params  []byte
	inter   []byte
	text    []byte
	dcsKind byte
	ignore  bool
	stEsc   bool // saw ESC inside an OSC/DCS string, ST pending

	malformed int
}

// Reset returns the parser to ground state, discarding any partial
// sequence. Grid state is unaffected; the malformed counter is kept.
func (p *Parser) Reset() {
	p.state = stateGround
	p.pending = nil
	p.params = p.params[:0]
	p.inter = p.inter[:0]
	p.text = p.text[:0]
	p.ignore = false
	p.stEsc = false
}

// Malformed returns the number of sequences dropped for malformed syntax
// since the parser was created.
func (p *Parser) Malformed() int {
	return p.malformed
}

// Parse consumes buf, invoking emit once per complete event. Bytes that end
// mid-sequence are retained for the next call. Malformed sequences are
// dropped without emitting.
func (p *Parser) Parse(buf []byte, emit func(Event)) {
	data := buf
	if len(p.pending) > 0 {
		data = append(p.pending, buf...)
		p.pending = nil
	}

	for i := 0; i < len(data); {
		b := data[i]

		if p.state == stateGround && b >= utf8.RuneSelf {
			if !utf8.FullRune(data[i:]) && len(data)-i < utf8.UTFMax {
				p.pending = append(p.pending, data[i:]...)
				return
			}
			r, size := utf8.DecodeRune(data[i:])
			if r == utf8.RuneError && size == 1 {
				i++ // invalid byte, drop it
				continue
			}
			p.groundRune(r, emit)
			i += size
			continue
		}

		if reconsume := p.step(b, emit); reconsume {
			continue
		}
		i++
	}
}

// groundRune handles a decoded rune in ground state: C1 controls map onto
// their 7-bit equivalents, everything else is a printable character.
func (p *Parser) groundRune(r rune, emit func(Event)) {
	if r >= 0x80 && r <= 0x9f {
		switch r {
		case 0x84: // IND
			emit(Event{Kind: EventEsc, Final: 'D'})
		case 0x85: // NEL
			emit(Event{Kind: EventEsc, Final: 'E'})
		case 0x88: // HTS
			emit(Event{Kind: EventEsc, Final: 'H'})
		case 0x8d: // RI
			emit(Event{Kind: EventEsc, Final: 'M'})
		case 0x90: // DCS
			p.startString(stateDcs, 'P')
		case 0x98: // SOS
			p.startString(stateDcs, 'X')
		case 0x9b: // CSI
			p.startCsi()
		case 0x9d: // OSC
			p.startString(stateOsc, 0)
		case 0x9e: // PM
			p.startString(stateDcs, '^')
		case 0x9f: // APC
			p.startString(stateDcs, '_')
		}
		return
	}
	emit(Event{Kind: EventPrint, Rune: r, Width: runewidth.RuneWidth(r)})
}

// step advances the byte-oriented part of the state machine. It returns
// true when the byte must be reconsumed under the new state.
func (p *Parser) step(b byte, emit func(Event)) bool {
	switch p.state {
	case stateGround:
		switch {
		case b == asciiEscape:
			p.state = stateEscape
			p.inter = p.inter[:0]
		case b == 0x7f:
			// DEL is ignored
		default:
			emit(Event{Kind: EventExecute, Byte: b})
		}

	case stateEscape:
		switch {
		case b == '[':
			p.startCsi()
		case b == ']':
			p.startString(stateOsc, 0)
		case b == 'P' || b == 'X' || b == '^' || b == '_':
			p.startString(stateDcs, b)
		case b >= 0x20 && b <= 0x2f:
			p.inter = append(p.inter, b)
		case b >= 0x30 && b <= 0x7e:
			emit(Event{Kind: EventEsc, Intermediates: string(p.inter), Final: rune(b)})
			p.state = stateGround
		case b == asciiEscape:
			p.inter = p.inter[:0]
		case b < 0x20:
			emit(Event{Kind: EventExecute, Byte: b})
		default:
			p.malformed++
			p.state = stateGround
		}

	case stateCsi:
		switch {
		case b >= 0x30 && b <= 0x3f:
			if len(p.inter) > 0 {
				p.ignore = true // parameter after intermediate is malformed
			} else {
				p.params = append(p.params, b)
			}
		case b >= 0x20 && b <= 0x2f:
			p.inter = append(p.inter, b)
		case b >= 0x40 && b <= 0x7e:
			if p.ignore {
				p.malformed++
			} else {
				emit(Event{
					Kind:          EventCsi,
					Params:        splitParams(p.params),
					Intermediates: string(p.inter),
					Final:         rune(b),
				})
			}
			p.state = stateGround
		case b == asciiEscape:
			p.malformed++
			p.state = stateEscape
			p.inter = p.inter[:0]
		case b < 0x20:
			// C0 controls execute even inside a control sequence
			emit(Event{Kind: EventExecute, Byte: b})
		case b == 0x7f:
			// ignored
		default:
			p.ignore = true
		}

	case stateOsc, stateDcs:
		if p.stEsc {
			p.stEsc = false
			if b == '\\' {
				p.finishString(emit)
				return false
			}
			// lone ESC cancels the string; reprocess under escape state
			p.malformed++
			p.state = stateEscape
			p.inter = p.inter[:0]
			return true
		}
		switch b {
		case asciiEscape:
			p.stEsc = true
		case asciiBell, 0:
			p.finishString(emit)
		default:
			p.text = append(p.text, b)
		}
	}
	return false
}

func (p *Parser) startCsi() {
	p.state = stateCsi
	p.params = p.params[:0]
	p.inter = p.inter[:0]
	p.ignore = false
}

func (p *Parser) startString(st parserState, kind byte) {
	p.state = st
	p.text = p.text[:0]
	p.dcsKind = kind
	p.stEsc = false
}

func (p *Parser) finishString(emit func(Event)) {
	if p.state == stateOsc {
		emit(Event{Kind: EventOsc, Text: string(p.text)})
	} else {
		emit(Event{Kind: EventDcs, Byte: p.dcsKind, Text: string(p.text)})
	}
	p.text = p.text[:0]
	p.state = stateGround
}

func splitParams(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	return strings.Split(string(raw), ";")
}
