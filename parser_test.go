package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(p *Parser, chunks ...[]byte) []Event {
	var events []Event
	for _, c := range chunks {
		p.Parse(c, func(ev Event) {
			events = append(events, ev)
		})
	}
	return events
}

func TestParserPlainText(t *testing.T) {
	events := collectEvents(&Parser{}, []byte("hi"))
	require.Len(t, events, 2)
	assert.Equal(t, EventPrint, events[0].Kind)
	assert.Equal(t, 'h', events[0].Rune)
	assert.Equal(t, 1, events[0].Width)
	assert.Equal(t, 'i', events[1].Rune)
}

func TestParserCsi(t *testing.T) {
	events := collectEvents(&Parser{}, []byte("\x1b[1;31mA"))
	require.Len(t, events, 2)
	assert.Equal(t, EventCsi, events[0].Kind)
	assert.Equal(t, []string{"1", "31"}, events[0].Params)
	assert.Equal(t, 'm', events[0].Final)
	assert.Equal(t, EventPrint, events[1].Kind)
}

// Sequences split at any byte boundary must produce the same events as the
// unsplit stream.
func TestParserChunkSplit(t *testing.T) {
	input := []byte("A\x1b[38;5;196mB\x1b]0;title\x07C")
	want := collectEvents(&Parser{}, input)
	require.NotEmpty(t, want)

	for split := 1; split < len(input); split++ {
		got := collectEvents(&Parser{}, input[:split], input[split:])
		assert.Equal(t, want, got, "split at byte %d", split)
	}
}

func TestParserUTF8AcrossChunks(t *testing.T) {
	input := []byte("héllo 漢")
	want := collectEvents(&Parser{}, input)

	for split := 1; split < len(input); split++ {
		got := collectEvents(&Parser{}, input[:split], input[split:])
		assert.Equal(t, want, got, "split at byte %d", split)
	}

	wide := want[len(want)-1]
	assert.Equal(t, '漢', wide.Rune)
	assert.Equal(t, 2, wide.Width)
}

func TestParserOscTerminators(t *testing.T) {
	tests := map[string]string{
		"bel terminated": "\x1b]2;my title\x07",
		"st terminated":  "\x1b]2;my title\x1b\\",
		"c1 osc":         "\u009d2;my title\x07",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			events := collectEvents(&Parser{}, []byte(input))
			require.Len(t, events, 1)
			assert.Equal(t, EventOsc, events[0].Kind)
			assert.Equal(t, "2;my title", events[0].Text)
		})
	}
}

func TestParserEscSequences(t *testing.T) {
	events := collectEvents(&Parser{}, []byte("\x1b7\x1b(0\x1bM"))
	require.Len(t, events, 3)
	assert.Equal(t, Event{Kind: EventEsc, Final: '7'}, events[0])
	assert.Equal(t, Event{Kind: EventEsc, Intermediates: "(", Final: '0'}, events[1])
	assert.Equal(t, Event{Kind: EventEsc, Final: 'M'}, events[2])
}

func TestParserC1Controls(t *testing.T) {
	// 8-bit CSI and RI arrive as UTF-8 encoded C1 code points
	events := collectEvents(&Parser{}, []byte("\u009b31m\u008d"))
	require.Len(t, events, 2)
	assert.Equal(t, EventCsi, events[0].Kind)
	assert.Equal(t, []string{"31"}, events[0].Params)
	assert.Equal(t, Event{Kind: EventEsc, Final: 'M'}, events[1])
}

func TestParserControlByteInsideCsi(t *testing.T) {
	// C0 controls execute even mid-sequence
	events := collectEvents(&Parser{}, []byte("\x1b[3\n1m"))
	require.Len(t, events, 2)
	assert.Equal(t, EventExecute, events[0].Kind)
	assert.Equal(t, byte('\n'), events[0].Byte)
	assert.Equal(t, EventCsi, events[1].Kind)
	assert.Equal(t, []string{"31"}, events[1].Params)
}

func TestParserMalformedCsiDropped(t *testing.T) {
	p := &Parser{}
	// a parameter after an intermediate byte is malformed; the sequence is
	// dropped but the stream recovers at the final byte
	events := collectEvents(p, []byte("\x1b[ 5mA"))
	require.Len(t, events, 1)
	assert.Equal(t, EventPrint, events[0].Kind)
	assert.Equal(t, 'A', events[0].Rune)
	assert.Equal(t, 1, p.Malformed())
}

func TestParserEscAbortsCsi(t *testing.T) {
	p := &Parser{}
	events := collectEvents(p, []byte("\x1b[31\x1b[32mA"))
	require.Len(t, events, 2)
	assert.Equal(t, []string{"32"}, events[0].Params)
	assert.Equal(t, 1, p.Malformed())
	assert.Equal(t, 'A', events[1].Rune)
}

func TestParserDcsIgnoredButSurfaced(t *testing.T) {
	events := collectEvents(&Parser{}, []byte("\x1bPq#0;1;0\x1b\\A"))
	require.Len(t, events, 2)
	assert.Equal(t, EventDcs, events[0].Kind)
	assert.Equal(t, byte('P'), events[0].Byte)
	assert.Equal(t, "q#0;1;0", events[0].Text)
	assert.Equal(t, 'A', events[1].Rune)
}

func TestParserInvalidUTF8ByteDropped(t *testing.T) {
	events := collectEvents(&Parser{}, []byte{'A', 0xff, 'B'})
	require.Len(t, events, 2)
	assert.Equal(t, 'A', events[0].Rune)
	assert.Equal(t, 'B', events[1].Rune)
}

func TestParserResetDiscardsPartialSequence(t *testing.T) {
	p := &Parser{}
	collectEvents(p, []byte("\x1b[31"))
	p.Reset()
	events := collectEvents(p, []byte("A"))
	require.Len(t, events, 1)
	assert.Equal(t, EventPrint, events[0].Kind)
}

func TestEventParam(t *testing.T) {
	ev := Event{Params: []string{"5", "", "x"}}
	assert.Equal(t, 5, ev.Param(0, 1))
	assert.Equal(t, 1, ev.Param(1, 1))
	assert.Equal(t, 7, ev.Param(2, 7))
	assert.Equal(t, 9, ev.Param(3, 9))
}
