package terminal

// The 16 base ANSI colors. Values follow the common xterm defaults; a
// renderer that wants themed colors can remap cells on its side, the
// emulator always resolves to these.
var basicColors = [8]Color{
	{0, 0, 0, 255},       // black
	{170, 0, 0, 255},     // red
	{0, 170, 0, 255},     // green
	{170, 170, 0, 255},   // yellow
	{0, 0, 170, 255},     // blue
	{170, 0, 170, 255},   // magenta
	{0, 170, 170, 255},   // cyan
	{170, 170, 170, 255}, // white
}

var brightColors = [8]Color{
	{85, 85, 85, 255},    // bright black (gray)
	{255, 85, 85, 255},   // bright red
	{85, 255, 85, 255},   // bright green
	{255, 255, 85, 255},  // bright yellow
	{85, 85, 255, 255},   // bright blue
	{255, 85, 255, 255},  // bright magenta
	{85, 255, 255, 255},  // bright cyan
	{255, 255, 255, 255}, // bright white
}

// colourBands holds the six channel levels of the 6x6x6 color cube used by
// palette entries 16-231.
var colourBands = [6]uint8{0x00, 0x5f, 0x87, 0xaf, 0xd7, 0xff}

// basicColor resolves SGR 30-37/40-47 (and palette ids 0-7).
func basicColor(index int) Color {
	if index < 0 || index > 7 {
		return DefaultForeground
	}
	return basicColors[index]
}

// brightColor resolves SGR 90-97/100-107 (and palette ids 8-15).
func brightColor(index int) Color {
	if index < 0 || index > 7 {
		return DefaultForeground
	}
	return brightColors[index]
}

// paletteColor resolves a 256-color palette id into its canonical RGBA
// value: 0-15 map onto the basic/bright tables, 16-231 onto the color cube
// and 232-255 onto the grayscale ramp. The second return is false for ids
// outside 0-255.
func paletteColor(id int) (Color, bool) {
	switch {
	case id < 0 || id > 255:
		return Color{}, false
	case id <= 7:
		return basicColor(id), true
	case id <= 15:
		return brightColor(id - 8), true
	case id <= 231:
		id -= 16
		b := id % 6
		id /= 6
		g := id % 6
		r := id / 6
		return Color{colourBands[r], colourBands[g], colourBands[b], 255}, true
	default:
		y := uint8(8 + (id-232)*10)
		return Color{y, y, y, 255}, true
	}
}

// rgbColor resolves an SGR 38;2;r;g;b / 48;2;r;g;b truecolor parameter,
// clamping each channel into 0-255.
func rgbColor(r, g, b int) Color {
	clamp := func(v int) uint8 {
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return uint8(v)
	}
	return Color{clamp(r), clamp(g), clamp(b), 255}
}
