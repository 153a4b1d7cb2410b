package badge

// Palette is the per-mission art and color set.
type Palette struct {
	Background string // asset name
	Base       string // canvas color under the background art
	Accent     string
	Text       string
	DotOff     string
}

var palettes = [3]Palette{
	{Background: "backgrounds/mission-1.png", Base: "#0b1d13", Accent: "#39ff88", Text: "#e8fff1", DotOff: "#16301f"},
	{Background: "backgrounds/mission-2.png", Base: "#0d1626", Accent: "#38b6ff", Text: "#e6f4ff", DotOff: "#17263d"},
	{Background: "backgrounds/mission-3.png", Base: "#1f0d10", Accent: "#ff4d5e", Text: "#fff0f1", DotOff: "#3a1a1f"},
}

// PaletteFor returns the palette of mission n (1..3). Out-of-range values
// clamp to the nearest mission.
func PaletteFor(n int) Palette {
	switch {
	case n < 1:
		n = 1
	case n > len(palettes):
		n = len(palettes)
	}
	return palettes[n-1]
}

// DotFills returns the fill of each progress dot: missions up to and
// including n are lit.
func DotFills(n int, pal Palette) []string {
	out := make([]string, len(palettes))
	for i := range out {
		if i < n {
			out[i] = pal.Accent
		} else {
			out[i] = pal.DotOff
		}
	}
	return out
}
