package indicator

import (
	"fmt"

	"github.com/mazznoer/csscolorparser"
)

// Color is one RGB setting of the three light channels.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Off is the zero triple.
var Off = Color{}

// IsOff reports whether all channels are dark.
func (c Color) IsOff() bool { return c == Off }

// Hex returns the colour as #rrggbb.
func (c Color) Hex() string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

func (c Color) String() string {
	for _, n := range palette {
		if n.color == c {
			return n.name
		}
	}
	return c.Hex()
}

// ParseColor accepts any CSS colour expression ("orange", "#ff00ff",
// "rgb(1,2,3)"). Alpha is ignored.
func ParseColor(s string) (Color, error) {
	c, err := csscolorparser.Parse(s)
	if err != nil {
		return Off, fmt.Errorf("indicator: parse colour %q: %w", s, err)
	}
	r, g, b, _ := c.RGBA255()
	return Color{R: r, G: g, B: b}, nil
}

func mustColor(s string) Color {
	c, err := ParseColor(s)
	if err != nil {
		panic(err)
	}
	return c
}

// The light has seven lit colours. Green is full-intensity green, which CSS
// calls lime.
var (
	Red    = mustColor("red")
	Green  = mustColor("lime")
	Blue   = mustColor("blue")
	Orange = mustColor("orange")
	Purple = mustColor("purple")
	Yellow = mustColor("yellow")
	White  = mustColor("white")
)

var palette = []struct {
	name  string
	color Color
}{
	{"off", Off},
	{"red", Red},
	{"green", Green},
	{"blue", Blue},
	{"orange", Orange},
	{"purple", Purple},
	{"yellow", Yellow},
	{"white", White},
}
