// Package visual draws the live waveform onto terminal and remote surfaces.
package visual

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Point is a position in surface coordinates, origin top-left
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke describes how a polyline is drawn
type Stroke struct {
	Color color.RGBA
	Width float64
}

// Surface is a 2D paint target repainted once per frame
type Surface interface {
	Size() (width, height float64)
	Fill(c color.RGBA)
	StrokePolyline(points []Point, s Stroke)
	Flush() error
}

// Trace converts unsigned time-domain bytes into a waveform polyline.
// Each sample v = data[i]/128 lands at y = v*height/2, x advances by width/len(data),
// and the line ends at the vertical centre of the right edge.
func Trace(data []byte, width, height float64) []Point {
	points := make([]Point, 0, len(data)+1)
	if len(data) > 0 {
		slice := width / float64(len(data))
		x := 0.0
		for _, b := range data {
			v := float64(b) / 128.0
			points = append(points, Point{X: x, Y: v * height / 2})
			x += slice
		}
	}
	return append(points, Point{X: width, Y: height / 2})
}

// ParseColor parses "#rrggbb" into an opaque color
func ParseColor(s string) (color.RGBA, error) {
	hex, ok := strings.CutPrefix(s, "#")
	if !ok || len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q, expected #rrggbb", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Hex formats c as "#rrggbb"
func Hex(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
