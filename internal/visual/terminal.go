package visual

import (
	"image/color"
	"math"
	"sync"

	"github.com/gdamore/tcell/v2"
)

const (
	traceRune  = '•'
	heavyRune  = '█'
	statusRows = 1
)

// TerminalSurface paints the waveform into a terminal, one cell per pixel.
// The bottom row is kept for a status line.
type TerminalSurface struct {
	mu         sync.Mutex
	screen     tcell.Screen
	background tcell.Style
	status     string
	owned      bool
	closed     bool
}

// NewTerminalSurface takes over the controlling terminal
func NewTerminalSurface() (*TerminalSurface, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	s := NewTerminalSurfaceFromScreen(screen)
	s.owned = true
	return s, nil
}

// NewTerminalSurfaceFromScreen draws into an initialized screen owned by the caller
func NewTerminalSurfaceFromScreen(screen tcell.Screen) *TerminalSurface {
	return &TerminalSurface{
		screen:     screen,
		background: tcell.StyleDefault,
	}
}

// Screen exposes the underlying screen for event polling
func (t *TerminalSurface) Screen() tcell.Screen {
	return t.screen
}

func (t *TerminalSurface) Size() (float64, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, h := t.screen.Size()
	return float64(w), float64(max(h-statusRows, 1))
}

func (t *TerminalSurface) Fill(c color.RGBA) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.background = tcell.StyleDefault.Background(toTcell(c))
	t.screen.Fill(' ', t.background)
}

func (t *TerminalSurface) StrokePolyline(points []Point, s Stroke) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	style := t.background.Foreground(toTcell(s.Color))
	r := traceRune
	if s.Width >= 3 {
		r = heavyRune
	}

	w, h := t.screen.Size()
	h -= statusRows

	plot := func(x, y int) {
		if x >= 0 && x < w && y >= 0 && y < h {
			t.screen.SetContent(x, y, r, nil, style)
		}
	}

	for i := 1; i < len(points); i++ {
		rasterize(points[i-1], points[i], plot)
	}
	if len(points) == 1 {
		plot(int(points[0].X), int(points[0].Y))
	}
}

// SetStatus replaces the text of the status row
func (t *TerminalSurface) SetStatus(text string) {
	t.mu.Lock()
	t.status = text
	t.mu.Unlock()
}

func (t *TerminalSurface) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	w, h := t.screen.Size()
	style := tcell.StyleDefault.Reverse(true)
	x := 0
	for _, r := range t.status {
		if x >= w {
			break
		}
		t.screen.SetContent(x, h-1, r, nil, style)
		x++
	}
	for ; x < w; x++ {
		t.screen.SetContent(x, h-1, ' ', nil, style)
	}

	t.screen.Show()
	return nil
}

// Close restores the terminal if this surface initialized it
func (t *TerminalSurface) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owned && !t.closed {
		t.screen.Fini()
	}
	t.closed = true
	return nil
}

// WaitForStop returns a channel closed when the user presses Enter, Escape, q or Ctrl-C
func (t *TerminalSurface) WaitForStop() <-chan struct{} {
	done := make(chan struct{})
	screen := t.screen
	go func() {
		defer close(done)
		for {
			ev := screen.PollEvent()
			switch ev := ev.(type) {
			case nil:
				return
			case *tcell.EventKey:
				switch ev.Key() {
				case tcell.KeyEnter, tcell.KeyEscape, tcell.KeyCtrlC:
					return
				case tcell.KeyRune:
					if ev.Rune() == 'q' {
						return
					}
				}
			case *tcell.EventResize:
				t.mu.Lock()
				screen.Sync()
				t.mu.Unlock()
			}
		}
	}()
	return done
}

func toTcell(c color.RGBA) tcell.Color {
	return tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B))
}

// rasterize walks the segment a-b one cell at a time
func rasterize(a, b Point, plot func(x, y int)) {
	dx, dy := b.X-a.X, b.Y-a.Y
	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))))
	if steps == 0 {
		plot(int(a.X), int(a.Y))
		return
	}
	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		plot(int(a.X+dx*f), int(a.Y+dy*f))
	}
}
