package visual

import (
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
)

func TestTrace(t *testing.T) {
	points := Trace([]byte{128, 0, 255, 64}, 100, 50)

	if len(points) != 5 {
		t.Fatalf("Expected 5 points, got %d", len(points))
	}

	want := []Point{
		{X: 0, Y: 25},
		{X: 25, Y: 0},
		{X: 50, Y: 255.0 / 128 * 25},
		{X: 75, Y: 12.5},
		{X: 100, Y: 25},
	}
	for i, p := range want {
		if points[i] != p {
			t.Errorf("point %d = %+v, want %+v", i, points[i], p)
		}
	}
}

func TestTrace_Empty(t *testing.T) {
	points := Trace(nil, 80, 20)
	if len(points) != 1 || points[0] != (Point{X: 80, Y: 10}) {
		t.Errorf("Expected only the closing point, got %+v", points)
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.RGBA
		wantErr bool
	}{
		{"#0071e3", color.RGBA{R: 0x00, G: 0x71, B: 0xe3, A: 0xff}, false},
		{"#F2F2F7", color.RGBA{R: 0xf2, G: 0xf2, B: 0xf7, A: 0xff}, false},
		{"0071e3", color.RGBA{}, true},
		{"#0071e", color.RGBA{}, true},
		{"#zzzzzz", color.RGBA{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q", tt.in)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseColor(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
			}
			if Hex(got) != strings.ToLower(tt.in) {
				t.Errorf("Hex round trip gave %q", Hex(got))
			}
		})
	}
}

func TestTickerClock(t *testing.T) {
	clock := NewTickerClock(100)
	defer clock.Stop()

	select {
	case <-clock.Frames():
	case <-time.After(time.Second):
		t.Fatal("Expected a frame within a second")
	}
}

func newSimScreen(t *testing.T, w, h int) tcell.SimulationScreen {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("Failed to init simulation screen: %v", err)
	}
	screen.SetSize(w, h)
	t.Cleanup(screen.Fini)
	return screen
}

func TestTerminalSurface_DrawsTrace(t *testing.T) {
	screen := newSimScreen(t, 20, 6)
	surface := NewTerminalSurfaceFromScreen(screen)

	w, h := surface.Size()
	if w != 20 || h != 5 {
		t.Fatalf("Expected 20x5 drawing area, got %vx%v", w, h)
	}

	surface.Fill(color.RGBA{A: 0xff})
	// flat line through the middle
	data := make([]byte, 20)
	for i := range data {
		data[i] = 128
	}
	surface.StrokePolyline(Trace(data, w, h), Stroke{Color: color.RGBA{R: 0xff, A: 0xff}, Width: 2})
	surface.SetStatus("REC -12.0 dB")
	if err := surface.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	for x := 0; x < 20; x++ {
		r, _, _, _ := screen.GetContent(x, 2)
		if r != traceRune {
			t.Errorf("Expected trace at (%d,2), got %q", x, r)
		}
	}

	r, _, _, _ := screen.GetContent(0, 0)
	if r != ' ' {
		t.Errorf("Expected background at (0,0), got %q", r)
	}

	var status strings.Builder
	for x := 0; x < 12; x++ {
		r, _, _, _ := screen.GetContent(x, 5)
		status.WriteRune(r)
	}
	if status.String() != "REC -12.0 dB" {
		t.Errorf("Unexpected status row %q", status.String())
	}
}

func TestTerminalSurface_WaitForStop(t *testing.T) {
	screen := newSimScreen(t, 10, 4)
	surface := NewTerminalSurfaceFromScreen(screen)

	done := surface.WaitForStop()
	screen.InjectKey(tcell.KeyRune, 'x', tcell.ModNone)
	screen.InjectKey(tcell.KeyEnter, 0, tcell.ModNone)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected Enter to stop")
	}
}

func TestSocketSurface_BroadcastsFrames(t *testing.T) {
	surface := NewSocketSurface(300, 100)
	srv := httptest.NewServer(surface)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for surface.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	surface.Fill(color.RGBA{R: 0xf2, G: 0xf2, B: 0xf7, A: 0xff})
	surface.StrokePolyline([]Point{{0, 50}, {300, 50}}, Stroke{Color: color.RGBA{G: 0x71, B: 0xe3, A: 0xff}, Width: 2})
	surface.Flush()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}

	if frame.Width != 300 || frame.Height != 100 {
		t.Errorf("Unexpected frame size %vx%v", frame.Width, frame.Height)
	}
	if frame.Background != "#f2f2f7" || frame.Stroke != "#0071e3" || frame.LineWidth != 2 {
		t.Errorf("Unexpected frame style %+v", frame)
	}
	if len(frame.Points) != 2 || frame.Points[1] != (Point{300, 50}) {
		t.Errorf("Unexpected points %+v", frame.Points)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "example.com", true},
		{"http://localhost:3000", "example.com", true},
		{"http://192.168.1.20", "example.com", true},
		{"https://example.com", "example.com:8080", true},
		{"https://evil.test", "example.com", false},
		{"://bad", "example.com", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws/waveform", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q, %q) = %v, want %v", tt.origin, tt.host, got, tt.want)
		}
	}
}
