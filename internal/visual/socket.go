package visual

import (
	"image/color"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 2 * time.Second
	clientQueueLen = 4
)

// Frame is one painted waveform as sent to websocket clients
type Frame struct {
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Background string  `json:"background"`
	Stroke     string  `json:"stroke"`
	LineWidth  float64 `json:"line_width"`
	Points     []Point `json:"points"`
}

// SocketSurface records each frame and broadcasts it as JSON to websocket subscribers.
// Slow clients drop frames instead of stalling the draw loop.
type SocketSurface struct {
	width, height float64

	mu      sync.Mutex
	pending Frame
	clients map[*socketClient]struct{}
}

type socketClient struct {
	conn  *websocket.Conn
	queue chan Frame
}

var upgrader = websocket.Upgrader{
	CheckOrigin: checkOrigin,
}

// NewSocketSurface creates a virtual canvas of the given size
func NewSocketSurface(width, height float64) *SocketSurface {
	return &SocketSurface{
		width:   width,
		height:  height,
		clients: make(map[*socketClient]struct{}),
	}
}

func (s *SocketSurface) Size() (float64, float64) {
	return s.width, s.height
}

func (s *SocketSurface) Fill(c color.RGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = Frame{Width: s.width, Height: s.height, Background: Hex(c)}
}

func (s *SocketSurface) StrokePolyline(points []Point, st Stroke) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.Stroke = Hex(st.Color)
	s.pending.LineWidth = st.Width
	s.pending.Points = append([]Point(nil), points...)
}

func (s *SocketSurface) Flush() error {
	s.mu.Lock()
	frame := s.pending
	clients := make([]*socketClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		select {
		case c.queue <- frame:
		default:
		}
	}
	return nil
}

// Clients returns the number of connected subscribers
func (s *SocketSurface) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP upgrades the request and streams frames until the client goes away
func (s *SocketSurface) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	c := &socketClient{conn: conn, queue: make(chan Frame, clientQueueLen)}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	slog.Debug("Waveform subscriber connected", "remote", r.RemoteAddr)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		conn.Close()
		slog.Debug("Waveform subscriber disconnected", "remote", r.RemoteAddr)
	}()

	for {
		select {
		case <-closed:
			return
		case frame := <-c.queue:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}

// checkOrigin accepts same-origin, localhost and private network origins
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		slog.Warn("Rejected WebSocket connection: invalid origin URL", "origin", origin)
		return false
	}

	host := u.Hostname()
	if host == "localhost" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("Rejected WebSocket connection", "origin", origin, "host", host)
	return false
}
