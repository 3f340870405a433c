package recorder

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// MessageRequestMicrophonePermission is posted to the host before the stream is requested
const MessageRequestMicrophonePermission = "requestMicrophonePermission"

// Host is an embedding shell that wants to see the permission step first,
// for example a native wrapper that must grant microphone access itself.
type Host interface {
	PostMessage(message string) error
}

// LineHost posts each message as one line to a writer owned by the wrapping shell
type LineHost struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineHost creates a host writing to w
func NewLineHost(w io.Writer) *LineHost {
	return &LineHost{w: w}
}

func (h *LineHost) PostMessage(message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, message)
	return err
}

// Notifier shows a message to the user
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// LogNotifier reports user-visible messages through slog at warn level
type LogNotifier struct{}

func (LogNotifier) Notify(message string) {
	slog.Warn(message)
}
