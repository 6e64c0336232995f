// Package notify delivers user-facing notifications (toasts) raised by the session and checkout flows.
package notify

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level is the severity of a notification
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a single toast
type Notification struct {
	Level   Level
	Title   string
	Message string
	At      time.Time
}

// Notifier receives notifications. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(n Notification)
}

// Send builds and delivers a notification; a nil Notifier drops it
func Send(n Notifier, level Level, title, message string) {
	if n == nil {
		return
	}
	n.Notify(Notification{Level: level, Title: title, Message: message, At: time.Now()})
}

// LogNotifier writes notifications to a zerolog logger
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger}
}

// Notify implements Notifier
func (l *LogNotifier) Notify(n Notification) {
	var ev *zerolog.Event
	switch n.Level {
	case LevelError:
		ev = l.log.Error()
	case LevelWarning:
		ev = l.log.Warn()
	default:
		ev = l.log.Info()
	}
	ev.Str("level_hint", string(n.Level)).Str("title", n.Title).Msg(n.Message)
}

// WriterNotifier prints one line per notification, e.g. for a terminal
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier creates a WriterNotifier
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

var levelMarks = map[Level]string{
	LevelInfo:    "i",
	LevelSuccess: "✓",
	LevelWarning: "!",
	LevelError:   "✗",
}

// Notify implements Notifier
func (wn *WriterNotifier) Notify(n Notification) {
	wn.mu.Lock()
	defer wn.mu.Unlock()
	if n.Message == "" {
		fmt.Fprintf(wn.w, "[%s] %s\n", levelMarks[n.Level], n.Title)
		return
	}
	fmt.Fprintf(wn.w, "[%s] %s: %s\n", levelMarks[n.Level], n.Title, n.Message)
}

// Multi fans a notification out to several notifiers
type Multi []Notifier

// Notify implements Notifier
func (m Multi) Notify(n Notification) {
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}

// Recorder keeps every notification in memory
type Recorder struct {
	mu  sync.Mutex
	all []Notification
}

// Notify implements Notifier
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, n)
}

// All returns a copy of the recorded notifications
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.all))
	copy(out, r.all)
	return out
}

// Levels returns the recorded levels in order
func (r *Recorder) Levels() []Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Level, len(r.all))
	for i, n := range r.all {
		out[i] = n.Level
	}
	return out
}
