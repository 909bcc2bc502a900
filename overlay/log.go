// Package overlay keeps the visual chat log shown to overlay viewers and serves
// the overlay page.
package overlay

import (
	"sync"

	"github.com/onnwee/anonchat/chat"
	"github.com/onnwee/anonchat/telemetry"
)

const (
	// DefaultHistory is the number of lines kept for viewers that join late.
	DefaultHistory = 200
	// subscriberBuffer is how many lines a viewer may lag before it is evicted.
	subscriberBuffer = 64
)

// Line is one rendered record with its position in the log.
type Line struct {
	Seq uint64 `json:"seq"`
	chat.DisplayRecord
}

// Log is an append-only chat log with bounded history and live subscribers.
// It implements chat.Renderer and is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	max     int
	seq     uint64
	lines   []Line
	subs    map[*Subscription]struct{}
	bufSize int
}

// NewLog returns a log keeping the last history lines. Non-positive history
// uses DefaultHistory.
func NewLog(history int) *Log {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Log{
		max:     history,
		subs:    make(map[*Subscription]struct{}),
		bufSize: subscriberBuffer,
	}
}

// Render appends rec after every previously rendered record and pushes it to
// subscribers. A subscriber whose buffer is full is closed instead of skipping
// the line, so every viewer sees an ordered gap-free tail.
func (l *Log) Render(rec chat.DisplayRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	line := Line{Seq: l.seq, DisplayRecord: rec}
	l.lines = append(l.lines, line)
	if over := len(l.lines) - l.max; over > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(l.lines, l.lines[over:])
		clear(l.lines[n:])
		l.lines = l.lines[:n]
	}
	telemetry.Inc(telemetry.MessagesRendered)

	for s := range l.subs {
		select {
		case s.ch <- line:
		default:
			l.dropLocked(s)
			telemetry.Inc(telemetry.ViewersEvicted)
		}
	}
}

// Snapshot returns a copy of the retained lines, oldest first.
func (l *Log) Snapshot() []Line {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Line(nil), l.lines...)
}

// Subscribe returns the current history together with a subscription that
// receives every line rendered after it. No line falls between the two.
func (l *Log) Subscribe() ([]Line, *Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan Line, l.bufSize)
	s := &Subscription{C: ch, ch: ch, log: l}
	l.subs[s] = struct{}{}
	telemetry.AddGauge(telemetry.OverlayViewers, 1)
	return append([]Line(nil), l.lines...), s
}

// Reset clears the history and closes every subscription so viewers reload
// an empty log. Sequence numbers keep increasing across resets.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.lines)
	l.lines = l.lines[:0]
	for s := range l.subs {
		l.dropLocked(s)
	}
}

// Viewers reports the number of open subscriptions.
func (l *Log) Viewers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

func (l *Log) dropLocked(s *Subscription) {
	if _, ok := l.subs[s]; !ok {
		return
	}
	delete(l.subs, s)
	close(s.ch)
	telemetry.AddGauge(telemetry.OverlayViewers, -1)
}

// Subscription delivers lines on C until it is closed, either by Close or by
// the log evicting a viewer that fell behind.
type Subscription struct {
	C   <-chan Line
	ch  chan Line
	log *Log
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	s.log.dropLocked(s)
}
