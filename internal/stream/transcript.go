package stream

import (
	"strings"
	"sync"
)

// closedHistory is how many taken sessions are remembered for rejecting
// late text.
const closedHistory = 64

// Transcript accumulates transcription text per recording session. Text
// that arrives for a recently taken session is discarded.
type Transcript struct {
	mu     sync.Mutex
	open   map[string]*strings.Builder
	closed map[string]struct{}
	order  []string // taken sessions, oldest first
	last   string
}

func NewTranscript() *Transcript {
	return &Transcript{
		open:   make(map[string]*strings.Builder),
		closed: make(map[string]struct{}),
	}
}

// Append adds text to the session's transcript and reports whether it was kept.
func (t *Transcript) Append(session, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, done := t.closed[session]; done {
		return false
	}
	b, ok := t.open[session]
	if !ok {
		b = &strings.Builder{}
		t.open[session] = b
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(text)
	return true
}

// Take returns the session's text and closes it.
func (t *Transcript) Take(session string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.close(session)
	b, ok := t.open[session]
	if !ok {
		return ""
	}
	delete(t.open, session)
	text := b.String()
	if text != "" {
		t.last = text
	}
	return text
}

// close marks session taken, forgetting the oldest once closedHistory is
// exceeded. Callers hold mu.
func (t *Transcript) close(session string) {
	if _, ok := t.closed[session]; ok {
		return
	}
	t.closed[session] = struct{}{}
	t.order = append(t.order, session)
	if len(t.order) > closedHistory {
		delete(t.closed, t.order[0])
		t.order = t.order[1:]
	}
}

// Closed reports whether the session has been taken.
func (t *Transcript) Closed(session string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.closed[session]
	return ok
}

// Current returns the text gathered so far for session without closing it.
func (t *Transcript) Current(session string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.open[session]; ok {
		return b.String()
	}
	return ""
}

// Last is the most recently taken non-empty transcript.
func (t *Transcript) Last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
