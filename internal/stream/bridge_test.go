package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petems/focusnote/internal/audio"
	"github.com/rs/zerolog"
)

type written struct {
	messageType int
	data        []byte
}

// fakeConn answers every binary window with the next scripted reply.
type fakeConn struct {
	mu      sync.Mutex
	writes  []written
	replies []string
	delay   time.Duration // before each reply is delivered
	inbox   chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn(replies ...string) *fakeConn {
	return &fakeConn{
		replies: replies,
		inbox:   make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}

	c.mu.Lock()
	w := written{messageType, append([]byte(nil), data...)}
	c.writes = append(c.writes, w)
	var reply string
	if messageType == websocket.BinaryMessage && len(c.replies) > 0 {
		reply, c.replies = c.replies[0], c.replies[1:]
	}
	c.mu.Unlock()

	switch {
	case reply == "":
	case c.delay > 0:
		go func() {
			time.Sleep(c.delay)
			c.inbox <- []byte(reply)
		}()
	default:
		c.inbox <- []byte(reply)
	}
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.inbox:
		return websocket.TextMessage, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) binaryWrites() []written {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []written
	for _, w := range c.writes {
		if w.messageType == websocket.BinaryMessage {
			out = append(out, w)
		}
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	dials atomic.Int32
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		if d.err != nil {
			return nil, d.err
		}
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

type flushCall struct {
	info audio.SessionInfo
	text string
}

type fakeFlusher struct {
	calls chan flushCall
}

func (f *fakeFlusher) Flush(_ context.Context, info audio.SessionInfo, text string) error {
	f.calls <- flushCall{info, text}
	return nil
}

// second returns one second of 16 kHz mono audio.
func second(session string) audio.Frame {
	return audio.Frame{
		Data:       make([]byte, 16000*2),
		SampleRate: 16000,
		Channels:   1,
		SessionID:  session,
	}
}

func transcription(text string) string {
	b, _ := json.Marshal(Message{Type: "transcription", Text: text})
	return string(b)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for i := 0; i < 400; i++ {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func runBridge(t *testing.T, b *Bridge) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("bridge did not stop")
		}
	}
}

func TestBridgeSendsWindowsAndCollectsText(t *testing.T) {
	conn := newFakeConn(transcription("hello there"), transcription("general kenobi"))
	queue := audio.NewQueue(100)
	flusher := &fakeFlusher{calls: make(chan flushCall, 1)}
	b := NewBridge(Config{
		Source:          queue,
		Dialer:          &fakeDialer{conns: []*fakeConn{conn}},
		Flusher:         flusher,
		Window:          2 * time.Second,
		ResponseTimeout: time.Second,
		Logger:          zerolog.Nop(),
	})
	stop := runBridge(t, b)
	defer stop()

	for i := 0; i < 4; i++ {
		queue.Offer(second("s1"))
	}
	waitFor(t, "two windows", func() bool { return len(conn.binaryWrites()) == 2 })
	waitFor(t, "second transcription", func() bool {
		return b.Transcripts().Current("s1") == "hello there general kenobi"
	})

	w := conn.binaryWrites()[0]
	if len(w.data) != MinSamples*4 {
		t.Errorf("window is %d bytes, want %d", len(w.data), MinSamples*4)
	}

	if err := b.OnRecordingStopped(audio.SessionInfo{ID: "s1"}); err != nil {
		t.Fatal(err)
	}
	select {
	case call := <-flusher.calls:
		if call.text != "hello there general kenobi" || call.info.ID != "s1" {
			t.Errorf("flushed %+v", call)
		}
	case <-time.After(time.Second):
		t.Fatal("transcript was not flushed")
	}
	if b.Transcripts().Last() != "hello there general kenobi" {
		t.Errorf("Last() = %q", b.Transcripts().Last())
	}
}

func TestBridgeTimeoutDoesNotDisconnect(t *testing.T) {
	conn := newFakeConn() // never replies
	queue := audio.NewQueue(100)
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	b := NewBridge(Config{
		Source:          queue,
		Dialer:          dialer,
		Window:          time.Second,
		ResponseTimeout: 20 * time.Millisecond,
		Logger:          zerolog.Nop(),
	})
	stop := runBridge(t, b)
	defer stop()

	queue.Offer(second("s1"))
	queue.Offer(second("s1"))
	waitFor(t, "both windows", func() bool { return len(conn.binaryWrites()) == 2 })

	if got := dialer.dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if !b.Connected() {
		t.Error("bridge should still be connected")
	}
}

func TestBridgeErrorReplyIsAnswer(t *testing.T) {
	conn := newFakeConn(`{"type":"error","message":"model busy"}`, transcription("ok"))
	queue := audio.NewQueue(100)
	b := NewBridge(Config{
		Source:          queue,
		Dialer:          &fakeDialer{conns: []*fakeConn{conn}},
		Window:          time.Second,
		ResponseTimeout: time.Second,
		Logger:          zerolog.Nop(),
	})
	stop := runBridge(t, b)
	defer stop()

	queue.Offer(second("s1"))
	queue.Offer(second("s1"))
	waitFor(t, "text after error", func() bool { return b.Transcripts().Current("s1") == "ok" })
}

func TestBridgeReconnects(t *testing.T) {
	first := newFakeConn()
	next := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, next}}
	b := NewBridge(Config{
		Source: audio.NewQueue(1),
		Dialer: dialer,
		Retry:  10 * time.Millisecond,
		Logger: zerolog.Nop(),
	})
	stop := runBridge(t, b)
	defer stop()

	waitFor(t, "first connection", func() bool { return dialer.dials.Load() == 1 && b.Connected() })
	first.Close()
	waitFor(t, "redial", func() bool { return dialer.dials.Load() == 2 })
}

func TestBridgeRetriesFailedDial(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	b := NewBridge(Config{
		Source: audio.NewQueue(1),
		Dialer: dialer,
		Retry:  5 * time.Millisecond,
		Logger: zerolog.Nop(),
	})
	stop := runBridge(t, b)
	waitFor(t, "several dial attempts", func() bool { return dialer.dials.Load() >= 3 })
	stop()
	if b.Connected() {
		t.Error("bridge reports a connection that never succeeded")
	}
}

func TestBridgeSendsPingWhenIdle(t *testing.T) {
	conn := newFakeConn()
	b := NewBridge(Config{
		Source:       audio.NewQueue(1),
		Dialer:       &fakeDialer{conns: []*fakeConn{conn}},
		PingInterval: time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	stop := runBridge(t, b)
	defer stop()

	waitFor(t, "ping", func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		for _, w := range conn.writes {
			if w.messageType == websocket.TextMessage && string(w.data) == `{"type":"ping"}` {
				return true
			}
		}
		return false
	})
}

func TestBridgeDropsFramesOfClosedSession(t *testing.T) {
	conn := newFakeConn(transcription("late"))
	queue := audio.NewQueue(100)
	b := NewBridge(Config{
		Source:          queue,
		Dialer:          &fakeDialer{conns: []*fakeConn{conn}},
		Window:          time.Second,
		ResponseTimeout: 50 * time.Millisecond,
		Logger:          zerolog.Nop(),
	})
	b.OnRecordingStopped(audio.SessionInfo{ID: "old"})
	stop := runBridge(t, b)
	defer stop()

	queue.Offer(second("old"))
	queue.Offer(second("new"))
	waitFor(t, "new session window", func() bool { return len(conn.binaryWrites()) == 1 })
	waitFor(t, "queue drained", func() bool { return queue.Len() == 0 })
	if got := b.Transcripts().Current("new"); got != "late" {
		t.Errorf("new session text = %q", got)
	}
}

func TestBridgeKeepsReplyThatArrivesAfterStop(t *testing.T) {
	conn := newFakeConn(transcription("see you tomorrow"), transcription("bye"))
	conn.delay = 150 * time.Millisecond
	queue := audio.NewQueue(100)
	flusher := &fakeFlusher{calls: make(chan flushCall, 1)}
	b := NewBridge(Config{
		Source:          queue,
		Dialer:          &fakeDialer{conns: []*fakeConn{conn}},
		Flusher:         flusher,
		Window:          time.Second,
		ResponseTimeout: time.Second,
		Logger:          zerolog.Nop(),
	})
	stop := runBridge(t, b)
	defer stop()

	waitFor(t, "connection", b.Connected)
	queue.Offer(second("s1"))
	half := second("s1")
	half.Data = half.Data[:16000]
	queue.Offer(half)
	waitFor(t, "first window", func() bool { return len(conn.binaryWrites()) == 1 })

	// The reply to the first window is still on its way.
	if err := b.OnRecordingStopped(audio.SessionInfo{ID: "s1"}); err != nil {
		t.Fatal(err)
	}
	if b.Transcripts().Closed("s1") {
		t.Fatal("transcript closed before the last window was answered")
	}

	select {
	case call := <-flusher.calls:
		if call.text != "see you tomorrow bye" {
			t.Errorf("flushed %q", call.text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transcript was not flushed")
	}

	writes := conn.binaryWrites()
	if len(writes) != 2 {
		t.Fatalf("sent %d windows, want 2", len(writes))
	}
	if len(writes[1].data) != MinSamples*4 {
		t.Errorf("trailing window is %d bytes, want %d", len(writes[1].data), MinSamples*4)
	}
}

func TestBridgeFlushesStoppedSessionOnShutdown(t *testing.T) {
	conn := newFakeConn() // never replies
	queue := audio.NewQueue(100)
	flusher := &fakeFlusher{calls: make(chan flushCall, 1)}
	b := NewBridge(Config{
		Source:          queue,
		Dialer:          &fakeDialer{conns: []*fakeConn{conn}},
		Flusher:         flusher,
		Window:          time.Second,
		ResponseTimeout: time.Minute,
		Logger:          zerolog.Nop(),
	})
	stop := runBridge(t, b)

	waitFor(t, "connection", b.Connected)
	queue.Offer(second("s1"))
	waitFor(t, "window", func() bool { return len(conn.binaryWrites()) == 1 })
	b.OnRecordingStopped(audio.SessionInfo{ID: "s1"})
	stop()

	select {
	case call := <-flusher.calls:
		if call.info.ID != "s1" {
			t.Errorf("flushed %+v", call)
		}
	case <-time.After(time.Second):
		t.Fatal("stopped session was not flushed on shutdown")
	}
}
