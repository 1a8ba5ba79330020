// Package stream ships captured audio to the transcription server and
// collects the text it returns.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petems/focusnote/internal/audio"
	"github.com/petems/focusnote/internal/metrics"
	"github.com/petems/focusnote/internal/workerpool"
	"github.com/rs/zerolog"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	maxMessageSize   = 512 * 1024
	pollTimeout      = 100 * time.Millisecond
)

var ErrResponseTimeout = errors.New("stream: no response from transcription server")

// Message is a server reply. Type is "transcription", "error" or "pong".
type Message struct {
	Type      string  `json:"type"`
	Text      string  `json:"text,omitempty"`
	Start     float64 `json:"start,omitempty"`
	End       float64 `json:"end,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// Conn is the subset of *websocket.Conn the bridge uses.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct{}

func (WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// FrameSource is satisfied by *audio.Queue.
type FrameSource interface {
	Poll(ctx context.Context, timeout time.Duration) (audio.Frame, bool)
}

// Flusher receives a finished session's transcript.
type Flusher interface {
	Flush(ctx context.Context, info audio.SessionInfo, transcript string) error
}

type Dispatcher interface {
	Submit(task workerpool.Task) bool
}

type Config struct {
	URL         string
	Source      FrameSource
	Dialer      Dialer      // Optional - defaults to WSDialer
	Transcripts *Transcript // Optional - created if nil
	Flusher     Flusher     // Optional - nil discards finished transcripts
	Dispatcher  Dispatcher  // Optional - nil flushes on a new goroutine

	Window          time.Duration
	Retry           time.Duration
	ResponseTimeout time.Duration
	PingInterval    time.Duration

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Bridge is the always-on link between the capture queue and the
// transcription server.
type Bridge struct {
	url         string
	source      FrameSource
	dialer      Dialer
	transcripts *Transcript
	flusher     Flusher
	dispatch    Dispatcher
	metrics     *metrics.Metrics
	log         zerolog.Logger

	window          time.Duration
	retry           time.Duration
	responseTimeout time.Duration
	ping            time.Duration

	connected atomic.Bool

	mu      sync.Mutex
	pending []audio.SessionInfo // stopped, awaiting their last window
}

func NewBridge(cfg Config) *Bridge {
	if cfg.Dialer == nil {
		cfg.Dialer = WSDialer{}
	}
	if cfg.Transcripts == nil {
		cfg.Transcripts = NewTranscript()
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 5 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 30 * time.Second
	}

	return &Bridge{
		url:             cfg.URL,
		source:          cfg.Source,
		dialer:          cfg.Dialer,
		transcripts:     cfg.Transcripts,
		flusher:         cfg.Flusher,
		dispatch:        cfg.Dispatcher,
		metrics:         cfg.Metrics,
		log:             cfg.Logger.With().Str("component", "stream").Logger(),
		window:          cfg.Window,
		retry:           cfg.Retry,
		responseTimeout: cfg.ResponseTimeout,
		ping:            cfg.PingInterval,
	}
}

func (b *Bridge) Connected() bool { return b.connected.Load() }

func (b *Bridge) Transcripts() *Transcript { return b.transcripts }

// Run connects and serves until ctx is cancelled, reconnecting after a
// fixed delay whenever the connection fails.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		err := b.serve(ctx)

		b.mu.Lock()
		b.connected.Store(false)
		pending := b.pending
		b.pending = nil
		b.mu.Unlock()
		for _, info := range pending {
			b.finalize(info)
		}

		if ctx.Err() != nil {
			b.log.Info().Msg("Transcription bridge stopped")
			return nil
		}

		b.log.Warn().Err(err).Dur("retry", b.retry).Msg("Transcription connection lost, retrying")
		b.metrics.Reconnect()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.retry):
		}
	}
}

func (b *Bridge) serve(ctx context.Context) error {
	conn, err := b.dialer.Dial(ctx, b.url)
	if err != nil {
		return fmt.Errorf("dial %s: %w", b.url, err)
	}
	defer conn.Close()

	// Unblocks the reader on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	b.mu.Lock()
	b.connected.Store(true)
	b.mu.Unlock()
	b.log.Info().Str("server", b.url).Msg("Connected to transcription server")

	msgs := make(chan Message, 32)
	readErr := make(chan error, 1)
	go b.readLoop(conn, msgs, readErr)

	win := NewWindow(b.window)
	lastSent := time.Now()
	var lastSession string

	for {
		select {
		case err := <-readErr:
			return err
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		b.drain(msgs, lastSession)

		f, ok := b.source.Poll(ctx, pollTimeout)
		if !ok {
			if err := b.settle(ctx, conn, win, msgs, readErr, ""); err != nil {
				return err
			}
			if b.ping > 0 && time.Since(lastSent) >= b.ping {
				if err := b.write(conn, websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
					return fmt.Errorf("send ping: %w", err)
				}
				lastSent = time.Now()
			}
			continue
		}
		if err := b.settle(ctx, conn, win, msgs, readErr, f.SessionID); err != nil {
			return err
		}
		if b.transcripts.Closed(f.SessionID) {
			continue
		}
		if !win.Add(f) {
			continue
		}

		lastSession = win.Session()
		if err := b.send(ctx, conn, win, msgs, readErr); err != nil {
			return err
		}
		lastSent = time.Now()
	}
}

// send flushes the window to the server and waits for its reply. A reply
// timeout is logged, not returned.
func (b *Bridge) send(ctx context.Context, conn Conn, win *Window, msgs <-chan Message, readErr <-chan error) error {
	session := win.Session()
	seconds := win.Buffered().Seconds()
	payload := win.Flush()
	if err := b.write(conn, websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("send window: %w", err)
	}
	b.metrics.WindowSent()
	b.log.Debug().Str("session", session).Float64("seconds", seconds).Int("samples", len(payload)/4).Msg("Sent audio window")

	err := b.await(ctx, msgs, readErr, session)
	if errors.Is(err, ErrResponseTimeout) {
		b.metrics.ResponseTimeout()
		b.log.Warn().Dur("timeout", b.responseTimeout).Msg("Transcription timeout (server may be processing)")
		return nil
	}
	return err
}

// settle finalizes stopped sessions whose queued frames have all been
// consumed, sending any partial window they left behind first. keep is the
// session of the frame just polled, which may still have frames queued.
func (b *Bridge) settle(ctx context.Context, conn Conn, win *Window, msgs <-chan Message, readErr <-chan error, keep string) error {
	b.mu.Lock()
	var ready []audio.SessionInfo
	rest := b.pending[:0]
	for _, info := range b.pending {
		if info.ID == keep {
			rest = append(rest, info)
		} else {
			ready = append(ready, info)
		}
	}
	b.pending = rest
	b.mu.Unlock()

	var err error
	for _, info := range ready {
		if err == nil && win.Session() == info.ID && win.Buffered() > 0 {
			err = b.send(ctx, conn, win, msgs, readErr)
		}
		b.finalize(info)
	}
	return err
}

func (b *Bridge) write(conn Conn, messageType int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, data)
}

// await waits for the reply to the window just sent.
func (b *Bridge) await(ctx context.Context, msgs <-chan Message, readErr <-chan error, session string) error {
	timer := time.NewTimer(b.responseTimeout)
	defer timer.Stop()

	for {
		select {
		case m := <-msgs:
			if b.handle(m, session) {
				return nil
			}
		case err := <-readErr:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrResponseTimeout
		}
	}
}

// drain handles replies that arrived outside await, such as the extra
// segments of a multi-segment transcription.
func (b *Bridge) drain(msgs <-chan Message, session string) {
	for {
		select {
		case m := <-msgs:
			b.handle(m, session)
		default:
			return
		}
	}
}

// handle reports whether m answers a sent window.
func (b *Bridge) handle(m Message, session string) bool {
	switch m.Type {
	case "transcription":
		if session != "" && b.transcripts.Append(session, m.Text) {
			b.metrics.Transcription()
			b.log.Debug().Str("session", session).Str("text", m.Text).Msg("Transcription")
		}
		return true
	case "error":
		b.log.Warn().Str("message", m.Message).Msg("Transcription server error")
		return true
	case "pong":
		b.log.Trace().Msg("Pong")
		return false
	default:
		b.log.Debug().Str("type", m.Type).Msg("Ignoring unknown message")
		return false
	}
}

func (b *Bridge) readLoop(conn Conn, msgs chan<- Message, readErr chan<- error) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			b.log.Warn().Err(err).Msg("Malformed message from transcription server")
			continue
		}

		select {
		case msgs <- m:
		default:
			b.log.Warn().Str("type", m.Type).Msg("Message backlog full, dropping")
		}
	}
}

// OnRecordingStopped marks the session finished. While connected, the
// transcript is closed once the session's last window has been answered;
// otherwise it is closed at once.
func (b *Bridge) OnRecordingStopped(info audio.SessionInfo) error {
	b.mu.Lock()
	if b.connected.Load() {
		b.pending = append(b.pending, info)
		b.mu.Unlock()
		b.log.Debug().Str("session", info.ID).Msg("Session stopped, waiting for its last window")
		return nil
	}
	b.mu.Unlock()
	return b.finalize(info)
}

// finalize closes the session's transcript and hands it to the flusher off
// the caller's goroutine.
func (b *Bridge) finalize(info audio.SessionInfo) error {
	text := b.transcripts.Take(info.ID)
	b.log.Info().Str("session", info.ID).Int("chars", len(text)).Msg("Session transcript closed")
	if b.flusher == nil {
		return nil
	}

	task := func() {
		if err := b.flusher.Flush(context.Background(), info, text); err != nil {
			b.log.Error().Err(err).Str("session", info.ID).Msg("Transcript flush failed")
		}
	}
	if b.dispatch == nil {
		go task()
		return nil
	}
	if !b.dispatch.Submit(task) {
		err := fmt.Errorf("flush of session %s rejected", info.ID)
		b.log.Error().Err(err).Msg("Transcript flush not scheduled")
		return err
	}
	return nil
}
