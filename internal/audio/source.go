package audio

import (
	"sync"
	"time"
)

// pumpSource adapts a producer goroutine (blocking stream read, device
// callback, subprocess pipe) to Source. Frames are dropped when the
// consumer falls behind by more than depth frames.
type pumpSource struct {
	format  Format
	frames  chan []byte
	done    chan struct{}
	once    sync.Once
	closeFn func() error

	mu  sync.Mutex
	err error
}

func newPumpSource(format Format, depth int, closeFn func() error) *pumpSource {
	if depth < 1 {
		depth = 1
	}
	return &pumpSource{
		format:  format,
		frames:  make(chan []byte, depth),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}
}

// push hands a frame to the reader. It returns false once the source is closed.
func (s *pumpSource) push(b []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.frames <- b:
	default:
	}
	return true
}

// fail ends the source from the producer side.
func (s *pumpSource) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

func (s *pumpSource) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err is the producer error that ended the source, if any.
func (s *pumpSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *pumpSource) Format() Format { return s.format }

// Read returns the next frame. Frames buffered before the source ended
// are still delivered; after that a closed source fails at once.
func (s *pumpSource) Read(timeout time.Duration) ([]byte, error) {
	select {
	case b := <-s.frames:
		return b, nil
	default:
	}
	if s.closed() {
		return nil, ErrSourceClosed
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case b := <-s.frames:
		return b, nil
	case <-s.done:
		return nil, ErrSourceClosed
	case <-t.C:
		return nil, ErrNoData
	}
}

func (s *pumpSource) Close() error {
	s.once.Do(func() { close(s.done) })
	if s.closeFn == nil {
		return nil
	}
	fn := s.closeFn
	s.closeFn = nil
	return fn()
}

// chunker regroups arbitrarily sized callback buffers into fixed-size frames.
type chunker struct {
	size int
	buf  []byte
}

func newChunker(size int) *chunker {
	return &chunker{size: size, buf: make([]byte, 0, size*2)}
}

func (c *chunker) feed(b []byte, emit func([]byte)) {
	c.buf = append(c.buf, b...)
	for len(c.buf) >= c.size {
		frame := make([]byte, c.size)
		copy(frame, c.buf[:c.size])
		emit(frame)
		c.buf = append(c.buf[:0], c.buf[c.size:]...)
	}
}
