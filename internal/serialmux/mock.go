package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// MockSerialPort replays canned frames and records written commands.
type MockSerialPort struct {
	io.Reader
	mu      sync.Mutex
	written bytes.Buffer
	closeFn func() error
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.Write(p)
}

// Written returns everything written to the port so far.
func (m *MockSerialPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written.Bytes()...)
}

func (m *MockSerialPort) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	return nil
}

// NewMockSerialMux creates a SerialMux backed by a mock port that cycles
// through frames, emitting one every interval.
func NewMockSerialMux(frames [][]byte, interval time.Duration) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	done := make(chan struct{})
	var once sync.Once

	mockPort := &MockSerialPort{
		Reader: r,
		closeFn: func() error {
			once.Do(func() { close(done) })
			return r.Close()
		},
	}

	go func() {
		defer w.Close()
		if len(frames) == 0 {
			<-done
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i = (i + 1) % len(frames) {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := w.Write(frames[i]); err != nil {
					return
				}
			}
		}
	}()

	return NewSerialMux(mockPort)
}

// TestableSerialPort is a SerialPorter for tests. Frames are fed with Feed
// and writes are captured for Written. The exported error fields fail the
// next call of that kind once.
type TestableSerialPort struct {
	mu   sync.Mutex
	cond *sync.Cond
	in   bytes.Buffer
	out  bytes.Buffer

	ReadError  error
	WriteError error
	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool
	// BlockReads makes Read wait for Feed or Close instead of returning EOF
	// on an empty buffer.
	BlockReads bool
	Closed     bool
}

var errPortClosed = errors.New("serial port closed")

func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ReadError; err != nil {
		p.ReadError = nil
		return 0, err
	}
	for p.BlockReads && !p.Closed && p.in.Len() == 0 {
		p.cond.Wait()
	}
	if p.Closed {
		return 0, errPortClosed
	}
	return p.in.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Closed {
		return 0, errPortClosed
	}
	if err := p.WriteError; err != nil {
		p.WriteError = nil
		return 0, err
	}
	n, err := p.out.Write(b)
	if p.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return nil
}

// Feed queues bytes for Read. Frames may be split across calls.
func (p *TestableSerialPort) Feed(chunks ...[]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range chunks {
		p.in.Write(c)
	}
	p.cond.Broadcast()
}

// Written returns everything written to the port so far.
func (p *TestableSerialPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}
