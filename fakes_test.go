package braccio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.viam.com/rdk/logging"

	"braccio/anglestate"
	"braccio/joints"
	"braccio/kinematics"
)

// fakePort answers every complete command line with ack, unless silent.
type fakePort struct {
	mu       sync.Mutex
	written  []string
	partial  strings.Builder
	pending  []byte
	ack      string
	silent   bool
	writeErr error
	readErr  error
	timeout  time.Duration
	closed   bool
	flushed  int
}

func newFakePort() *fakePort {
	return &fakePort{ack: "OK\r\n", timeout: time.Millisecond}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.partial.Write(b)
	for {
		s := p.partial.String()
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			break
		}
		p.written = append(p.written, s[:i+1])
		p.partial.Reset()
		p.partial.WriteString(s[i+1:])
		if !p.silent {
			p.pending = append(p.pending, p.ack...)
		}
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	timeout := p.timeout
	p.mu.Unlock()

	// mirrors go.bug.st/serial: a read timeout is (0, nil)
	time.Sleep(timeout)
	return 0, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("already closed")
	}
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	p.flushed++
	return nil
}

func (p *fakePort) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func newTestController(t *testing.T, port *fakePort, timeout time.Duration) *BraccioController {
	t.Helper()
	return &BraccioController{
		port:    port,
		name:    "/dev/fake",
		timeout: timeout,
		logger:  logging.NewTestLogger(t),
	}
}

// newTestLink builds a link over a fake port with an in-memory store.
func newTestLink(t *testing.T, port *fakePort) *Link {
	t.Helper()
	return newTestLinkWithStore(t, port, anglestate.NewMemoryStore())
}

func newTestLinkWithStore(t *testing.T, port *fakePort, store anglestate.Store) *Link {
	t.Helper()
	logger := logging.NewTestLogger(t)
	controller := newTestController(t, port, time.Second)
	return &Link{
		Config: LinkConfig{
			Port:      "/dev/fake",
			Baudrate:  DefaultBaudrate,
			Timeout:   time.Second,
			StateFile: DisabledStateFile,
			Geometry:  kinematics.DefaultGeometry,
		},
		Controller: controller,
		Store:      store,
		Pipeline:   kinematics.NewPipeline(kinematics.DefaultGeometry, store, controller, logger),
	}
}

// fakeOpener counts opens and hands out controllers over fresh fake ports.
type fakeOpener struct {
	mu    sync.Mutex
	opens int
	fail  error
	ports []*fakePort
}

func (o *fakeOpener) open(ctx context.Context, link LinkConfig, logger logging.Logger) (*BraccioController, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.fail != nil {
		return nil, o.fail
	}
	port := newFakePort()
	o.ports = append(o.ports, port)
	return &BraccioController{port: port, name: link.Port, timeout: link.Timeout, logger: logger}, nil
}

// gatedStore is a MemoryStore whose first Load blocks until release is closed.
type gatedStore struct {
	*anglestate.MemoryStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MemoryStore: anglestate.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (s *gatedStore) Load() (joints.Vector, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStore.Load()
}
