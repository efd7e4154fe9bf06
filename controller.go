package braccio

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/rdk/logging"

	"braccio/joints"
)

// ErrActuatorTransport is returned when a command could not be delivered to the
// Braccio or was not acknowledged in time.
var ErrActuatorTransport = errors.New("actuator transport failure")

// readPoll bounds a single blocking read so cancellation and the acknowledgment
// deadline are noticed promptly.
const readPoll = 100 * time.Millisecond

// serialPort is the subset of serial.Port the controller uses.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

var openSerialPort = func(name string, baudrate int) (serialPort, error) {
	mode := &serial.Mode{
		BaudRate: baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(name, mode)
}

// BraccioController talks to the Braccio sketch over a serial line. Each command is a
// single "P..." line answered by one acknowledgment line.
type BraccioController struct {
	port    serialPort
	name    string
	timeout time.Duration
	logger  logging.Logger

	mu      sync.Mutex
	pending []byte
	lastAck string
	closed  bool
}

// NewBraccioController opens the port and waits for the board to finish its
// auto-reset before accepting commands.
func NewBraccioController(ctx context.Context, link LinkConfig, logger logging.Logger) (*BraccioController, error) {
	port, err := openSerialPort(link.Port, link.Baudrate)
	if err != nil {
		return nil, errors.Wrapf(ErrActuatorTransport, "failed to open serial port %s: %v", link.Port, err)
	}

	c := &BraccioController{
		port:    port,
		name:    link.Port,
		timeout: link.Timeout,
		logger:  logger,
	}

	if link.SettleTime > 0 {
		logger.Debugf("waiting %s for %s to settle", link.SettleTime, link.Port)
		select {
		case <-ctx.Done():
			port.Close()
			return nil, ctx.Err()
		case <-time.After(link.SettleTime):
		}
	}

	// drop whatever the sketch printed while booting
	if err := port.ResetInputBuffer(); err != nil {
		logger.Debugf("failed to flush input on %s: %v", link.Port, err)
	}

	logger.Infof("Braccio link open on %s at %d baud", link.Port, link.Baudrate)
	return c, nil
}

// Send writes cmd and blocks until the acknowledgment line arrives, the timeout
// elapses or ctx is done. Failures wrap ErrActuatorTransport and are never retried.
func (c *BraccioController) Send(ctx context.Context, cmd joints.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.Wrap(ErrActuatorTransport, "controller closed")
	}

	line := cmd.Encode()
	c.logger.Debugf("-> %s", strings.TrimSpace(line))
	if _, err := io.WriteString(c.port, line); err != nil {
		return errors.Wrapf(ErrActuatorTransport, "writing to %s: %v", c.name, err)
	}

	ack, err := c.readLine(ctx)
	if err != nil {
		return err
	}
	c.lastAck = ack
	c.logger.Debugf("<- %s", ack)
	return nil
}

// LastAck returns the most recent acknowledgment line.
func (c *BraccioController) LastAck() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAck
}

func (c *BraccioController) readLine(ctx context.Context) (string, error) {
	deadline := time.Now().Add(c.timeout)
	buf := make([]byte, 64)

	for {
		if i := bytes.IndexByte(c.pending, '\n'); i >= 0 {
			line := strings.TrimRight(string(c.pending[:i]), "\r")
			c.pending = append(c.pending[:0], c.pending[i+1:]...)
			return line, nil
		}

		if err := ctx.Err(); err != nil {
			return "", errors.Wrapf(ErrActuatorTransport, "waiting for acknowledgment: %v", err)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", errors.Wrapf(ErrActuatorTransport, "no acknowledgment from %s within %s", c.name, c.timeout)
		}

		if err := c.port.SetReadTimeout(min(remaining, readPoll)); err != nil {
			return "", errors.Wrapf(ErrActuatorTransport, "setting read timeout: %v", err)
		}
		n, err := c.port.Read(buf)
		c.pending = append(c.pending, buf[:n]...)
		if err != nil {
			return "", errors.Wrapf(ErrActuatorTransport, "reading from %s: %v", c.name, err)
		}
	}
}

// Close closes the serial port.
func (c *BraccioController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.port.Close()
}
