// Package link talks to a controller over its line protocol, either through
// a serial port or in process.
package link

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/itohio/thermoctl/pkg/command"
	"github.com/itohio/thermoctl/pkg/logging"
)

const (
	// DefaultBaudRate matches the firmware UART.
	DefaultBaudRate = 9600
	// DefaultTimeout bounds a request when the context has no deadline.
	DefaultTimeout = 2 * time.Second
	// DefaultSetupTimeout bounds the handshake, which includes calibration.
	DefaultSetupTimeout = 30 * time.Second

	lineBuffer = 16
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
)

// Device exchanges protocol lines with a controller.
type Device interface {
	// Setup answers the startup handshake with the sensor type letters.
	Setup(ctx context.Context, types string) error
	// Do sends req and waits for the reply with the same opcode.
	Do(ctx context.Context, req command.Request) (command.Response, error)
	Close() error
}

var (
	_ Device = (*Serial)(nil)
	_ Device = (*Local)(nil)
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "list serial ports")
	}

	result := make([]Port, 0, len(details))
	for _, d := range details {
		desc := d.Name
		if d.IsUSB {
			desc = d.Product
			if desc == "" {
				desc = d.Name
			}
			desc += " [" + d.VID + ":" + d.PID + "]"
		}
		result = append(result, Port{Name: d.Name, Description: desc})
	}
	return result, nil
}

// Serial is a Device on a byte stream, usually a serial port.
type Serial struct {
	port     string
	baudRate int
	timeout  time.Duration
	log      logging.Logger

	mu    sync.Mutex
	conn  io.ReadWriteCloser
	lines chan string
	done  chan struct{}
}

// New creates a Serial for port. Connect opens it.
func New(port string, baudRate int, log logging.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return &Serial{
		port:     port,
		baudRate: baudRate,
		timeout:  DefaultTimeout,
		log:      logging.OrNop(log),
	}
}

// NewStream creates a Serial already attached to rw.
func NewStream(rw io.ReadWriteCloser, log logging.Logger) *Serial {
	s := &Serial{
		timeout: DefaultTimeout,
		log:     logging.OrNop(log),
	}
	s.attach(rw)
	return s
}

// SetTimeout changes the reply timeout used when a context has no deadline.
func (s *Serial) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.timeout = d
	}
}

// Connect opens the serial port and starts reading lines.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return ErrAlreadyConnected
	}

	port, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return errors.Wrapf(err, "open serial port %s", s.port)
	}
	s.attach(port)
	s.log.Infow("connected", "port", s.port, "baud", s.baudRate)
	return nil
}

func (s *Serial) attach(rw io.ReadWriteCloser) {
	s.conn = rw
	s.lines = make(chan string, lineBuffer)
	s.done = make(chan struct{})
	go s.readLines(rw, s.lines, s.done)
}

// IsConnected returns whether the device is currently connected.
func (s *Serial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close closes the connection and stops reading lines.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	close(s.done)
	err := s.conn.Close()
	s.conn = nil
	return errors.Wrap(err, "close")
}

// readLines forwards non-empty lines until the stream ends.
func (s *Serial) readLines(r io.Reader, lines chan<- string, done <-chan struct{}) {
	defer close(lines)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case lines <- line:
		case <-done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-done:
		default:
			s.log.Warnw("read failed", "error", err)
		}
	}
}

// Setup waits for the handshake prompt, sends types and waits until the
// controller reports CALIBRATED. Without a deadline on ctx it waits at most
// DefaultSetupTimeout.
func (s *Serial) Setup(ctx context.Context, types string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := withTimeout(ctx, DefaultSetupTimeout)
	defer cancel()

	if err := s.await(ctx, command.WaitingTypes); err != nil {
		return err
	}
	if types == "" {
		types = "0"
	}
	if err := s.writeLine(types); err != nil {
		return err
	}
	return s.await(ctx, command.Calibrated)
}

// await skips lines until want arrives. ERR lines fail the wait.
func (s *Serial) await(ctx context.Context, want string) error {
	for {
		line, err := s.next(ctx)
		if err != nil {
			return errors.Wrapf(err, "waiting for %s", want)
		}
		if line == want {
			return nil
		}
		if strings.HasPrefix(line, command.ErrorTag+command.Delimiter) {
			_, err := command.ParseResponse(line)
			return err
		}
		s.log.Debugw("skipping line", "line", line, "want", want)
	}
}

// Do sends req and returns the first reply carrying its opcode. Lines left
// over from abandoned requests and unparsable lines are skipped.
func (s *Serial) Do(ctx context.Context, req command.Request) (command.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return command.Response{}, ErrNotConnected
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	s.drain()
	if err := s.writeLine(req.String()); err != nil {
		return command.Response{}, err
	}
	for {
		line, err := s.next(ctx)
		if err != nil {
			return command.Response{}, errors.Wrapf(err, "%s reply", req.Op)
		}
		resp, err := command.ParseResponse(line)
		var remote *command.RemoteError
		switch {
		case errors.As(err, &remote):
			return command.Response{}, err
		case err != nil:
			s.log.Debugw("skipping line", "line", line)
			continue
		case resp.Op != req.Op:
			s.log.Debugw("stale reply", "op", resp.Op, "want", req.Op)
			continue
		}
		return resp, nil
	}
}

func (s *Serial) next(ctx context.Context) (string, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			return "", io.ErrUnexpectedEOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Serial) drain() {
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return
			}
			s.log.Debugw("discarding line", "line", line)
		default:
			return
		}
	}
}

func (s *Serial) writeLine(line string) error {
	_, err := io.WriteString(s.conn, line+"\n")
	return errors.Wrap(err, "write request")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
