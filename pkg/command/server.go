package command

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/itohio/thermoctl/pkg/logging"
)

// Server answers protocol lines read from a stream.
type Server struct {
	w   io.Writer
	r   *bufio.Reader
	h   Handler
	log logging.Logger
}

// NewServer creates a server reading requests from rw and writing replies
// back to it.
func NewServer(rw io.ReadWriter, h Handler, log logging.Logger) *Server {
	return &Server{
		w:   rw,
		r:   bufio.NewReader(rw),
		h:   h,
		log: logging.OrNop(log),
	}
}

// Handshake announces WAITING-TYPES, reads the sensor type line and passes it
// to setup. CALIBRATED is written once setup succeeds, an ERR reply otherwise.
func (s *Server) Handshake(setup func(types string) error) error {
	if err := s.writeLine(WaitingTypes); err != nil {
		return err
	}
	types, err := s.readLine()
	if err != nil {
		return errors.Wrap(err, "read sensor types")
	}
	if err := setup(types); err != nil {
		return multierr.Append(err, s.writeLine(FormatError(err)))
	}
	return s.writeLine(Calibrated)
}

// Serve answers requests until the stream ends or ctx is canceled. Cancellation
// is observed between lines.
func (s *Server) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := s.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "read request")
		}
		if line == "" {
			continue
		}
		if err := s.writeLine(s.answer(line)); err != nil {
			return err
		}
	}
}

func (s *Server) answer(line string) string {
	req, err := Parse(line)
	if err != nil {
		s.log.Warnw("bad request", "line", line, "error", err)
		return FormatError(err)
	}
	resp, err := s.h.Handle(req)
	if err != nil {
		s.log.Warnw("request failed", "op", req.Op, "channel", req.Channel, "error", err)
		return FormatError(err)
	}
	return resp.String()
}

// readLine returns the next line without its terminator. A final line
// without a terminator is returned before io.EOF.
func (s *Server) readLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *Server) writeLine(line string) error {
	_, err := io.WriteString(s.w, line+"\n")
	return errors.Wrap(err, "write reply")
}
