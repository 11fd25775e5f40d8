// Package command implements the line protocol of the controller: request
// parsing, the opcode dispatcher and the serial server loop.
package command

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/itohio/thermoctl/pkg/controller"
)

// Opcode selects a get or set operation.
type Opcode int

const (
	GetFilter Opcode = iota
	GetRaw
	GetTarget
	GetPID
	GetInLimit
	GetOutLimit
	GetABFilter
	GetKFilter
	SetTarget
	SetPID
	SetInLimit
	SetOutLimit
	SetABFilter
	SetKFilter
	SetKFilterState
	GetSensorType
	Enable
	Disable
	GetTimer
	SetTimeout
	GetTimeout
	GetEnable
	GetError
	GetOutput

	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	"GET_FILTER", "GET_RAW", "GET_TARGET", "GET_PID", "GET_IN_LIMIT", "GET_OUT_LIMIT",
	"GET_AB_FILTER", "GET_K_FILTER", "SET_TARGET", "SET_PID", "SET_IN_LIMIT", "SET_OUT_LIMIT",
	"SET_AB_FILTER", "SET_K_FILTER", "SET_K_FILTER_STATE", "GET_SENSOR_TYPE", "ENABLE",
	"DISABLE", "GET_TIMER", "SET_TIMEOUT", "GET_TIMEOUT", "GET_ENABLE", "GET_ERROR",
	"GET_OUTPUT",
}

// Valid reports whether o is a known opcode.
func (o Opcode) Valid() bool { return o >= 0 && o < numOpcodes }

func (o Opcode) String() string {
	if !o.Valid() {
		return "OP(" + strconv.Itoa(int(o)) + ")"
	}
	return opcodeNames[o]
}

// ParseOpcode accepts an opcode number or name.
func ParseOpcode(s string) (Opcode, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if o := Opcode(n); o.Valid() {
			return o, nil
		}
		return 0, errors.Wrapf(ErrUnknownOpcode, "%d", n)
	}
	name := strings.ToUpper(s)
	for i, n := range opcodeNames {
		if n == name {
			return Opcode(i), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownOpcode, "%q", s)
}

// Protocol limits.
const (
	Delimiter     = ","
	MaxTokens     = 6
	MaxLineLength = 40
	MaxParams     = MaxTokens - 2

	// ErrorTag starts an error reply.
	ErrorTag = "ERR"
	// Handshake lines of the startup sequence.
	WaitingTypes = "WAITING-TYPES"
	Calibrated   = "CALIBRATED"
)

var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrMalformed     = errors.New("malformed request")
	ErrLineTooLong   = errors.New("line too long")
	ErrMissingParams = errors.New("missing parameters")
)

// Request is one parsed command line: cmd,ch[,p1[,p2[,p3[,p4]]]].
type Request struct {
	Op      Opcode
	Channel controller.ChannelID
	Params  []float32
}

// Parse decodes a request line. The channel defaults to All when omitted.
func Parse(line string) (Request, error) {
	line = strings.TrimSpace(line)
	if len(line) > MaxLineLength {
		return Request{}, errors.Wrapf(ErrLineTooLong, "%d chars", len(line))
	}
	if line == "" {
		return Request{}, errors.Wrap(ErrMalformed, "empty line")
	}
	tokens := strings.Split(line, Delimiter)
	if len(tokens) > MaxTokens {
		return Request{}, errors.Wrapf(ErrMalformed, "%d tokens", len(tokens))
	}

	op, err := ParseOpcode(strings.TrimSpace(tokens[0]))
	if err != nil {
		return Request{}, err
	}
	req := Request{Op: op, Channel: controller.All}
	if len(tokens) > 1 {
		ch, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
		if err != nil {
			return Request{}, errors.Wrapf(ErrMalformed, "channel %q", tokens[1])
		}
		if ch < 0 || ch > int(controller.All) {
			return Request{}, errors.Wrapf(controller.ErrInvalidChannel, "%d", ch)
		}
		req.Channel = controller.ChannelID(ch)
	}
	for _, tok := range tokens[min(len(tokens), 2):] {
		v, err := strconv.ParseFloat(strings.TrimSpace(tok), 32)
		if err != nil {
			return Request{}, errors.Wrapf(ErrMalformed, "parameter %q", tok)
		}
		req.Params = append(req.Params, float32(v))
	}
	return req, nil
}

// String encodes the request as a protocol line without the terminator.
func (r Request) String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(r.Op)))
	b.WriteString(Delimiter)
	b.WriteString(strconv.Itoa(int(r.Channel)))
	for _, p := range r.Params {
		b.WriteString(Delimiter)
		b.WriteString(FormatFloat(p))
	}
	return b.String()
}

// Response is a reply: the opcode followed by values in channel order.
type Response struct {
	Op     Opcode
	Fields []string
}

// String encodes the reply without the terminator.
func (r Response) String() string {
	return strings.Join(append([]string{strconv.Itoa(int(r.Op))}, r.Fields...), Delimiter)
}

// Floats parses every field as a number.
func (r Response) Floats() ([]float32, error) {
	out := make([]float32, len(r.Fields))
	for i, f := range r.Fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "field %d %q", i, f)
		}
		out[i] = float32(v)
	}
	return out, nil
}

func (r *Response) addFloat(v ...float32) {
	for _, x := range v {
		r.Fields = append(r.Fields, FormatFloat(x))
	}
}

func (r *Response) addBool(v bool) {
	if v {
		r.Fields = append(r.Fields, "1")
	} else {
		r.Fields = append(r.Fields, "0")
	}
}

// RemoteError is an ERR reply.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "remote: " + e.Message }

// ParseResponse decodes a reply line. ERR replies yield a *RemoteError.
func ParseResponse(line string) (Response, error) {
	line = strings.TrimSpace(line)
	tokens := strings.Split(line, Delimiter)
	if tokens[0] == ErrorTag {
		return Response{}, &RemoteError{Message: strings.Join(tokens[1:], Delimiter)}
	}
	n, err := strconv.Atoi(tokens[0])
	if err != nil {
		return Response{}, errors.Wrapf(ErrMalformed, "reply %q", line)
	}
	return Response{Op: Opcode(n), Fields: tokens[1:]}, nil
}

// FormatError encodes an ERR reply.
func FormatError(err error) string {
	return ErrorTag + Delimiter + strings.ReplaceAll(err.Error(), "\n", " ")
}

// FormatFloat formats v with the fewest digits that parse back to v.
func FormatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}
