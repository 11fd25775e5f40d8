package command_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/thermoctl/pkg/command"
)

type pipe struct {
	io.Reader
	io.Writer
}

func newPipe(input string) (*pipe, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &pipe{Reader: strings.NewReader(input), Writer: out}, out
}

func lines(b *bytes.Buffer) []string {
	return strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
}

func TestServe(t *testing.T) {
	f := newFixture(t)
	rw, out := newPipe("3,0\r\n\n8,4,10,20,30,40\nbogus\n9,0,1\n15,2")
	srv := command.NewServer(rw, f.disp, nil)

	require.NoError(t, srv.Serve(context.Background()))
	assert.Equal(t, []string{
		"3,15,0.25,20",
		"8,10,20,30,40",
		`ERR,"bogus": unknown opcode`,
		"ERR,SET_PID needs 3, got 1: missing parameters",
		"15,N",
	}, lines(out))
}

func TestServeCanceled(t *testing.T) {
	f := newFixture(t)
	rw, out := newPipe("3,0\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := command.NewServer(rw, f.disp, nil).Serve(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, out.Len())
}

func TestHandshake(t *testing.T) {
	rw, out := newPipe("KJ\n2,0\n")
	var got string
	srv := command.NewServer(rw, command.HandlerFunc(func(req command.Request) (command.Response, error) {
		return command.Response{Op: req.Op, Fields: []string{"7"}}, nil
	}), nil)

	require.NoError(t, srv.Handshake(func(types string) error {
		got = types
		return nil
	}))
	require.NoError(t, srv.Serve(context.Background()))
	assert.Equal(t, "KJ", got)
	assert.Equal(t, []string{command.WaitingTypes, command.Calibrated, "2,7"}, lines(out))
}

func TestHandshakeSetupFailure(t *testing.T) {
	rw, out := newPipe("0\n")
	srv := command.NewServer(rw, command.HandlerFunc(nil), nil)

	err := srv.Handshake(func(string) error { return errors.New("calibrate adc: timeout") })
	assert.EqualError(t, err, "calibrate adc: timeout")
	assert.Equal(t, []string{command.WaitingTypes, "ERR,calibrate adc: timeout"}, lines(out))
}

func TestHandshakeNoTypes(t *testing.T) {
	rw, _ := newPipe("")
	srv := command.NewServer(rw, command.HandlerFunc(nil), nil)

	err := srv.Handshake(func(string) error { return nil })
	assert.True(t, errors.Is(err, io.EOF))
}
