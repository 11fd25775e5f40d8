package command

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/thermoctl/pkg/controller"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Request
	}{
		{"opcode only", "0", Request{Op: GetFilter, Channel: controller.All}},
		{"channel", "3,1", Request{Op: GetPID, Channel: 1}},
		{"all", "2,4", Request{Op: GetTarget, Channel: controller.All}},
		{"one param", "8,2,150.5\r\n", Request{Op: SetTarget, Channel: 2, Params: []float32{150.5}}},
		{"four params", "8,4,10,20,30,40", Request{Op: SetTarget, Channel: controller.All, Params: []float32{10, 20, 30, 40}}},
		{"spaces", " 9, 0, 15, 0.25, 20 ", Request{Op: SetPID, Channel: 0, Params: []float32{15, 0.25, 20}}},
		{"name", "get_timer,3", Request{Op: GetTimer, Channel: 3}},
		{"negative", "19,1,-1", Request{Op: SetTimeout, Channel: 1, Params: []float32{-1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"empty", "  ", ErrMalformed},
		{"unknown number", "99,0", ErrUnknownOpcode},
		{"unknown name", "reboot", ErrUnknownOpcode},
		{"bad channel", "1,x", ErrMalformed},
		{"channel range", "1,5", controller.ErrInvalidChannel},
		{"negative channel", "1,-1", controller.ErrInvalidChannel},
		{"bad param", "8,0,hot", ErrMalformed},
		{"too many tokens", "9,0,1,2,3,4,5", ErrMalformed},
		{"too long", "8,0," + strings.Repeat("1", 40), ErrLineTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.line)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestRequestString(t *testing.T) {
	req := Request{Op: SetPID, Channel: 1, Params: []float32{0.75, 0.01, 8}}
	assert.Equal(t, "9,1,0.75,0.01,8", req.String())

	back, err := Parse(req.String())
	require.NoError(t, err)
	assert.Equal(t, req, back)

	assert.Equal(t, "0,4", Request{Op: GetFilter, Channel: controller.All}.String())
}

func TestOpcodeNames(t *testing.T) {
	assert.Equal(t, "GET_FILTER", GetFilter.String())
	assert.Equal(t, "SET_K_FILTER_STATE", SetKFilterState.String())
	assert.Equal(t, "GET_ERROR", GetError.String())
	assert.EqualValues(t, 23, GetOutput)
	assert.Equal(t, "OP(42)", Opcode(42).String())
	assert.EqualValues(t, 15, GetSensorType)
	assert.EqualValues(t, 20, GetTimeout)

	for o := Opcode(0); o < numOpcodes; o++ {
		got, err := ParseOpcode(o.String())
		require.NoError(t, err)
		assert.Equal(t, o, got)
	}
}

func TestResponse(t *testing.T) {
	r := Response{Op: GetPID}
	r.addFloat(15, 0.25, 20)
	assert.Equal(t, "3,15,0.25,20", r.String())

	back, err := ParseResponse(r.String() + "\n")
	require.NoError(t, err)
	assert.Equal(t, r, back)
	vals, err := back.Floats()
	require.NoError(t, err)
	assert.Equal(t, []float32{15, 0.25, 20}, vals)

	types, err := ParseResponse("15,K,J,N,B")
	require.NoError(t, err)
	assert.Equal(t, []string{"K", "J", "N", "B"}, types.Fields)
	_, err = types.Floats()
	assert.Error(t, err)

	_, err = ParseResponse("ERR,unknown opcode: 99")
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "unknown opcode: 99", remote.Message)

	_, err = ParseResponse("WAITING-TYPES")
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestFormatError(t *testing.T) {
	err := errors.Wrap(ErrMissingParams, "SET_PID")
	assert.Equal(t, "ERR,SET_PID: missing parameters", FormatError(err))
}
