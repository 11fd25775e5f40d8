package link

import (
	"context"

	"github.com/itohio/thermoctl/pkg/command"
)

// Local is a Device backed by an in-process handler, usually a
// command.Runner driving a simulated controller.
type Local struct {
	h     command.Handler
	setup func(types string) error
}

// NewLocal creates a Local device. setup runs the handshake and may be nil.
func NewLocal(h command.Handler, setup func(types string) error) *Local {
	return &Local{h: h, setup: setup}
}

func (l *Local) Setup(ctx context.Context, types string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.setup == nil {
		return nil
	}
	return l.setup(types)
}

func (l *Local) Do(ctx context.Context, req command.Request) (command.Response, error) {
	if err := ctx.Err(); err != nil {
		return command.Response{}, err
	}
	return l.h.Handle(req)
}

func (l *Local) Close() error { return nil }
