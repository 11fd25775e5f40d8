package command

import (
	"time"

	"github.com/pkg/errors"

	"github.com/itohio/thermoctl/pkg/controller"
	"github.com/itohio/thermoctl/pkg/logging"
)

// Handler executes requests.
type Handler interface {
	Handle(Request) (Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Request) (Response, error)

func (f HandlerFunc) Handle(req Request) (Response, error) { return f(req) }

var _ Handler = (*Dispatcher)(nil)

// Dispatcher maps requests onto controller accessors. Getters reply one
// value group per addressed channel; setters reply with the values in effect
// after the change.
type Dispatcher struct {
	ctrl *controller.Controller
	log  logging.Logger
}

// NewDispatcher creates a dispatcher for ctrl.
func NewDispatcher(ctrl *controller.Controller, log logging.Logger) *Dispatcher {
	return &Dispatcher{ctrl: ctrl, log: logging.OrNop(log)}
}

// Handle executes req. It is not safe for concurrent use with Controller.Tick.
func (d *Dispatcher) Handle(req Request) (Response, error) {
	chans, err := d.ctrl.Select(req.Channel)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Op: req.Op}

	switch req.Op {
	case GetFilter:
		for _, ch := range chans {
			resp.addFloat(ch.Filtered())
		}
	case GetRaw:
		for _, ch := range chans {
			resp.addFloat(ch.Temperature())
		}
	case GetTarget:
		for _, ch := range chans {
			resp.addFloat(ch.Target())
		}
	case GetPID:
		for _, ch := range chans {
			resp.addFloat(ch.PID().Gains())
		}
	case GetInLimit:
		for _, ch := range chans {
			resp.addFloat(ch.PID().InputLimits())
		}
	case GetOutLimit:
		for _, ch := range chans {
			resp.addFloat(ch.PID().OutputLimits())
		}
	case GetABFilter:
		for _, ch := range chans {
			resp.addFloat(ch.AlphaBeta())
		}
	case GetKFilter:
		for _, ch := range chans {
			resp.addFloat(ch.Kalman())
		}
	case GetSensorType:
		for _, ch := range chans {
			resp.Fields = append(resp.Fields, ch.Sensor().String())
		}
	case GetEnable:
		for _, ch := range chans {
			resp.addBool(ch.Enabled())
		}
	case GetTimer:
		for _, ch := range chans {
			resp.addFloat(float32(d.ctrl.Timer(ch.ID()).Seconds()))
		}
	case GetTimeout:
		for _, ch := range chans {
			resp.addFloat(timeoutSeconds(ch.Timeout()))
		}
	case GetError:
		for _, ch := range chans {
			resp.Fields = append(resp.Fields, FormatFloat(float32(ch.TakeError())))
		}
	case GetOutput:
		for _, ch := range chans {
			resp.addFloat(ch.Output())
		}

	case SetTarget:
		if err := d.setTarget(req, chans); err != nil {
			return Response{}, err
		}
		return d.reply(req, GetTarget)
	case SetPID:
		p, err := params(req, 3)
		if err != nil {
			return Response{}, err
		}
		for _, ch := range chans {
			ch.PID().SetGains(p[0], p[1], p[2])
		}
		return d.reply(req, GetPID)
	case SetInLimit:
		p, err := params(req, 2)
		if err != nil {
			return Response{}, err
		}
		for _, ch := range chans {
			if err := ch.SetInputLimits(p[0], p[1]); err != nil {
				d.log.Warnw("input limits replaced", "channel", ch.ID(), "error", err)
			}
		}
		return d.reply(req, GetInLimit)
	case SetOutLimit:
		p, err := params(req, 2)
		if err != nil {
			return Response{}, err
		}
		for _, ch := range chans {
			ch.PID().SetOutputLimits(p[0], p[1])
		}
		return d.reply(req, GetOutLimit)
	case SetABFilter:
		p, err := params(req, 2)
		if err != nil {
			return Response{}, err
		}
		for _, ch := range chans {
			ch.SetAlphaBeta(p[0], p[1])
		}
		return d.reply(req, GetABFilter)
	case SetKFilter:
		p, err := params(req, 2)
		if err != nil {
			return Response{}, err
		}
		for _, ch := range chans {
			if err := ch.SetKalman(p[0], p[1]); err != nil {
				d.log.Warnw("kalman filter frozen", "channel", ch.ID(), "error", err)
			}
		}
		return d.reply(req, GetKFilter)
	case SetKFilterState:
		p, err := params(req, 1)
		if err != nil {
			return Response{}, err
		}
		for _, ch := range chans {
			ch.SetFilterState(p[0])
		}
		return d.reply(req, GetFilter)
	case Enable:
		if err := d.ctrl.Enable(req.Channel); err != nil {
			return Response{}, err
		}
		return d.reply(req, GetEnable)
	case Disable:
		if err := d.ctrl.Disable(req.Channel); err != nil {
			return Response{}, err
		}
		return d.reply(req, GetEnable)
	case SetTimeout:
		p, err := params(req, 1)
		if err != nil {
			return Response{}, err
		}
		for _, ch := range chans {
			ch.SetTimeout(time.Duration(float64(p[0]) * float64(time.Second)))
		}
		return d.reply(req, GetTimeout)

	default:
		return Response{}, errors.Wrapf(ErrUnknownOpcode, "%d", int(req.Op))
	}
	return resp, nil
}

// reply answers a setter with the matching getter under the setter opcode.
func (d *Dispatcher) reply(req Request, get Opcode) (Response, error) {
	resp, err := d.Handle(Request{Op: get, Channel: req.Channel})
	resp.Op = req.Op
	return resp, err
}

// setTarget accepts one target for every addressed channel, or one target per
// channel when addressing All.
func (d *Dispatcher) setTarget(req Request, chans []*controller.Channel) error {
	p, err := params(req, 1)
	if err != nil {
		return err
	}
	if len(chans) > 1 && len(p) >= len(chans) {
		for i, ch := range chans {
			ch.SetTarget(p[i])
		}
		return nil
	}
	for _, ch := range chans {
		ch.SetTarget(p[0])
	}
	return nil
}

func params(req Request, n int) ([]float32, error) {
	if len(req.Params) < n {
		return nil, errors.Wrapf(ErrMissingParams, "%s needs %d, got %d", req.Op, n, len(req.Params))
	}
	return req.Params, nil
}

// timeoutSeconds reports an unlimited timeout as -1.
func timeoutSeconds(d time.Duration) float32 {
	if d <= 0 {
		return -1
	}
	return float32(d.Seconds())
}
