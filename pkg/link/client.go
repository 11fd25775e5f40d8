package link

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/itohio/thermoctl/pkg/command"
	"github.com/itohio/thermoctl/pkg/controller"
	"github.com/itohio/thermoctl/pkg/logging"
)

// DefaultBufferSize is the default size of the status stream buffer.
const DefaultBufferSize = 100

// ErrShortReply is returned when a reply carries fewer values than requested.
var ErrShortReply = errors.New("short reply")

// Status is a snapshot of every channel.
type Status struct {
	Time     time.Time
	Filtered [controller.NumChannels]float32
	Raw      [controller.NumChannels]float32
	Target   [controller.NumChannels]float32
	Output   [controller.NumChannels]float32
	Enabled  [controller.NumChannels]bool
}

// Client wraps a Device with typed requests.
type Client struct {
	dev Device
	clk clock.Clock
	log logging.Logger
}

// NewClient creates a client for dev.
func NewClient(dev Device, clk clock.Clock, log logging.Logger) *Client {
	if clk == nil {
		clk = clock.New()
	}
	return &Client{dev: dev, clk: clk, log: logging.OrNop(log)}
}

// Device returns the underlying device.
func (c *Client) Device() Device { return c.dev }

// Close closes the device.
func (c *Client) Close() error { return c.dev.Close() }

// Setup runs the startup handshake.
func (c *Client) Setup(ctx context.Context, types string) error {
	return c.dev.Setup(ctx, types)
}

// Send parses a raw protocol line and sends it.
func (c *Client) Send(ctx context.Context, line string) (command.Response, error) {
	req, err := command.Parse(line)
	if err != nil {
		return command.Response{}, err
	}
	return c.dev.Do(ctx, req)
}

// Get requests op for ch and returns the numeric reply.
func (c *Client) Get(ctx context.Context, op command.Opcode, ch controller.ChannelID) ([]float32, error) {
	return c.Set(ctx, op, ch)
}

// Set sends op with params to ch and returns the values in effect afterwards.
func (c *Client) Set(ctx context.Context, op command.Opcode, ch controller.ChannelID, params ...float32) ([]float32, error) {
	resp, err := c.dev.Do(ctx, command.Request{Op: op, Channel: ch, Params: params})
	if err != nil {
		return nil, err
	}
	return resp.Floats()
}

// SensorTypes returns the sensor letters of every channel.
func (c *Client) SensorTypes(ctx context.Context) (string, error) {
	resp, err := c.dev.Do(ctx, command.Request{Op: command.GetSensorType, Channel: controller.All})
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		if f != "" {
			out = append(out, f[0])
		}
	}
	return string(out), nil
}

// SetTarget sets the target of ch, or of every channel for All.
func (c *Client) SetTarget(ctx context.Context, ch controller.ChannelID, target float32) error {
	_, err := c.Set(ctx, command.SetTarget, ch, target)
	return err
}

// SetTargets sets every channel target in one request.
func (c *Client) SetTargets(ctx context.Context, targets [controller.NumChannels]float32) error {
	_, err := c.Set(ctx, command.SetTarget, controller.All, targets[:]...)
	return err
}

// SetPID assigns the gains of ch.
func (c *Client) SetPID(ctx context.Context, ch controller.ChannelID, kp, ki, kd float32) error {
	_, err := c.Set(ctx, command.SetPID, ch, kp, ki, kd)
	return err
}

// Enable starts control of ch.
func (c *Client) Enable(ctx context.Context, ch controller.ChannelID) error {
	_, err := c.Set(ctx, command.Enable, ch)
	return err
}

// Disable stops control of ch.
func (c *Client) Disable(ctx context.Context, ch controller.ChannelID) error {
	_, err := c.Set(ctx, command.Disable, ch)
	return err
}

// SetTimeout limits how long ch stays enabled; non-positive durations remove
// the limit.
func (c *Client) SetTimeout(ctx context.Context, ch controller.ChannelID, d time.Duration) error {
	secs := float32(d.Seconds())
	if d <= 0 {
		secs = -1
	}
	_, err := c.Set(ctx, command.SetTimeout, ch, secs)
	return err
}

// Status polls filtered and raw temperatures, targets, outputs and enable
// flags of every channel.
func (c *Client) Status(ctx context.Context) (Status, error) {
	st := Status{Time: c.clk.Now()}
	for _, q := range []struct {
		op  command.Opcode
		dst *[controller.NumChannels]float32
	}{
		{command.GetFilter, &st.Filtered},
		{command.GetRaw, &st.Raw},
		{command.GetTarget, &st.Target},
		{command.GetOutput, &st.Output},
	} {
		if err := c.getAll(ctx, q.op, q.dst); err != nil {
			return Status{}, err
		}
	}
	var enabled [controller.NumChannels]float32
	if err := c.getAll(ctx, command.GetEnable, &enabled); err != nil {
		return Status{}, err
	}
	for i, v := range enabled {
		st.Enabled[i] = v != 0
	}
	return st, nil
}

func (c *Client) getAll(ctx context.Context, op command.Opcode, dst *[controller.NumChannels]float32) error {
	vals, err := c.Get(ctx, op, controller.All)
	if err != nil {
		return err
	}
	if len(vals) < len(dst) {
		return errors.Wrapf(ErrShortReply, "%s: %d values", op, len(vals))
	}
	copy(dst[:], vals)
	return nil
}

// Stream polls Status every period until ctx is canceled. Failed polls are
// logged and skipped; the channel is closed when polling stops.
func (c *Client) Stream(ctx context.Context, period time.Duration, bufSize int) <-chan Status {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	out := make(chan Status, bufSize)

	go func() {
		defer close(out)
		ticker := c.clk.Ticker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			st, err := c.Status(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warnw("status poll failed", "error", err)
				continue
			}
			select {
			case out <- st:
			case <-ctx.Done():
				return
			default:
				c.log.Warnw("status channel full, dropping sample")
			}
		}
	}()

	return out
}
