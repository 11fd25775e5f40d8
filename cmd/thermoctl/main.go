// Command thermoctl runs the temperature controller on a Linux host and talks
// to controllers over serial lines.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.bug.st/serial"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/itohio/thermoctl/pkg/command"
	"github.com/itohio/thermoctl/pkg/config"
	"github.com/itohio/thermoctl/pkg/link"
	"github.com/itohio/thermoctl/pkg/logging"
)

const (
	flagConfig  = "config"
	flagLevel   = "level"
	flagSim     = "sim"
	flagPort    = "port"
	flagBaud    = "baud"
	flagTypes   = "types"
	flagTimeout = "timeout"
)

func main() {
	app := &cli.App{
		Name:  "thermoctl",
		Usage: "thermocouple temperature controller",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagLevel,
				Usage: "log level override (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the controller and serve the command protocol",
				Description: "Requests are read from --port, or from stdin when no port is given.\n" +
					"Replies go to the same port or to stdout. Logs are written to stderr.",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagSim,
						Value: true,
						Usage: "use the simulated ADC and plant instead of SPI hardware",
					},
					&cli.StringFlag{
						Name:    flagPort,
						Aliases: []string{"p"},
						Usage:   "serve on serial `PORT` instead of stdio",
					},
					&cli.IntFlag{
						Name:  flagBaud,
						Value: link.DefaultBaudRate,
						Usage: "serial baud rate",
					},
				},
				Action: runAction,
			},
			{
				Name:      "send",
				Usage:     "send protocol lines to a controller and print the replies",
				ArgsUsage: "LINE...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagPort,
						Aliases: []string{"p"},
						Usage:   "serial `PORT`, defaults to the configured one",
					},
					&cli.IntFlag{
						Name:  flagBaud,
						Usage: "serial baud rate, defaults to the configured one",
					},
					&cli.StringFlag{
						Name:  flagTypes,
						Usage: "run the startup handshake with sensor `TYPES` first",
					},
					&cli.DurationFlag{
						Name:  flagTimeout,
						Usage: "reply timeout, defaults to the configured one",
					},
				},
				Action: sendAction,
			},
			{
				Name:   "ports",
				Usage:  "list serial ports",
				Action: portsAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup(c *cli.Context, name string) (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if l := c.String(flagLevel); l != "" {
		level = l
	}
	logger, err := logging.New(name, level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runAction(c *cli.Context) error {
	cfg, logger, err := setup(c, "thermoctl")
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBoard(cfg, c.Bool(flagSim), logger)
	if err != nil {
		return err
	}

	stream, err := openStream(c.String(flagPort), c.Int(flagBaud))
	if err != nil {
		return multierr.Append(err, b.Close())
	}
	go func() {
		// unblocks a pending read
		<-ctx.Done()
		stream.Close()
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- b.runner.Run(ctx)
	}()

	srv := command.NewServer(stream, b.runner, logger)
	err = srv.Handshake(b.Setup)
	if err == nil {
		logger.Infow("serving", "port", c.String(flagPort))
		err = srv.Serve(ctx)
	}
	if ctx.Err() != nil {
		err = nil
	}

	stop()
	if rerr := <-runErr; !errors.Is(rerr, context.Canceled) {
		err = multierr.Append(err, rerr)
	}
	return multierr.Combine(err, b.Close())
}

// stdio serves the protocol on the process standard streams.
type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return os.Stdin.Close() }

func openStream(port string, baud int) (io.ReadWriteCloser, error) {
	if port == "" {
		return stdio{Reader: os.Stdin, Writer: os.Stdout}, nil
	}
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", port)
	}
	return p, nil
}

func sendAction(c *cli.Context) error {
	cfg, logger, err := setup(c, "thermoctl")
	if err != nil {
		return err
	}
	defer logger.Sync()

	if c.NArg() == 0 {
		return errors.New("no request lines given")
	}

	port := cfg.Serial.Port
	if p := c.String(flagPort); p != "" {
		port = p
	}
	baud := cfg.Serial.BaudRate
	if b := c.Int(flagBaud); b > 0 {
		baud = b
	}
	timeout := cfg.Serial.Timeout
	if d := c.Duration(flagTimeout); d > 0 {
		timeout = d
	}

	dev := link.New(port, baud, logger)
	dev.SetTimeout(timeout)
	if err := dev.Connect(); err != nil {
		return err
	}
	client := link.NewClient(dev, nil, logger)
	defer client.Close()

	if types := c.String(flagTypes); types != "" {
		ctx, cancel := context.WithTimeout(c.Context, link.DefaultSetupTimeout)
		err := client.Setup(ctx, types)
		cancel()
		if err != nil {
			return err
		}
	}

	for _, line := range c.Args().Slice() {
		resp, err := client.Send(c.Context, strings.TrimSpace(line))
		if err != nil {
			var remote *command.RemoteError
			if errors.As(err, &remote) {
				fmt.Fprintln(c.App.Writer, command.ErrorTag+command.Delimiter+remote.Message)
				continue
			}
			return err
		}
		fmt.Fprintln(c.App.Writer, resp.String())
	}
	return nil
}

func portsAction(c *cli.Context) error {
	ports, err := link.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		if p.Description != "" {
			fmt.Fprintf(c.App.Writer, "%s\t%s\n", p.Name, p.Description)
		} else {
			fmt.Fprintln(c.App.Writer, p.Name)
		}
	}
	return nil
}
