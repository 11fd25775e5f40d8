package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/thermoctl/pkg/command"
	"github.com/itohio/thermoctl/pkg/config"
)

func TestOpenBoardSim(t *testing.T) {
	cfg := config.Default()
	cfg.Control.Average = 2

	b, err := openBoard(cfg, true, nil)
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.runner.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, b.Setup("KJTN"))

	req, err := command.Parse("15")
	require.NoError(t, err)
	resp, err := b.runner.Handle(req)
	require.NoError(t, err)
	assert.Equal(t, "15,K,J,T,N", resp.String())
}

func TestOpenHardwarePinCount(t *testing.T) {
	cfg := config.Default()
	cfg.Hardware.Pins = cfg.Hardware.Pins[:2]

	_, err := openBoard(cfg, false, nil)
	assert.ErrorContains(t, err, "need 4 actuator pins, got 2")
}
