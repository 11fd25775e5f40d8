package main

import (
	"context"
	"fmt"

	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/thermoctl/pkg/controller"
)

// handleChannelToggle enables or disables the PID loop of one channel.
func handleChannelToggle(state *appState, ch controller.ChannelID) {
	if state.client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), state.cfg.Serial.Timeout)
	defer cancel()

	var err error
	if state.enabled[ch] {
		err = state.client.Disable(ctx, ch)
	} else {
		err = state.client.Enable(ctx, ch)
	}
	if err != nil {
		dialog.ShowError(fmt.Errorf("failed to toggle channel %d: %w", ch, err), state.window)
		return
	}

	// Optimistic update, the next status sample confirms it.
	state.enabled[ch] = !state.enabled[ch]
	updateChannelButtons(state)
}

// syncChannelButtons applies the enable flags reported by the controller.
// Must run on the UI thread.
func syncChannelButtons(state *appState, enabled [controller.NumChannels]bool) {
	if state.enabled == enabled {
		return
	}
	state.enabled = enabled
	updateChannelButtons(state)
}

func updateChannelButtons(state *appState) {
	for i, btn := range state.channelBtns {
		updateChannelButton(btn, state.enabled[i])
	}
}

func updateChannelButton(btn *widget.Button, isOn bool) {
	if isOn {
		btn.Importance = widget.HighImportance
	} else {
		btn.Importance = widget.MediumImportance
	}
	btn.Refresh()
}
