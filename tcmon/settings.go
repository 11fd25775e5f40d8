package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/thermoctl/pkg/controller"
	"github.com/itohio/thermoctl/pkg/link"
)

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createChannelsTab(state),
		createMonitorTab(state),
		createPlantTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

func saveConfig(state *appState) bool {
	if err := state.cfg.Save(state.cfgPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
		return false
	}
	return true
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	ports, err := link.Ports()
	portOptions := []string{}
	portMap := make(map[string]string) // display name -> port name

	if err == nil {
		for _, port := range ports {
			displayName := port.Name
			if port.Description != "" && port.Description != port.Name {
				displayName = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, displayName)
			portMap[displayName] = port.Name
		}
	} else {
		state.log.Warnw("failed to list serial ports", "error", err)
	}

	currentPort := state.cfg.Serial.Port
	currentDisplay := currentPort
	found := false
	for _, opt := range portOptions {
		if portMap[opt] == currentPort {
			currentDisplay = opt
			found = true
			break
		}
	}
	if !found && currentPort != "" {
		portOptions = append(portOptions, currentPort)
		portMap[currentPort] = currentPort
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if currentDisplay != "" {
		portSelect.SetSelected(currentDisplay)
	}

	baudEntry := widget.NewEntry()
	baudEntry.SetText(strconv.Itoa(state.cfg.Serial.BaudRate))

	timeoutEntry := widget.NewEntry()
	timeoutEntry.SetText(state.cfg.Serial.Timeout.String())

	typesEntry := widget.NewEntry()
	typesEntry.SetText(state.cfg.Control.Types)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baudEntry},
			{Text: "Reply Timeout", Widget: timeoutEntry},
			{Text: "Sensor Types", Widget: typesEntry, HintText: "e.g. KKJT, 0 keeps the board defaults"},
		},
		OnSubmit: func() {
			selectedPort := portMap[portSelect.Selected]
			if selectedPort == "" {
				selectedPort = portSelect.Selected
			}
			if baud, err := strconv.Atoi(baudEntry.Text); err == nil && baud > 0 {
				state.cfg.Serial.BaudRate = baud
			}
			if d, err := time.ParseDuration(timeoutEntry.Text); err == nil && d > 0 {
				state.cfg.Serial.Timeout = d
			}
			if typesEntry.Text != "" {
				state.cfg.Control.Types = typesEntry.Text
			}

			portChanged := selectedPort != "" && state.cfg.Serial.Port != selectedPort
			if selectedPort != "" {
				state.cfg.Serial.Port = selectedPort
			}
			if !saveConfig(state) {
				return
			}

			// Reconnect on the new port.
			if portChanged && state.chain != nil && !state.useSim {
				handleConnect(state)
				handleConnect(state)
			}
		},
	}

	return container.NewTabItem("Serial", form)
}

// createChannelsTab edits the target and PID gains of one channel. Changes
// are stored in the config and, when connected, sent to the controller.
func createChannelsTab(state *appState) *container.TabItem {
	options := make([]string, controller.NumChannels)
	for i := range options {
		options[i] = fmt.Sprintf("Channel %d", i)
	}

	targetEntry := widget.NewEntry()
	kpEntry := widget.NewEntry()
	kiEntry := widget.NewEntry()
	kdEntry := widget.NewEntry()
	timeoutEntry := widget.NewEntry()
	visibleCheck := widget.NewCheck("Show trace", nil)

	current := 0
	load := func(i int) {
		current = i
		row := state.cfg.Channels[i]
		targetEntry.SetText(fmt.Sprintf("%.1f", row.Target))
		kpEntry.SetText(fmt.Sprintf("%g", row.PID.Kp))
		kiEntry.SetText(fmt.Sprintf("%g", row.PID.Ki))
		kdEntry.SetText(fmt.Sprintf("%g", row.PID.Kd))
		timeoutEntry.SetText(row.Timeout.String())
		visibleCheck.SetChecked(state.scopeWidget.TraceVisible(i))
	}

	channelSelect := widget.NewSelect(options, func(selected string) {
		for i, opt := range options {
			if opt == selected {
				load(i)
				return
			}
		}
	})
	channelSelect.SetSelectedIndex(0)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Channel", Widget: channelSelect},
			{Text: "Target (°C)", Widget: targetEntry},
			{Text: "Kp", Widget: kpEntry},
			{Text: "Ki", Widget: kiEntry},
			{Text: "Kd", Widget: kdEntry},
			{Text: "Timeout (0=none)", Widget: timeoutEntry},
			{Text: "", Widget: visibleCheck},
		},
		OnSubmit: func() {
			row := &state.cfg.Channels[current]
			if v, err := strconv.ParseFloat(targetEntry.Text, 32); err == nil {
				row.Target = float32(v)
			}
			if v, err := strconv.ParseFloat(kpEntry.Text, 32); err == nil {
				row.PID.Kp = float32(v)
			}
			if v, err := strconv.ParseFloat(kiEntry.Text, 32); err == nil {
				row.PID.Ki = float32(v)
			}
			if v, err := strconv.ParseFloat(kdEntry.Text, 32); err == nil {
				row.PID.Kd = float32(v)
			}
			if d, err := time.ParseDuration(timeoutEntry.Text); err == nil && d >= 0 {
				row.Timeout = d
			}
			state.scopeWidget.SetTraceVisible(current, visibleCheck.Checked)

			if state.client != nil {
				if err := applyChannel(state, controller.ChannelID(current)); err != nil {
					dialog.ShowError(fmt.Errorf("failed to apply channel %d: %w", current, err), state.window)
				}
			}
			saveConfig(state)
		},
	}

	return container.NewTabItem("Channels", form)
}

// applyChannel sends the configured target, gains and timeout of ch.
func applyChannel(state *appState, ch controller.ChannelID) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*state.cfg.Serial.Timeout)
	defer cancel()

	row := state.cfg.Channels[ch]
	if err := state.client.SetTarget(ctx, ch, row.Target); err != nil {
		return err
	}
	if err := state.client.SetPID(ctx, ch, row.PID.Kp, row.PID.Ki, row.PID.Kd); err != nil {
		return err
	}
	return state.client.SetTimeout(ctx, ch, row.Timeout)
}

// createMonitorTab creates the Monitor configuration tab.
func createMonitorTab(state *appState) *container.TabItem {
	windowEntry := widget.NewEntry()
	windowEntry.SetText(state.cfg.Monitor.Window.String())

	pollEntry := widget.NewEntry()
	pollEntry.SetText(state.cfg.Monitor.Poll.String())

	yMinEntry := widget.NewEntry()
	yMinEntry.SetText(fmt.Sprintf("%.1f", state.cfg.Monitor.YMin))

	yMaxEntry := widget.NewEntry()
	yMaxEntry.SetText(fmt.Sprintf("%.1f", state.cfg.Monitor.YMax))

	bandEntry := widget.NewEntry()
	bandEntry.SetText(fmt.Sprintf("%.2f", state.cfg.Monitor.Band))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Window", Widget: windowEntry},
			{Text: "Poll Period", Widget: pollEntry, HintText: "applied on the next connect"},
			{Text: "Y Min (°C)", Widget: yMinEntry},
			{Text: "Y Max (°C)", Widget: yMaxEntry},
			{Text: "Settle Band (°C)", Widget: bandEntry},
		},
		OnSubmit: func() {
			if d, err := time.ParseDuration(windowEntry.Text); err == nil && d > 0 {
				state.cfg.Monitor.Window = d
			}
			if d, err := time.ParseDuration(pollEntry.Text); err == nil && d > 0 {
				state.cfg.Monitor.Poll = d
			}
			if v, err := strconv.ParseFloat(yMinEntry.Text, 64); err == nil {
				state.cfg.Monitor.YMin = v
			}
			if v, err := strconv.ParseFloat(yMaxEntry.Text, 64); err == nil {
				state.cfg.Monitor.YMax = v
			}
			if v, err := strconv.ParseFloat(bandEntry.Text, 64); err == nil && v > 0 {
				state.cfg.Monitor.Band = v
			}
			if !saveConfig(state) {
				return
			}
			state.recorder.SetLimits(state.cfg.Monitor.Window, float32(state.cfg.Monitor.Band))
			state.scopeWidget.SetRange(state.cfg.Monitor.Window, state.cfg.Monitor.YMin, state.cfg.Monitor.YMax)
		},
	}

	return container.NewTabItem("Monitor", form)
}

// createPlantTab configures the simulated thermal plant.
func createPlantTab(state *appState) *container.TabItem {
	ambientEntry := widget.NewEntry()
	ambientEntry.SetText(fmt.Sprintf("%.1f", state.cfg.Plant.Ambient))

	gainEntry := widget.NewEntry()
	gainEntry.SetText(fmt.Sprintf("%.1f", state.cfg.Plant.HeaterGain))

	tauEntry := widget.NewEntry()
	tauEntry.SetText(state.cfg.Plant.TimeConstant.String())

	noiseEntry := widget.NewEntry()
	noiseEntry.SetText(fmt.Sprintf("%.3f", state.cfg.Plant.NoiseLevel))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Ambient (°C)", Widget: ambientEntry},
			{Text: "Heater Gain (°C)", Widget: gainEntry},
			{Text: "Time Constant", Widget: tauEntry},
			{Text: "Noise (°C)", Widget: noiseEntry},
		},
		OnSubmit: func() {
			if v, err := strconv.ParseFloat(ambientEntry.Text, 32); err == nil {
				state.cfg.Plant.Ambient = float32(v)
			}
			if v, err := strconv.ParseFloat(gainEntry.Text, 32); err == nil {
				state.cfg.Plant.HeaterGain = float32(v)
			}
			if d, err := time.ParseDuration(tauEntry.Text); err == nil && d > 0 {
				state.cfg.Plant.TimeConstant = d
			}
			if v, err := strconv.ParseFloat(noiseEntry.Text, 32); err == nil && v >= 0 {
				state.cfg.Plant.NoiseLevel = float32(v)
			}
			saveConfig(state)
		},
	}

	return container.NewTabItem("Simulation", form)
}
