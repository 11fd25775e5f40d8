package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	"github.com/itohio/thermoctl/pkg/config"
	"github.com/itohio/thermoctl/pkg/controller"
	"github.com/itohio/thermoctl/pkg/link"
	"github.com/itohio/thermoctl/pkg/logging"
	"github.com/itohio/thermoctl/pkg/scope"
	"github.com/itohio/thermoctl/pkg/sim"
	"github.com/itohio/thermoctl/pkg/trace"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		simFlag    = flag.Bool("sim", false, "Use the simulated controller instead of a serial port")
		levelFlag  = flag.String("level", "", "Log level override (debug, info, warn, error)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *levelFlag != "" {
		cfg.Log.Level = *levelFlag
	}

	logger, err := logging.New("tcmon", cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	application := app.NewWithID("com.itohio.thermoctl")

	window := application.NewWindow("Thermocouple Controller")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:      cfg,
		cfgPath:  *configFlag,
		log:      logger,
		recorder: trace.New(cfg.Monitor.Window, float32(cfg.Monitor.Band)),
		window:   window,
		useSim:   *simFlag,
	}
	state.scopeWidget = scope.New(scope.Options{
		Window:    cfg.Monitor.Window,
		YMin:      cfg.Monitor.YMin,
		YMax:      cfg.Monitor.YMax,
		MaxPoints: cfg.Monitor.MaxPoints,
	})
	state.recorder.OnUpdate(state.onSnapshot)

	toolbar := createToolbar(state)

	content := container.NewBorder(
		toolbar,
		nil,
		nil,
		nil,
		state.scopeWidget,
	)

	window.SetContent(content)
	window.SetOnClosed(func() {
		closeMonitorChain(state.chain)
	})
	window.ShowAndRun()
}

// monitorChain tracks the goroutines of a connection for graceful shutdown.
type monitorChain struct {
	cancel  context.CancelFunc
	client  *link.Client
	rigDone chan struct{} // Closed when the simulated rig stops
	done    chan struct{} // Closed when setup and the status pipeline exit
}

// appState holds the application state.
type appState struct {
	cfg         *config.Config
	cfgPath     string
	log         *zap.SugaredLogger
	client      *link.Client
	recorder    *trace.Recorder
	scopeWidget *scope.Widget
	window      fyne.Window
	connectBtn  *widget.Button
	channelBtns [controller.NumChannels]*widget.Button
	useSim      bool
	enabled     [controller.NumChannels]bool
	chain       *monitorChain

	// Throttling for scope updates
	lastUpdateTime time.Time
	updateMu       sync.Mutex
}

// createToolbar creates the toolbar with Connect, Settings and one enable
// button per channel.
func createToolbar(state *appState) fyne.CanvasObject {
	connectBtn := widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})
	state.connectBtn = connectBtn

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	right := container.NewHBox()
	for i := range state.channelBtns {
		ch := controller.ChannelID(i)
		btn := widget.NewButtonWithIcon(fmt.Sprintf("CH%d", i), theme.MediaPlayIcon(), func() {
			handleChannelToggle(state, ch)
		})
		btn.Disable()
		state.channelBtns[i] = btn
		right.Add(btn)
	}

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(connectBtn, settingsBtn),
		right,
		nil,
	)
}

// openDevice opens the serial port or starts a simulated rig.
func openDevice(ctx context.Context, state *appState, rigDone chan struct{}) (link.Device, error) {
	if !state.useSim {
		close(rigDone)
		dev := link.New(state.cfg.Serial.Port, state.cfg.Serial.BaudRate, state.log)
		dev.SetTimeout(state.cfg.Serial.Timeout)
		if err := dev.Connect(); err != nil {
			return nil, err
		}
		return dev, nil
	}

	rig := sim.New(state.cfg, nil, state.log)
	go func() {
		defer close(rigDone)
		if err := rig.Run(ctx); err != nil && ctx.Err() == nil {
			state.log.Errorw("simulation stopped", "error", err)
		}
	}()
	return rig.Device(), nil
}

// closeMonitorChain stops polling, closes the device and waits for every
// goroutine of the chain to exit.
func closeMonitorChain(chain *monitorChain) {
	if chain == nil {
		return
	}
	chain.cancel()
	if chain.client != nil {
		chain.client.Close()
	}
	<-chain.done
	<-chain.rigDone
}

// handleConnect handles the connect/disconnect button click.
func handleConnect(state *appState) {
	if state.chain != nil {
		closeMonitorChain(state.chain)
		state.chain = nil
		state.client = nil
		state.enabled = [controller.NumChannels]bool{}
		for _, btn := range state.channelBtns {
			btn.Disable()
		}
		updateChannelButtons(state)
		state.log.Infow("disconnected", "sim", state.useSim)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	chain := &monitorChain{
		cancel:  cancel,
		rigDone: make(chan struct{}),
		done:    make(chan struct{}),
	}

	dev, err := openDevice(ctx, state, chain.rigDone)
	if err != nil {
		cancel()
		close(chain.done)
		dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", state.cfg.Serial.Port, err), state.window)
		return
	}
	chain.client = link.NewClient(dev, nil, state.log)
	state.client = chain.client
	state.chain = chain
	state.log.Infow("connected", "port", state.cfg.Serial.Port, "sim", state.useSim)

	// Setup waits for the board to calibrate, keep it off the UI thread.
	state.connectBtn.Disable()
	go runMonitorChain(ctx, state, chain)
}

// runMonitorChain performs the handshake and then feeds the status stream
// into the recorder until ctx is canceled.
func runMonitorChain(ctx context.Context, state *appState, chain *monitorChain) {
	defer close(chain.done)

	err := chain.client.Setup(ctx, state.cfg.Control.Types)
	fyne.Do(func() {
		state.connectBtn.Enable()
		if err != nil {
			return
		}
		for _, btn := range state.channelBtns {
			btn.Enable()
		}
	})
	if err != nil {
		if ctx.Err() == nil {
			state.log.Errorw("setup failed", "error", err)
			fyne.Do(func() {
				dialog.ShowError(fmt.Errorf("setup failed: %w", err), state.window)
			})
		}
		return
	}

	state.recorder.Reset()
	state.recorder.Process(chain.client.Stream(ctx, state.cfg.Monitor.Poll, 0))
}

// onSnapshot forwards recorder updates to the scope, throttled to ~60 FPS.
func (state *appState) onSnapshot(snap trace.Snapshot) {
	const updateInterval = 16 * time.Millisecond

	state.updateMu.Lock()
	now := time.Now()
	if now.Sub(state.lastUpdateTime) < updateInterval {
		state.updateMu.Unlock()
		return
	}
	state.lastUpdateTime = now
	state.updateMu.Unlock()

	fyne.Do(func() {
		state.scopeWidget.Update(snap)
		if n := len(snap.Samples); n > 0 {
			syncChannelButtons(state, snap.Samples[n-1].Enabled)
		}
	})
}
