// Package scope draws recorded controller traces as a fyne widget.
package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/thermoctl/pkg/link"
	"github.com/itohio/thermoctl/pkg/trace"
)

// Colors of the channel traces.
var Colors = [trace.N]color.RGBA{
	{R: 255, G: 165, B: 0, A: 255},
	{R: 100, G: 200, B: 255, A: 255},
	{R: 120, G: 220, B: 120, A: 255},
	{R: 230, G: 110, B: 200, A: 255},
}

// Options configures the axes of a Widget.
type Options struct {
	Window    time.Duration // minimum visible time span
	YMin      float64       // lower temperature bound always visible
	YMax      float64       // upper temperature bound always visible
	MaxPoints int
}

// Widget is a custom Fyne widget that plots channel temperatures, targets
// and outputs.
type Widget struct {
	widget.BaseWidget

	opts Options

	mu      sync.RWMutex
	samples []link.Status
	settled [trace.N]time.Time
	visible [trace.N]bool

	yMin, yMax float64
	xMin, xMax time.Time
}

// New creates a new Widget instance.
func New(opts Options) *Widget {
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = 1000
	}
	if opts.Window <= 0 {
		opts.Window = 10 * time.Second
	}
	s := &Widget{
		opts:    opts,
		samples: make([]link.Status, 0, opts.MaxPoints),
		visible: [trace.N]bool{true, true, true, true},
	}
	s.ExtendBaseWidget(s)
	s.updateAutoScale()
	return s
}

// SetTraceVisible shows or hides the trace of channel ch.
func (s *Widget) SetTraceVisible(ch int, visible bool) {
	if ch < 0 || ch >= trace.N {
		return
	}
	s.mu.Lock()
	s.visible[ch] = visible
	s.updateAutoScale()
	s.mu.Unlock()
	s.Refresh()
}

// TraceVisible reports whether the trace of channel ch is drawn.
func (s *Widget) TraceVisible(ch int) bool {
	if ch < 0 || ch >= trace.N {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible[ch]
}

// SetRange changes the minimum visible time span and temperature bounds.
func (s *Widget) SetRange(window time.Duration, yMin, yMax float64) {
	s.mu.Lock()
	if window > 0 {
		s.opts.Window = window
	}
	s.opts.YMin, s.opts.YMax = yMin, yMax
	s.updateAutoScale()
	s.mu.Unlock()
	s.Refresh()
}

// Update replaces the plotted data. Call it on the fyne goroutine, for
// example through fyne.Do from a recorder callback.
func (s *Widget) Update(snap trace.Snapshot) {
	s.mu.Lock()
	s.samples = trace.Downsample(s.samples, snap.Samples, s.opts.MaxPoints)
	s.settled = snap.Settled
	s.updateAutoScale()
	s.mu.Unlock()

	s.Refresh()
}

// updateAutoScale calculates the axes from the visible data.
func (s *Widget) updateAutoScale() {
	s.yMin, s.yMax = axisRange(s.samples, s.visible, s.opts.YMin, s.opts.YMax)

	if len(s.samples) == 0 {
		s.xMin = time.Now()
		s.xMax = s.xMin.Add(s.opts.Window)
		return
	}
	s.xMin = s.samples[0].Time
	s.xMax = s.samples[len(s.samples)-1].Time
	if s.xMax.Sub(s.xMin) < s.opts.Window {
		s.xMax = s.xMin.Add(s.opts.Window)
	}
}

// axisRange returns the temperature axis covering [lo, hi], every visible
// filtered temperature and target, with a 10% margin.
func axisRange(samples []link.Status, visible [trace.N]bool, lo, hi float64) (float64, float64) {
	yMin, yMax := lo, hi
	for _, st := range samples {
		for ch := range visible {
			if !visible[ch] {
				continue
			}
			for _, v := range [2]float64{float64(st.Filtered[ch]), float64(st.Target[ch])} {
				yMin = min(yMin, v)
				yMax = max(yMax, v)
			}
		}
	}
	span := yMax - yMin
	if span == 0 {
		span = 1
	}
	margin := span * 0.1
	return yMin - margin, yMax + margin
}

// CreateRenderer creates the widget renderer.
func (s *Widget) CreateRenderer() fyne.WidgetRenderer {
	bg := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &renderer{
		scope:   s,
		bg:      bg,
		objects: []fyne.CanvasObject{bg},
	}
}
