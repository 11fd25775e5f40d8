package scope

import (
	"image/color"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"

	"github.com/itohio/thermoctl/pkg/link"
	"github.com/itohio/thermoctl/pkg/trace"
)

var (
	gridColor  = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor = color.RGBA{R: 150, G: 150, B: 150, A: 255}
)

const (
	marginLeft   = 60
	marginRight  = 20
	marginTop    = 20
	marginBottom = 40
	outputHeight = 40 // strip below the temperature plot
)

type renderer struct {
	scope *Widget

	bg      *canvas.Rectangle
	objects []fyne.CanvasObject

	lastSize fyne.Size
}

// plot maps samples onto a rectangle of the widget.
type plot struct {
	x, y, w, h float32
	yMin, yMax float64
	xMin, xMax time.Time
}

func (p plot) px(t time.Time) float32 {
	span := p.xMax.Sub(p.xMin).Seconds()
	if span <= 0 {
		return p.x
	}
	return p.x + float32(t.Sub(p.xMin).Seconds()/span)*p.w
}

func (p plot) py(v float64) float32 {
	return p.y + p.h - float32((v-p.yMin)/(p.yMax-p.yMin))*p.h
}

func (r *renderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

func (r *renderer) Layout(size fyne.Size) {
	r.bg.Resize(size)
	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

func (r *renderer) Refresh() {
	s := r.scope
	s.mu.RLock()
	samples := s.samples
	settled := s.settled
	visible := s.visible
	p := plot{yMin: s.yMin, yMax: s.yMax, xMin: s.xMin, xMax: s.xMax}
	s.mu.RUnlock()

	size := s.Size()
	r.objects = []fyne.CanvasObject{r.bg}
	if size.Width == 0 || size.Height == 0 {
		return
	}

	p.x, p.y = marginLeft, marginTop
	p.w = size.Width - marginLeft - marginRight
	p.h = size.Height - marginTop - marginBottom - outputHeight
	if p.w <= 0 || p.h <= 0 {
		return
	}

	r.drawGrid(p)
	for ch := range visible {
		if !visible[ch] || len(samples) < 2 {
			continue
		}
		r.drawTarget(p, samples, ch)
		r.drawTemperature(p, samples, ch)
		r.drawOutput(p, samples, ch)
		if !settled[ch].IsZero() {
			r.drawSettled(p, settled[ch], ch)
		}
	}
}

func (r *renderer) drawGrid(p plot) {
	const rows, cols = 8, 10
	for i := 0; i < rows+1; i++ {
		y := p.y + float32(i)*p.h/rows
		r.line(gridColor, 1, fyne.NewPos(p.x, y), fyne.NewPos(p.x+p.w, y))
		v := p.yMax - float64(i)*(p.yMax-p.yMin)/rows
		r.text(formatTemp(v), fyne.TextAlignTrailing, fyne.NewPos(p.x-5, y-6))
	}
	span := p.xMax.Sub(p.xMin)
	for i := 0; i < cols+1; i++ {
		x := p.x + float32(i)*p.w/cols
		r.line(gridColor, 1, fyne.NewPos(x, p.y), fyne.NewPos(x, p.y+p.h))
		r.text(formatTime(span*time.Duration(i)/cols), fyne.TextAlignCenter,
			fyne.NewPos(x-20, p.y+p.h+outputHeight+5))
	}
}

func (r *renderer) drawTemperature(p plot, samples []link.Status, ch int) {
	for i := 0; i < len(samples)-1; i++ {
		a, b := samples[i], samples[i+1]
		r.line(Colors[ch], 1.5,
			fyne.NewPos(p.px(a.Time), p.py(float64(a.Filtered[ch]))),
			fyne.NewPos(p.px(b.Time), p.py(float64(b.Filtered[ch]))))
	}
}

// drawTarget draws the target as a dimmed step line.
func (r *renderer) drawTarget(p plot, samples []link.Status, ch int) {
	c := Colors[ch]
	c.A = 110
	for i := 0; i < len(samples)-1; i++ {
		a, b := samples[i], samples[i+1]
		y := p.py(float64(a.Target[ch]))
		r.line(c, 1, fyne.NewPos(p.px(a.Time), y), fyne.NewPos(p.px(b.Time), y))
	}
}

// drawOutput draws the controller output, 0..1, in the strip below the plot.
func (r *renderer) drawOutput(p plot, samples []link.Status, ch int) {
	top := p.y + p.h + 4
	h := float32(outputHeight-8) / trace.N
	base := top + h*float32(ch+1)
	for i := 0; i < len(samples)-1; i++ {
		a, b := samples[i], samples[i+1]
		if !a.Enabled[ch] {
			continue
		}
		out := min(max(a.Output[ch], 0), 1)
		y := base - out*h
		r.line(Colors[ch], 1, fyne.NewPos(p.px(a.Time), y), fyne.NewPos(p.px(b.Time), y))
	}
}

func (r *renderer) drawSettled(p plot, since time.Time, ch int) {
	if since.Before(p.xMin) {
		since = p.xMin
	}
	x := p.px(since)
	r.line(Colors[ch], 1, fyne.NewPos(x, p.y), fyne.NewPos(x, p.y+p.h))
}

func (r *renderer) line(c color.Color, width float32, a, b fyne.Position) {
	l := canvas.NewLine(c)
	l.Position1, l.Position2 = a, b
	l.StrokeWidth = width
	r.objects = append(r.objects, l)
}

func (r *renderer) text(s string, align fyne.TextAlign, pos fyne.Position) {
	t := canvas.NewText(s, labelColor)
	t.TextSize = 10
	t.Alignment = align
	t.Move(pos)
	r.objects = append(r.objects, t)
}

func (r *renderer) Objects() []fyne.CanvasObject {
	return r.objects
}

func (r *renderer) Destroy() {}

func formatTemp(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "°C"
}

func formatTime(d time.Duration) string {
	if d < time.Second {
		return strconv.FormatFloat(d.Seconds(), 'f', 2, 64) + "s"
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 0, 64) + "s"
}
