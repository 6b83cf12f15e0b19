package trajectory

import (
	"image/color"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotRenderer draws the top-down view (X/Z plane) of the trajectory to an image file.
// The format follows the extension of the path given to Save (png, svg, pdf...).
type PlotRenderer struct {
	*Recorder
	Title  string
	Width  vg.Length
	Height vg.Length
}

// NewPlotRenderer returns a PlotRenderer with a 6x6 inches canvas.
func NewPlotRenderer(title string) *PlotRenderer {
	return &PlotRenderer{
		Recorder: NewRecorder(),
		Title:    title,
		Width:    6 * vg.Inch,
		Height:   6 * vg.Inch,
	}
}

// Save renders the trajectory to path.
func (pr *PlotRenderer) Save(path string) error {
	points := pr.Points()
	p := plot.New()
	p.Title.Text = pr.Title
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Z"

	xz := make(plotter.XYs, len(points))
	for i, pt := range points {
		xz[i] = plotter.XY{X: pt.X, Y: pt.Z}
	}
	if len(xz) > 0 {
		line, scatter, err := plotter.NewLinePoints(xz)
		if err != nil {
			return errors.Wrap(err, "cannot build trajectory line")
		}
		line.Width = vg.Points(1)
		line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		scatter.Radius = vg.Points(1.5)
		p.Add(line, scatter)
		p.Legend.Add("camera", line, scatter)
		p.Legend.Top = true
	}
	p.Add(plotter.NewGrid())
	if err := p.Save(pr.Width, pr.Height, path); err != nil {
		return errors.Wrapf(err, "cannot save trajectory plot to %q", path)
	}
	return nil
}
