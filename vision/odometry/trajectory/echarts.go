package trajectory

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// EChartsRenderer writes the trajectory as an interactive 3D line in a standalone HTML page.
type EChartsRenderer struct {
	*Recorder
	Title string
	// AssetsHost overrides where the page loads the echarts scripts from. Empty uses the default CDN.
	AssetsHost string
}

// NewEChartsRenderer returns an EChartsRenderer.
func NewEChartsRenderer(title string) *EChartsRenderer {
	return &EChartsRenderer{Recorder: NewRecorder(), Title: title}
}

func (er *EChartsRenderer) chart() *charts.Line3D {
	points := er.Points()
	data := make([]opts.Chart3DData, len(points))
	for i, pt := range points {
		data[i] = opts.Chart3DData{Value: []interface{}{pt.X, pt.Y, pt.Z}}
	}

	line := charts.NewLine3D()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:  er.Title,
			Width:      "900px",
			Height:     "900px",
			AssetsHost: er.AssetsHost,
		}),
		charts.WithTitleOpts(opts.Title{Title: er.Title, Subtitle: fmt.Sprintf("positions=%d", len(points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "X"}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y"}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z"}),
	)
	line.AddSeries("camera", data)
	return line
}

// Save renders the page to path.
func (er *EChartsRenderer) Save(path string) error {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create %q", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)
	if err := er.chart().Render(f); err != nil {
		return errors.Wrapf(err, "cannot render trajectory to %q", path)
	}
	return f.Sync()
}
