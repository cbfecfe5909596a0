package profiling

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WriteChart renders the retained inference times as a PNG line chart.
func (l *Logger) WriteChart(w io.Writer) error {
	series := l.inferenceSeries()
	if len(series) == 0 {
		return fmt.Errorf("no inference samples recorded")
	}

	p := plot.New()
	p.Title.Text = "Inference time"
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "ms"

	pts := make(plotter.XYs, len(series))
	for i, v := range series {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to create line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 0, G: 128, B: 255, A: 255}
	p.Add(line, plotter.NewGrid())

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write chart: %w", err)
	}
	return nil
}
