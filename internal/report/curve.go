package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// LearningCurve plots per-iteration mean episode returns as a PNG,
// with a smoothed moving-average overlay.
func LearningCurve(name string, returns []float64, path string) error {
	if len(returns) == 0 {
		return fmt.Errorf("no returns to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Mean Episode Return", name)
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Return"

	pts := make(plotter.XYs, 0, len(returns))
	for i, r := range returns {
		pts = append(pts, plotter.XY{X: float64(i), Y: r})
	}
	raw, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	raw.Color = color.RGBA{R: 0x90, G: 0xa4, B: 0xae, A: 255}
	raw.Width = vg.Points(1)
	p.Add(raw)
	p.Legend.Add("return", raw)

	window := len(returns) / 10
	if window > 1 {
		smPts := make(plotter.XYs, 0, len(returns))
		for i, r := range movingAverage(returns, window) {
			smPts = append(smPts, plotter.XY{X: float64(i), Y: r})
		}
		smooth, err := plotter.NewLine(smPts)
		if err != nil {
			return err
		}
		smooth.Color = color.RGBA{R: 0xe5, G: 0x39, B: 0x35, A: 255}
		smooth.Width = vg.Points(2)
		p.Add(smooth)
		p.Legend.Add(fmt.Sprintf("mean(%d)", window), smooth)
	}

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("saving learning curve: %w", err)
	}
	return nil
}

// movingAverage is a trailing mean over at most window samples.
func movingAverage(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	sum := 0.0
	for i, x := range xs {
		sum += x
		n := window
		if i < window {
			n = i + 1
		} else {
			sum -= xs[i-window]
		}
		out[i] = sum / float64(n)
	}
	return out
}
