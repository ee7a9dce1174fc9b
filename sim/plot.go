package sim

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// NewParticlePlot creates a scatter plot of the first two dimensions of particles x
// stored in its rows. Particles with larger normalized log-weights lw are drawn with larger glyphs.
// It returns error if the plot fails to be created. This can be due to either of the following conditions:
// * x is nil or it has less than 2 columns
// * the number of weights does not match the number of particles
// * gonum plot fails to be created
func NewParticlePlot(x *mat.Dense, lw []float64) (*plot.Plot, error) {
	if x == nil {
		return nil, fmt.Errorf("invalid particles supplied")
	}

	rows, cols := x.Dims()
	if cols < 2 {
		return nil, fmt.Errorf("invalid particle dimension: %d", cols)
	}

	if len(lw) != rows {
		return nil, fmt.Errorf("invalid weights count: %d, particles: %d", len(lw), rows)
	}

	p := plot.New()

	p.Title.Text = "Particles"
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"

	scatter, err := plotter.NewScatter(makePoints(x))
	if err != nil {
		return nil, fmt.Errorf("failed to create scatter: %v", err)
	}
	scatter.GlyphStyle.Color = color.RGBA{R: 169, G: 169, B: 169, A: 255}
	scatter.Shape = draw.CircleGlyph{}

	// glyph radius is relative to the weight of uniformly weighted particle
	n := float64(rows)
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		style := scatter.GlyphStyle
		r := math.Sqrt(math.Exp(lw[i]) * n)
		if math.IsNaN(r) {
			r = 0
		}
		style.Radius = vg.Points(1 + 2*math.Min(r, 3))
		return style
	}

	p.Add(scatter)

	return p, nil
}

// NewESSPlot creates a line plot of effective sample size per sampler iteration.
// It returns error if ess is empty or if gonum plot fails to be created.
func NewESSPlot(ess []float64) (*plot.Plot, error) {
	if len(ess) == 0 {
		return nil, fmt.Errorf("invalid ESS data supplied")
	}

	p := plot.New()

	p.Title.Text = "Effective Sample Size"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "ESS"

	pts := make(plotter.XYs, len(ess))
	for i := range ess {
		pts[i].X = float64(i)
		pts[i].Y = ess[i]
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to create line: %v", err)
	}
	line.LineStyle.Color = color.RGBA{R: 255, B: 128, A: 255}

	p.Add(line)

	return p, nil
}

func makePoints(m *mat.Dense) plotter.XYs {
	r, _ := m.Dims()
	pts := make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		pts[i].X = m.At(i, 0)
		pts[i].Y = m.At(i, 1)
	}

	return pts
}
