package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/gridloc/internal/httputil"
	"github.com/banshee-data/gridloc/internal/mcl"
)

const snapshotSize = 6 * vg.Inch

func xys(poses []mcl.Pose) plotter.XYs {
	pts := make(plotter.XYs, len(poses))
	for i, p := range poses {
		pts[i].X = p.X
		pts[i].Y = p.Y
	}
	return pts
}

func addScatter(p *plot.Plot, name string, poses []mcl.Pose, c color.Color, radius vg.Length, shape draw.GlyphDrawer) error {
	if len(poses) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(xys(poses))
	if err != nil {
		return fmt.Errorf("%s scatter: %w", name, err)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = radius
	s.GlyphStyle.Shape = shape
	p.Add(s)
	p.Legend.Add(name, s)
	return nil
}

// renderSnapshot draws v as a PNG.
func renderSnapshot(out io.Writer, v *view) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("cycle %d  mean error %.3f", v.cycle, v.meanError)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.X.Min, p.X.Max = v.minX, v.maxX
	p.Y.Min, p.Y.Max = v.minY, v.maxY
	p.Add(plotter.NewGrid())

	if err := addScatter(p, "walls", v.walls, color.Gray{Y: 90}, vg.Points(1.5), draw.BoxGlyph{}); err != nil {
		return err
	}
	if err := addScatter(p, "particles", v.particles, color.RGBA{R: 53, G: 183, B: 121, A: 255}, vg.Points(1.5), draw.CircleGlyph{}); err != nil {
		return err
	}
	if v.estimate != nil {
		if err := addScatter(p, "estimate", []mcl.Pose{*v.estimate}, color.RGBA{R: 200, G: 160, B: 0, A: 255}, vg.Points(5), draw.CrossGlyph{}); err != nil {
			return err
		}
		if err := addScatter(p, "pose", []mcl.Pose{*v.pose}, color.RGBA{R: 227, G: 74, B: 51, A: 255}, vg.Points(4), draw.RingGlyph{}); err != nil {
			return err
		}
	}
	p.Legend.Top = true

	wt, err := p.WriterTo(snapshotSize, snapshotSize, "png")
	if err != nil {
		return fmt.Errorf("png canvas: %w", err)
	}
	_, err = wt.WriteTo(out)
	return err
}

func (m *Monitor) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	v, ok := m.buildView(maxPointsParam(r))
	if !ok {
		httputil.NotFound(w, "no map loaded")
		return
	}
	var buf bytes.Buffer
	if err := renderSnapshot(&buf, v); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
