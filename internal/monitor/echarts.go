package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/gridloc/internal/httputil"
	"github.com/banshee-data/gridloc/internal/mcl"
)

func scatterData(poses []mcl.Pose) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(poses))
	for _, p := range poses {
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y, p.Yaw}})
	}
	return data
}

// handleParticles renders the map walls, the particle cloud and the current
// estimate as an echarts scatter.
// Query params:
//   - max_points (optional; default 8000) caps each series
func (m *Monitor) handleParticles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	v, ok := m.buildView(maxPointsParam(r))
	if !ok {
		httputil.NotFound(w, "no map loaded")
		return
	}

	// Square axes so the map keeps its aspect ratio.
	span := max(v.maxX-v.minX, v.maxY-v.minY)
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "gridloc particles", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Particle cloud",
			Subtitle: fmt.Sprintf("cycle=%d mean_error=%.3f accurate=%t particles=%d", v.cycle, v.meanError, v.accurate, len(v.particles)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: v.minX, Max: v.minX + span, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: v.minY, Max: v.minY + span, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)

	scatter.AddSeries("walls", scatterData(v.walls),
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#888888"}),
	)
	scatter.AddSeries("particles", scatterData(v.particles),
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#35b779"}),
	)
	if v.estimate != nil {
		scatter.AddSeries("estimate", scatterData([]mcl.Pose{*v.estimate}),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#fde725"}),
		)
		scatter.AddSeries("pose", scatterData([]mcl.Pose{*v.pose}),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#e34a33"}),
		)
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
