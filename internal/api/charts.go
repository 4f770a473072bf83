package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/agalera/rfxcom/internal/db"
	"github.com/agalera/rfxcom/internal/units"
)

// deviceSeries groups points by device id, keeping first-seen order.
func deviceSeries(points []db.SeriesPoint) (order []string, byDevice map[string][]db.SeriesPoint) {
	byDevice = make(map[string][]db.SeriesPoint)
	for _, p := range points {
		if _, seen := byDevice[p.DeviceID]; !seen {
			order = append(order, p.DeviceID)
		}
		byDevice[p.DeviceID] = append(byDevice[p.DeviceID], p)
	}
	return order, byDevice
}

// showChart renders an interactive line chart of one field, one series per
// device.
func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	family, field, display, points, ok := s.seriesRequest(w, r)
	if !ok {
		return
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "RFXtrx " + family, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("%s %s", family, field), Subtitle: fmt.Sprintf("samples=%d units=%s", len(points), display)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time", Name: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: field}),
	)

	order, byDevice := deviceSeries(points)
	for _, device := range order {
		data := make([]opts.LineData, 0, len(byDevice[device]))
		for _, p := range byDevice[device] {
			data = append(data, opts.LineData{Value: []interface{}{
				p.ReceivedAt.Format(time.RFC3339),
				units.ConvertField(field, p.Value, display),
			}})
		}
		line.AddSeries(device, data)
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// showChartPNG renders the same series as a static PNG.
func (s *Server) showChartPNG(w http.ResponseWriter, r *http.Request) {
	family, field, display, points, ok := s.seriesRequest(w, r)
	if !ok {
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %s", family, field)
	p.X.Label.Text = "time (UTC)"
	p.Y.Label.Text = fmt.Sprintf("%s (%s)", field, display)
	p.X.Tick.Marker = plot.TimeTicks{Format: "01-02 15:04"}
	p.Add(plotter.NewGrid())

	order, byDevice := deviceSeries(points)
	for i, device := range order {
		pts := make(plotter.XYs, 0, len(byDevice[device]))
		for _, sp := range byDevice[device] {
			pts = append(pts, plotter.XY{
				X: float64(sp.ReceivedAt.Unix()),
				Y: units.ConvertField(field, sp.Value, display),
			})
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build series: %v", err))
			return
		}
		l.Width = vg.Points(1)
		l.Color = plotutil.Color(i)
		p.Add(l)
		p.Legend.Add(device, l)
	}

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
