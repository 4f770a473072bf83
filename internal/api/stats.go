package api

import (
	"fmt"
	"net/http"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/agalera/rfxcom/internal/db"
	"github.com/agalera/rfxcom/internal/units"
)

// FieldStats summarises the numeric samples of one reading field.
type FieldStats struct {
	Family     string  `json:"family"`
	Field      string  `json:"field"`
	Units      string  `json:"units"`
	SpeedUnits string  `json:"speed_units"`
	Count      int     `json:"count"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"stddev"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	P50        float64 `json:"p50"`
	P95        float64 `json:"p95"`
}

// summarise computes FieldStats over values. values must be non-empty and
// is sorted in place.
func summarise(values []float64) FieldStats {
	sort.Float64s(values)
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	return FieldStats{
		Count:  len(values),
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		P50:    stat.Quantile(0.5, stat.Empirical, values, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, values, nil),
	}
}

// seriesValues returns the sample values converted for display.
func seriesValues(points []db.SeriesPoint, field string, d units.Display) []float64 {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = units.ConvertField(field, p.Value, d)
	}
	return values
}

// seriesRequest reads the family, field and limit parameters shared by the
// stats and chart endpoints.
func (s *Server) seriesRequest(w http.ResponseWriter, r *http.Request) (family, field string, display units.Display, points []db.SeriesPoint, ok bool) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	family = r.URL.Query().Get("family")
	field = r.URL.Query().Get("field")
	if family == "" || field == "" {
		s.writeJSONError(w, http.StatusBadRequest, "'family' and 'field' parameters are required")
		return
	}
	if _, known := s.registry.Family(family); !known {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown family %q", family))
		return
	}

	display, _, err := s.displayOptions(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err = s.db.NumericSeries(family, field, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Failed to retrieve series: %v", err))
		return
	}
	if len(points) == 0 {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no numeric %s samples for %s", field, family))
		return
	}
	return family, field, display, points, true
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	family, field, display, points, ok := s.seriesRequest(w, r)
	if !ok {
		return
	}

	st := summarise(seriesValues(points, field, display))
	st.Family = family
	st.Field = field
	st.Units = display.System
	st.SpeedUnits = display.Speed
	s.writeJSON(w, st)
}
