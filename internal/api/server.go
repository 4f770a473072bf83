// Package api serves stored readings and live decoding over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agalera/rfxcom/internal/db"
	"github.com/agalera/rfxcom/internal/monitoring"
	"github.com/agalera/rfxcom/internal/protocol"
	"github.com/agalera/rfxcom/internal/serialmux"
	"github.com/agalera/rfxcom/internal/units"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxBodyBytes bounds POST bodies; RFXtrx frames are at most 256 bytes.
const maxBodyBytes = 4096

type Server struct {
	m        serialmux.SerialMuxInterface
	db       *db.DB
	registry *protocol.Registry
	display  units.Display
	timezone string
}

// NewServer builds a Server. display and timezone are the defaults used when
// a request does not override them.
func NewServer(m serialmux.SerialMuxInterface, database *db.DB, registry *protocol.Registry, display units.Display, timezone string) *Server {
	return &Server{
		m:        m,
		db:       database,
		registry: registry,
		display:  display,
		timezone: timezone,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/readings", s.listReadings)
	mux.HandleFunc("/api/devices", s.listDevices)
	mux.HandleFunc("/api/families", s.listFamilies)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/charts", s.showChart)
	mux.HandleFunc("/api/charts.png", s.showChartPNG)
	mux.HandleFunc("/api/rejected", s.listRejected)
	mux.HandleFunc("/api/decode", s.decodeHandler)
	mux.HandleFunc("/api/command", s.sendCommandHandler)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("failed to write response: %v", err)
	}
}

// displayOptions resolves the units, speed_units and tz query parameters
// against the server defaults. A request that names its own units gets the
// speed unit of that system unless it also sets speed_units.
func (s *Server) displayOptions(r *http.Request) (d units.Display, tz string, err error) {
	q := r.URL.Query()
	system, speed := q.Get("units"), q.Get("speed_units")
	if system == "" {
		system = s.display.System
		if speed == "" {
			speed = s.display.Speed
		}
	}
	if d, err = units.NewDisplay(system, speed); err != nil {
		return units.Display{}, "", err
	}

	tz = q.Get("tz")
	if tz == "" {
		tz = s.timezone
	}
	if _, err := units.ConvertTime(time.Time{}, tz); err != nil {
		return units.Display{}, "", fmt.Errorf("invalid 'tz' parameter %q", tz)
	}
	return d, tz, nil
}

func parseLimit(r *http.Request) (int, error) {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(l)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid 'limit' parameter")
	}
	return n, nil
}

// presentReadings converts stored readings to the requested display units.
func presentReadings(readings []db.Reading, d units.Display, tz string) ([]db.Reading, error) {
	out := make([]db.Reading, len(readings))
	for i, rd := range readings {
		rd.Fields = units.ConvertResult(rd.Fields, d)
		var err error
		if rd.ReceivedAt, err = units.ConvertTime(rd.ReceivedAt, tz); err != nil {
			return nil, err
		}
		out[i] = rd
	}
	return out, nil
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	display, tz, err := s.displayOptions(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := db.ReadingFilter{
		Family:   r.URL.Query().Get("family"),
		DeviceID: r.URL.Query().Get("device"),
		Limit:    limit,
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'since' parameter: expected RFC3339")
			return
		}
		filter.Since = t
	}

	readings, err := s.db.Readings(filter)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve readings: %v", err))
		return
	}
	out, err := presentReadings(readings, display, tz)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, out)
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	display, tz, err := s.displayOptions(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	latest, err := s.db.LatestByDevice()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve devices: %v", err))
		return
	}
	out, err := presentReadings(latest, display, tz)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, out)
}

// FamilyInfo describes one decoder known to the registry.
type FamilyInfo struct {
	Family   string            `json:"family"`
	LogName  string            `json:"log_name"`
	Size     int               `json:"size"`
	Types    map[string]string `json:"types"`
	Subtypes map[string]string `json:"subtypes"`
	Readings int               `json:"readings"`
}

func codeTable(m map[byte]string) map[string]string {
	out := make(map[string]string, len(m))
	for code, name := range m {
		out[fmt.Sprintf("0x%02X", code)] = name
	}
	return out
}

func (s *Server) listFamilies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	counts, err := s.db.CountByFamily()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to count readings: %v", err))
		return
	}

	handlers := s.registry.Handlers()
	out := make([]FamilyInfo, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, FamilyInfo{
			Family:   h.Family(),
			LogName:  h.LogName(),
			Size:     h.Size(),
			Types:    codeTable(h.Types()),
			Subtypes: codeTable(h.Subtypes()),
			Readings: counts[h.Family()],
		})
	}
	s.writeJSON(w, out)
}

func (s *Server) listRejected(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	frames, err := s.db.RejectedFrames(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve rejected frames: %v", err))
		return
	}
	if frames == nil {
		frames = []db.RejectedFrame{}
	}
	s.writeJSON(w, frames)
}

// DecodeResponse is returned by POST /api/decode.
type DecodeResponse struct {
	Family string          `json:"family"`
	Device string          `json:"device"`
	Fields protocol.Result `json:"fields"`
}

// newDecodeResponse tags result with its own id. h is shared with the
// receiver's decode loop, so h.String may already name a later packet.
func newDecodeResponse(h protocol.Handler, result protocol.Result) DecodeResponse {
	id, _ := result.Text("id")
	return DecodeResponse{
		Family: h.Family(),
		Device: protocol.DeviceTag(h.Family(), id),
		Fields: result,
	}
}

// decodeHandler decodes a hex packet from the request body without
// storing it.
func (s *Server) decodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	buf, err := protocol.ParseHex(strings.TrimSpace(string(body)))
	if err != nil || len(buf) == 0 {
		s.writeJSONError(w, http.StatusBadRequest, "Request body must be a hex encoded packet")
		return
	}

	h, result, err := s.registry.Decode(buf)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, protocol.ErrUnhandledPacket) {
			status = http.StatusNotFound
		}
		s.writeJSONError(w, status, err.Error())
		return
	}

	s.writeJSON(w, newDecodeResponse(h, result))
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	frame, err := protocol.ParseHex(r.FormValue("command"))
	if err != nil || len(frame) == 0 {
		http.Error(w, "command must be hex encoded bytes", http.StatusBadRequest)
		return
	}
	if err := s.m.SendCommand(frame); err != nil {
		if errors.Is(err, serialmux.ErrInvalidFrame) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		monitoring.Logf("send command %s: %v", protocol.DumpHex(frame), err)
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"units":       s.display.System,
		"speed_units": s.display.Speed,
		"timezone":    s.timezone,
		"families":    s.registry.Families(),
	})
}
