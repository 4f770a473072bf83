package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agalera/rfxcom/internal/db"
	"github.com/agalera/rfxcom/internal/monitoring"
	"github.com/agalera/rfxcom/internal/protocol"
	"github.com/agalera/rfxcom/internal/serialmux"
	"github.com/agalera/rfxcom/internal/testutil"
	"github.com/agalera/rfxcom/internal/units"
)

type testServer struct {
	server *Server
	mux    *http.ServeMux
	db     *db.DB
	port   *serialmux.TestableSerialPort
}

// setupTestServer builds a Server over a fresh database holding one Elec
// reading and three readings from TempHumidity device 0x7002 (16.7, -16.7
// and 20.0 degrees).
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	database, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	registry := protocol.DefaultRegistry()
	for _, hex := range []string{
		testutil.ElecPacket,
		testutil.TempHumidityPacket,
		"0A 52 02 12 70 02 80 A7 2D 00 89",
		"0A 52 02 13 70 02 00 C8 2D 00 89",
	} {
		raw := testutil.MustHex(t, hex)
		h, result, err := registry.Decode(raw)
		require.NoError(t, err)
		_, err = database.RecordReading(h.Family(), result, raw)
		require.NoError(t, err)
	}
	require.NoError(t, database.RecordRejectedFrame([]byte{0x03, 0x99, 0x01, 0x00}, "unhandled"))

	port := serialmux.NewTestableSerialPort()
	s := NewServer(serialmux.NewSerialMux(port), database, registry, units.Display{System: units.Metric, Speed: units.MPS}, "UTC")
	return &testServer{server: s, mux: s.ServeMux(), db: database, port: port}
}

func (ts *testServer) do(req *http.Request) (int, []byte, http.Header) {
	w := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes(), w.Header()
}

func (ts *testServer) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	code, body, _ := ts.do(testutil.NewTestRequest(http.MethodGet, path))
	return code, body
}

func decodeReadings(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestListReadings(t *testing.T) {
	ts := setupTestServer(t)

	t.Run("all", func(t *testing.T) {
		code, body := ts.get(t, "/api/readings")
		testutil.AssertStatusCode(t, code, http.StatusOK)
		readings := decodeReadings(t, body)
		require.Len(t, readings, 4)
		require.Equal(t, "TempHumidity", readings[0]["family"])
		require.Equal(t, "Elec", readings[3]["family"])
	})

	t.Run("family and limit", func(t *testing.T) {
		code, body := ts.get(t, "/api/readings?family=TempHumidity&limit=2")
		testutil.AssertStatusCode(t, code, http.StatusOK)
		readings := decodeReadings(t, body)
		require.Len(t, readings, 2)
		fields := readings[0]["fields"].(map[string]any)
		require.InDelta(t, 20.0, fields["temperature"], 1e-9)
	})

	t.Run("device", func(t *testing.T) {
		code, body := ts.get(t, "/api/readings?device=0x2EB2")
		testutil.AssertStatusCode(t, code, http.StatusOK)
		readings := decodeReadings(t, body)
		require.Len(t, readings, 1)
		fields := readings[0]["fields"].(map[string]any)
		require.InDelta(t, 3802902.1889782087, fields["total_watts"], 1e-6)
		require.Equal(t, "0x115A01002EB203000002B4000032B2D10096", readings[0]["raw"])
	})

	t.Run("imperial", func(t *testing.T) {
		code, body := ts.get(t, "/api/readings?family=TempHumidity&units=imperial")
		testutil.AssertStatusCode(t, code, http.StatusOK)
		readings := decodeReadings(t, body)
		require.Len(t, readings, 3)
		oldest := readings[2]["fields"].(map[string]any)
		require.InDelta(t, 62.06, oldest["temperature"], 1e-9)
		require.EqualValues(t, 45, oldest["humidity"])
	})

	t.Run("timezone", func(t *testing.T) {
		code, body := ts.get(t, "/api/readings?limit=1&tz=Asia/Kolkata")
		if code == http.StatusBadRequest {
			t.Skip("tz database unavailable")
		}
		testutil.AssertStatusCode(t, code, http.StatusOK)
		readings := decodeReadings(t, body)
		require.True(t, strings.HasSuffix(readings[0]["received_at"].(string), "+05:30"))
	})

	bad := []string{
		"/api/readings?units=cubits",
		"/api/readings?speed_units=knots",
		"/api/readings?limit=0",
		"/api/readings?limit=many",
		"/api/readings?since=yesterday",
		"/api/readings?tz=Not/AZone",
	}
	for _, path := range bad {
		t.Run("bad "+path, func(t *testing.T) {
			code, _ := ts.get(t, path)
			testutil.AssertStatusCode(t, code, http.StatusBadRequest)
		})
	}

	t.Run("method", func(t *testing.T) {
		code, _, _ := ts.do(testutil.NewTestRequest(http.MethodPost, "/api/readings"))
		testutil.AssertStatusCode(t, code, http.StatusMethodNotAllowed)
	})
}

func TestListDevices(t *testing.T) {
	ts := setupTestServer(t)

	code, body := ts.get(t, "/api/devices")
	testutil.AssertStatusCode(t, code, http.StatusOK)
	devices := decodeReadings(t, body)
	require.Len(t, devices, 2)
	require.Equal(t, "Elec", devices[0]["family"])
	require.Equal(t, "0x7002", devices[1]["device_id"])
	fields := devices[1]["fields"].(map[string]any)
	require.InDelta(t, 20.0, fields["temperature"], 1e-9)
}

func TestListFamilies(t *testing.T) {
	ts := setupTestServer(t)

	code, body := ts.get(t, "/api/families")
	testutil.AssertStatusCode(t, code, http.StatusOK)

	var families []FamilyInfo
	require.NoError(t, json.Unmarshal(body, &families))
	require.Len(t, families, len(protocol.DefaultRegistry().Handlers()))

	byName := map[string]FamilyInfo{}
	for _, f := range families {
		byName[f.Family] = f
	}
	elec := byName["Elec"]
	require.Equal(t, 18, elec.Size)
	require.Equal(t, "rfxcom.protocol.Elec", elec.LogName)
	require.Equal(t, map[string]string{"0x5A": "Energy usage sensors"}, elec.Types)
	require.Equal(t, "CM119/160", elec.Subtypes["0x01"])
	require.Equal(t, 1, elec.Readings)
	require.Equal(t, 3, byName["TempHumidity"].Readings)
	require.Equal(t, 0, byName["Wind"].Readings)
}

func TestShowStats(t *testing.T) {
	ts := setupTestServer(t)

	code, body := ts.get(t, "/api/stats?family=TempHumidity&field=temperature")
	testutil.AssertStatusCode(t, code, http.StatusOK)

	var st FieldStats
	require.NoError(t, json.Unmarshal(body, &st))
	require.Equal(t, 3, st.Count)
	require.Equal(t, "metric", st.Units)
	require.InDelta(t, 20.0/3, st.Mean, 1e-9)
	require.InDelta(t, -16.7, st.Min, 1e-9)
	require.InDelta(t, 20.0, st.Max, 1e-9)
	require.InDelta(t, 16.7, st.P50, 1e-9)
	require.True(t, st.StdDev > 0)

	t.Run("imperial", func(t *testing.T) {
		code, body := ts.get(t, "/api/stats?family=TempHumidity&field=temperature&units=imperial")
		testutil.AssertStatusCode(t, code, http.StatusOK)
		var st FieldStats
		require.NoError(t, json.Unmarshal(body, &st))
		require.InDelta(t, 68.0, st.Max, 1e-9)
	})

	tests := []struct {
		path string
		want int
	}{
		{"/api/stats?family=TempHumidity", http.StatusBadRequest},
		{"/api/stats?family=Bogus&field=temperature", http.StatusNotFound},
		{"/api/stats?family=Rain&field=rain_total", http.StatusNotFound},
		{"/api/stats?family=TempHumidity&field=Bad-Field", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, _ := ts.get(t, tt.path)
			testutil.AssertStatusCode(t, code, tt.want)
		})
	}
}

func TestSpeedUnits(t *testing.T) {
	ts := setupTestServer(t)
	raw := testutil.MustHex(t, testutil.WindPacket)
	h, result, err := ts.server.registry.Decode(raw)
	testutil.AssertNoError(t, err)
	_, err = ts.db.RecordReading(h.Family(), result, raw)
	testutil.AssertNoError(t, err)

	tests := []struct {
		query string
		gust  float64
		speed string
	}{
		{"", 3.6, "mps"},
		{"&speed_units=kmph", 12.96, "kmph"},
		{"&units=imperial", 8.0530, "mph"},
		{"&units=imperial&speed_units=mps", 3.6, "mps"},
	}
	for _, tt := range tests {
		t.Run("readings"+tt.query, func(t *testing.T) {
			code, body := ts.get(t, "/api/readings?family=Wind"+tt.query)
			testutil.AssertStatusCode(t, code, http.StatusOK)
			readings := decodeReadings(t, body)
			require.Len(t, readings, 1)
			fields := readings[0]["fields"].(map[string]any)
			require.InDelta(t, tt.gust, fields["gust"], 1e-3)
		})
		t.Run("stats"+tt.query, func(t *testing.T) {
			code, body := ts.get(t, "/api/stats?family=Wind&field=gust"+tt.query)
			testutil.AssertStatusCode(t, code, http.StatusOK)
			var st FieldStats
			require.NoError(t, json.Unmarshal(body, &st))
			require.Equal(t, tt.speed, st.SpeedUnits)
			require.InDelta(t, tt.gust, st.Max, 1e-3)
		})
	}

	code, body := ts.get(t, "/api/stats?family=Wind&field=gust&speed_units=knots")
	testutil.AssertStatusCode(t, code, http.StatusBadRequest)
	require.Contains(t, string(body), units.GetValidUnitsString())
}

func TestSummarise(t *testing.T) {
	st := summarise([]float64{5})
	require.Equal(t, 1, st.Count)
	require.Equal(t, 0.0, st.StdDev)
	require.Equal(t, 5.0, st.P95)

	st = summarise([]float64{4, 1, 3, 2})
	require.InDelta(t, 2.5, st.Mean, 1e-12)
	require.Equal(t, 1.0, st.Min)
	require.Equal(t, 4.0, st.Max)
	require.Equal(t, 2.0, st.P50)
	require.Equal(t, 4.0, st.P95)
}

func TestShowChart(t *testing.T) {
	ts := setupTestServer(t)

	code, body, header := ts.do(testutil.NewTestRequest(http.MethodGet, "/api/charts?family=TempHumidity&field=temperature"))
	testutil.AssertStatusCode(t, code, http.StatusOK)
	require.Contains(t, header.Get("Content-Type"), "text/html")
	require.Contains(t, string(body), "0x7002")
	require.Contains(t, string(body), "echarts")

	code, _ = ts.get(t, "/api/charts?family=Wind&field=gust")
	testutil.AssertStatusCode(t, code, http.StatusNotFound)
}

func TestShowChartPNG(t *testing.T) {
	ts := setupTestServer(t)

	code, body, header := ts.do(testutil.NewTestRequest(http.MethodGet, "/api/charts.png?family=TempHumidity&field=temperature"))
	testutil.AssertStatusCode(t, code, http.StatusOK)
	require.Equal(t, "image/png", header.Get("Content-Type"))
	require.True(t, bytes.HasPrefix(body, []byte("\x89PNG\r\n\x1a\n")))
}

func TestListRejected(t *testing.T) {
	ts := setupTestServer(t)

	code, body := ts.get(t, "/api/rejected")
	testutil.AssertStatusCode(t, code, http.StatusOK)
	var frames []db.RejectedFrame
	require.NoError(t, json.Unmarshal(body, &frames))
	require.Len(t, frames, 1)
	require.Equal(t, "0x03990100", frames[0].Raw)
}

func TestDecodeHandler(t *testing.T) {
	ts := setupTestServer(t)

	t.Run("elec", func(t *testing.T) {
		req := testutil.NewTestRequestWithBody(http.MethodPost, "/api/decode", testutil.ElecPacket)
		code, body, _ := ts.do(req)
		testutil.AssertStatusCode(t, code, http.StatusOK)

		var resp DecodeResponse
		require.NoError(t, json.Unmarshal(body, &resp))
		require.Equal(t, "Elec", resp.Family)
		require.Equal(t, "<Elec ID:0x2EB2>", resp.Device)
		require.Equal(t, "0x2EB2", resp.Fields["id"])
		require.InDelta(t, 692, resp.Fields["current_watts"], 0)
		require.InDelta(t, 3802902.189, resp.Fields["total_watts"], 1e-3)
		require.InDelta(t, 9, resp.Fields["signal_level"], 0)
		require.InDelta(t, 6, resp.Fields["battery_level"], 0)
	})

	t.Run("does not persist", func(t *testing.T) {
		counts, err := ts.db.CountByFamily()
		require.NoError(t, err)
		require.Equal(t, 1, counts["Elec"])
	})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not hex", "zz", http.StatusBadRequest},
		{"empty", "", http.StatusBadRequest},
		{"unhandled", "03 99 01 00", http.StatusNotFound},
		{"bad length", "0A 5A 01 00 2E B2 03 00 00 02 B4 00 00 32 B2 D1 00 96", http.StatusUnprocessableEntity},
		{"bad humidity status", "0A 52 02 11 70 02 00 A7 2D 07 89", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body, _ := ts.do(testutil.NewTestRequestWithBody(http.MethodPost, "/api/decode", tt.body))
			testutil.AssertStatusCode(t, code, tt.want)
			require.Contains(t, string(body), "error")
		})
	}

	t.Run("method", func(t *testing.T) {
		code, _, _ := ts.do(testutil.NewTestRequest(http.MethodGet, "/api/decode"))
		testutil.AssertStatusCode(t, code, http.StatusMethodNotAllowed)
	})
}

func TestNewDecodeResponse(t *testing.T) {
	registry := protocol.DefaultRegistry()
	h, result, err := registry.Decode(testutil.MustHex(t, testutil.TempHumidityPacket))
	testutil.AssertNoError(t, err)

	// A later packet through the same registry moves the decoder's last id.
	_, _, err = registry.Decode(testutil.MustHex(t, "0A 52 02 14 11 22 00 A7 2D 00 89"))
	testutil.AssertNoError(t, err)
	require.Equal(t, "<TempHumidity ID:0x1122>", h.String())

	resp := newDecodeResponse(h, result)
	require.Equal(t, "TempHumidity", resp.Family)
	require.Equal(t, "<TempHumidity ID:0x7002>", resp.Device)
}

func TestSendCommandHandler(t *testing.T) {
	ts := setupTestServer(t)

	post := func(command string) int {
		req := testutil.NewTestRequestWithBody(http.MethodPost, "/api/command", "command="+command)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		code, _, _ := ts.do(req)
		return code
	}

	status := protocol.DumpHex(serialmux.StatusCommand())
	testutil.AssertStatusCode(t, post(status), http.StatusOK)
	require.Equal(t, serialmux.StatusCommand(), ts.port.Written())

	testutil.AssertStatusCode(t, post("nothex"), http.StatusBadRequest)
	// Declared length disagrees with the frame, so nothing reaches the port.
	testutil.AssertStatusCode(t, post("0x0D00"), http.StatusBadRequest)
	require.Equal(t, serialmux.StatusCommand(), ts.port.Written())

	ts.port.WriteError = errors.New("unplugged")
	testutil.AssertStatusCode(t, post(status), http.StatusInternalServerError)

	code, _, _ := ts.do(testutil.NewTestRequest(http.MethodGet, "/api/command"))
	testutil.AssertStatusCode(t, code, http.StatusMethodNotAllowed)
}

func TestShowConfig(t *testing.T) {
	ts := setupTestServer(t)

	code, body := ts.get(t, "/api/config")
	testutil.AssertStatusCode(t, code, http.StatusOK)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(body, &cfg))
	require.Equal(t, "metric", cfg["units"])
	require.Equal(t, "mps", cfg["speed_units"])
	require.Equal(t, "UTC", cfg["timezone"])
	require.Len(t, cfg["families"], 6)
}

func TestLoggingMiddleware(t *testing.T) {
	var logged []string
	orig := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(orig)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/api/readings?limit=1"))

	testutil.AssertStatusCode(t, w.Code, http.StatusTeapot)
	require.Len(t, logged, 1)
	require.Contains(t, logged[0], "418")
	require.Contains(t, logged[0], "/api/readings?limit=1")
}

func TestStatusCodeColor(t *testing.T) {
	require.Contains(t, statusCodeColor(200), colorBoldGreen)
	require.Contains(t, statusCodeColor(302), colorYellow)
	require.Contains(t, statusCodeColor(404), colorBoldRed)
	require.Contains(t, statusCodeColor(503), colorBoldRed)
	require.Equal(t, "100", statusCodeColor(100))
}
