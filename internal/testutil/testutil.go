// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agalera/rfxcom/internal/protocol"
)

// Reference packets shared by tests across packages.
const (
	ElecPacket         = "11 5A 01 00 2E B2 03 00 00 02 B4 00 00 32 B2 D1 00 96"
	TempHumidityPacket = "0A 52 02 11 70 02 00 A7 2D 00 89"
	TemperaturePacket  = "08 50 02 2A 96 03 81 41 79"
	WindPacket         = "10 56 01 03 2F 00 00 F7 00 20 00 24 01 60 00 00 59"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// MustHex decodes a hex packet fixture, failing the test if it is malformed.
func MustHex(t testing.TB, s string) []byte {
	t.Helper()
	b, err := protocol.ParseHex(s)
	if err != nil {
		t.Fatalf("bad fixture %q: %v", s, err)
	}
	return b
}

// LoadHexLines reads a testdata file of hex packets, one per line. Blank
// lines and lines starting with # are skipped.
func LoadHexLines(t testing.TB, rel string) [][]byte {
	t.Helper()
	data := readTestdata(t, rel)
	var packets [][]byte
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		packets = append(packets, MustHex(t, line))
	}
	return packets
}

func readTestdata(t testing.TB, rel string) []byte {
	t.Helper()
	candidates := []string{
		filepath.Join("testdata", rel),
		filepath.Join("..", "testdata", rel),
		filepath.Join("..", "..", "testdata", rel),
	}
	for _, path := range candidates {
		if data, err := os.ReadFile(path); err == nil {
			return data
		}
	}
	t.Fatalf("unable to locate testdata file %s", rel)
	return nil
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRequestWithBody creates a test HTTP request carrying body.
func NewTestRequestWithBody(method, path, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return httptest.NewRequest(method, path, r)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
