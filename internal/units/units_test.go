package units

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/agalera/rfxcom/internal/protocol"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name     string
		speedMPS float64
		units    string
		expected float64
	}{
		{"10 m/s to mph", 10.0, MPH, 22.3694},
		{"10 m/s to kmph", 10.0, KMPH, 36.0},
		{"10 m/s to kph", 10.0, KPH, 36.0},
		{"10 m/s to mps", 10.0, MPS, 10.0},
		{"unknown units default to mps", 10.0, "unknown", 10.0},
		{"gust 3.6 m/s to kmph", 3.6, KMPH, 12.96},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertSpeed(tt.speedMPS, tt.units)
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("ConvertSpeed(%f, %s) = %f, want %f", tt.speedMPS, tt.units, result, tt.expected)
			}
		})
	}
}

func TestConvertTemperature(t *testing.T) {
	tests := []struct {
		name     string
		celsius  float64
		target   string
		expected float64
	}{
		{"freezing", 0, Fahrenheit, 32},
		{"boiling", 100, Fahrenheit, 212},
		{"crossover", -40, Fahrenheit, -40},
		{"sensor reading", 16.7, Fahrenheit, 62.06},
		{"celsius is identity", 16.7, Celsius, 16.7},
		{"unknown is identity", -3.5, "kelvin", -3.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertTemperature(tt.celsius, tt.target)
			if math.Abs(result-tt.expected) > 0.001 {
				t.Errorf("ConvertTemperature(%f, %s) = %f, want %f", tt.celsius, tt.target, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid mps", MPS, true},
		{"valid mph", MPH, true},
		{"valid kmph", KMPH, true},
		{"valid kph", KPH, true},
		{"invalid unit", "invalid", false},
		{"empty string", "", false},
		{"case sensitive", "MPH", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.unit); got != tt.expected {
				t.Errorf("IsValid(%s) = %v, want %v", tt.unit, got, tt.expected)
			}
		})
	}
}

func TestIsValidSystem(t *testing.T) {
	if !IsValidSystem(Metric) || !IsValidSystem(Imperial) {
		t.Error("expected metric and imperial to be valid")
	}
	if IsValidSystem("") || IsValidSystem("Imperial") {
		t.Error("expected empty and mis-cased systems to be invalid")
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got, want := GetValidUnitsString(), "mps, mph, kmph, kph"; got != want {
		t.Errorf("GetValidUnitsString() = %q, want %q", got, want)
	}
}

func TestNewDisplay(t *testing.T) {
	tests := []struct {
		name    string
		system  string
		speed   string
		want    Display
		wantErr string
	}{
		{"defaults", "", "", Display{Metric, MPS}, ""},
		{"imperial follows mph", Imperial, "", Display{Imperial, MPH}, ""},
		{"explicit speed wins", Imperial, KMPH, Display{Imperial, KMPH}, ""},
		{"metric with kph", Metric, KPH, Display{Metric, KPH}, ""},
		{"bad system", "furlongs", "", Display{}, "invalid units"},
		{"bad speed", Metric, "knots", Display{}, "mps, mph, kmph, kph"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewDisplay(tt.system, tt.speed)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("NewDisplay(%q, %q) error = %v, want %q", tt.system, tt.speed, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NewDisplay(%q, %q) = %v, want %v", tt.system, tt.speed, got, tt.want)
			}
		})
	}
}

func TestConvertResult(t *testing.T) {
	in := protocol.Result{
		"id":            "0x2F00",
		"temperature":   -5.0,
		"chill":         -10.0,
		"average_speed": 10.0,
		"gust":          20.0,
		"rain_total":    25.4,
		"rain_rate":     0,
		"signal_level":  5,
	}

	t.Run("metric copies", func(t *testing.T) {
		out := ConvertResult(in, Display{Metric, MPS})
		out["temperature"] = 99.0
		if in["temperature"] != -5.0 {
			t.Error("ConvertResult must not alias its input")
		}
		if out["gust"] != 20.0 {
			t.Errorf("gust = %v, want unchanged", out["gust"])
		}
	})

	t.Run("imperial", func(t *testing.T) {
		out := ConvertResult(in, Display{Imperial, MPH})
		checks := map[string]float64{
			"temperature":   23,
			"chill":         14,
			"average_speed": 22.3694,
			"gust":          44.7388,
			"rain_total":    1,
			"rain_rate":     0,
		}
		for k, want := range checks {
			got, ok := out.Float(k)
			if !ok || math.Abs(got-want) > 0.001 {
				t.Errorf("%s = %v, want %v", k, out[k], want)
			}
		}
		if out["id"] != "0x2F00" || out["signal_level"] != 5 {
			t.Errorf("non-quantity fields changed: %v", out)
		}
		if in["temperature"] != -5.0 {
			t.Error("input record was modified")
		}
	})

	t.Run("metric with kmph", func(t *testing.T) {
		out := ConvertResult(in, Display{Metric, KMPH})
		if got, _ := out.Float("average_speed"); math.Abs(got-36) > 0.001 {
			t.Errorf("average_speed = %v, want 36", got)
		}
		if out["temperature"] != -5.0 {
			t.Errorf("temperature = %v, want unchanged", out["temperature"])
		}
	})
}

func TestConvertTime(t *testing.T) {
	utc := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	got, err := ConvertTime(utc, "UTC")
	if err != nil || !got.Equal(utc) {
		t.Errorf("ConvertTime UTC = %v, %v", got, err)
	}

	got, err = ConvertTime(utc, "America/New_York")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	if got.Hour() != 7 {
		t.Errorf("expected 07:00 in New York, got %v", got)
	}

	if _, err := ConvertTime(utc, "Invalid/Zone"); err == nil {
		t.Error("expected error for invalid timezone")
	}
}

func TestConvertField(t *testing.T) {
	tests := []struct {
		field    string
		value    float64
		display  Display
		expected float64
	}{
		{"temperature", 100, Display{Imperial, MPH}, 212},
		{"chill", 0, Display{Imperial, MPH}, 32},
		{"gust", 10, Display{Imperial, MPH}, 22.3694},
		{"gust", 10, Display{Imperial, MPS}, 10},
		{"average_speed", 10, Display{Metric, KPH}, 36},
		{"rain_total", 254, Display{Imperial, MPH}, 10},
		{"humidity", 45, Display{Imperial, MPH}, 45},
		{"temperature", 100, Display{Metric, MPS}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.field+"/"+tt.display.String(), func(t *testing.T) {
			got := ConvertField(tt.field, tt.value, tt.display)
			if math.Abs(got-tt.expected) > 0.001 {
				t.Errorf("ConvertField(%s, %f, %v) = %f, want %f", tt.field, tt.value, tt.display, got, tt.expected)
			}
		})
	}
}
