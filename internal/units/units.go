// Package units converts decoded readings into display units.
// Decoders always report metric values: degrees Celsius, metres per second
// for wind, millimetres for rain and watts for energy.
package units

import (
	"fmt"
	"strings"
	"time"

	"github.com/agalera/rfxcom/internal/protocol"
)

// Speed unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// Temperature unit constants
const (
	Celsius    = "celsius"
	Fahrenheit = "fahrenheit"
)

// Measurement systems accepted by the API's units parameter.
const (
	Metric   = "metric"
	Imperial = "imperial"
)

// ValidUnits contains all valid speed unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// ValidSystems contains all valid measurement systems
var ValidSystems = []string{Metric, Imperial}

// IsValid checks if the given unit is in the list of valid speed units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// IsValidSystem reports whether system names a supported measurement system.
func IsValidSystem(system string) bool {
	for _, s := range ValidSystems {
		if system == s {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertSpeed converts a speed from meters per second to the target units
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.23694
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// ConvertTemperature converts degrees Celsius to the target unit.
func ConvertTemperature(celsius float64, target string) float64 {
	if target == Fahrenheit {
		return celsius*9/5 + 32
	}
	return celsius
}

// MillimetresToInches converts a rain reading.
func MillimetresToInches(mm float64) float64 {
	return mm / 25.4
}

// Display selects how decoded quantities are shown: a measurement system
// for temperature and rain, and a unit for wind speed.
type Display struct {
	System string
	Speed  string
}

// NewDisplay validates system and speed. An empty system is metric; an empty
// speed follows the system (mps for metric, mph for imperial).
func NewDisplay(system, speed string) (Display, error) {
	if system == "" {
		system = Metric
	}
	if !IsValidSystem(system) {
		return Display{}, fmt.Errorf("invalid units %q: must be one of %s", system, strings.Join(ValidSystems, ", "))
	}
	if speed == "" {
		speed = MPS
		if system == Imperial {
			speed = MPH
		}
	}
	if !IsValid(speed) {
		return Display{}, fmt.Errorf("invalid speed units %q: must be one of %s", speed, GetValidUnitsString())
	}
	return Display{System: system, Speed: speed}, nil
}

func (d Display) String() string {
	return d.System + "/" + d.Speed
}

// ConvertField converts the value of a named record field from metric to
// the given display. Fields that carry no unit pass through.
func ConvertField(field string, v float64, d Display) float64 {
	switch field {
	case "average_speed", "gust":
		return ConvertSpeed(v, d.Speed)
	}
	if d.System != Imperial {
		return v
	}
	switch field {
	case "temperature", "chill":
		return ConvertTemperature(v, Fahrenheit)
	case "rain_rate", "rain_total":
		return MillimetresToInches(v)
	}
	return v
}

// ConvertResult returns a copy of r with its quantities expressed in d.
// Fields whose value does not change keep their original type.
func ConvertResult(r protocol.Result, d Display) protocol.Result {
	out := protocol.Result{}.Merge(r)
	for k := range out {
		if _, isText := out[k].(string); isText {
			continue
		}
		if v, ok := out.Float(k); ok {
			if c := ConvertField(k, v, d); c != v {
				out[k] = c
			}
		}
	}
	return out
}

// ConvertTime converts a UTC time to the specified timezone.
// Readings are stored in UTC; this is applied for display only.
func ConvertTime(utcTime time.Time, targetTimezone string) (time.Time, error) {
	if targetTimezone == "" || targetTimezone == "UTC" {
		return utcTime, nil
	}
	loc, err := time.LoadLocation(targetTimezone)
	if err != nil {
		return utcTime, fmt.Errorf("failed to load timezone %s: %w", targetTimezone, err)
	}
	return utcTime.In(loc), nil
}
