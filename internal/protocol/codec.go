package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ReadUint assembles width big-endian bytes from b into an unsigned integer.
// The RFXtrx layouts use widths of 2, 3, 4 and 6; anything up to 8
// fits the result.
func ReadUint(b []byte, width int) uint64 {
	var v uint64
	for _, c := range b[:width] {
		v = v<<8 | uint64(c)
	}
	return v
}

// Scale converts a raw counter reading into a physical quantity using a fixed
// per-family divisor.
func Scale(v uint64, divisor float64) float64 {
	return float64(v) / divisor
}

// Nibbles splits the trailing signal/battery byte: the high nibble is the
// radio signal level and the low nibble the battery level, both 0-15.
func Nibbles(b byte) (signal, battery int) {
	return int(b >> 4), int(b & 0x0F)
}

// SignalAndBattery returns the signal and battery levels of b as result
// fields.
func SignalAndBattery(b byte) Result {
	signal, battery := Nibbles(b)
	return Result{
		"signal_level":  signal,
		"battery_level": battery,
	}
}

// SignedMagnitudeTemperature decodes a sign-and-magnitude temperature in
// tenths of a degree. The top bit of hi is the sign; the remaining 15 bits
// are the magnitude.
func SignedMagnitudeTemperature(hi, lo byte) float64 {
	t := float64(uint16(hi&0x7F)<<8|uint16(lo)) / 10
	if hi&0x80 != 0 {
		return -t
	}
	return t
}

var humidityStatuses = map[byte]string{
	0x00: "Dry",
	0x01: "Comfort",
	0x02: "Normal",
	0x03: "Wet",
}

// HumidityStatus maps the humidity status byte to its label.
func HumidityStatus(code byte) (string, error) {
	s, ok := humidityStatuses[code]
	if !ok {
		return "", fmt.Errorf("%w: humidity status 0x%02X", ErrUnknownEnumValue, code)
	}
	return s, nil
}

// DumpHex renders b as an upper-case hex string prefixed with 0x.
func DumpHex(b []byte) string {
	return "0x" + strings.ToUpper(hex.EncodeToString(b))
}

// ParseHex reads a packet written as hex, as printed by DumpHex or as
// space-separated byte pairs ("11 5A 01 ..."). An optional 0x prefix is
// allowed.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.Join(strings.Fields(s), "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex packet: %w", err)
	}
	return b, nil
}
