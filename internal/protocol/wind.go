package protocol

// Wind packets (type 0x56).
//
//	0      packet length, 0x10
//	1      packet type, 0x56
//	2      subtype
//	3      sequence number
//	4-5    id
//	6-7    direction, degrees
//	8-9    average speed, tenths of m/s
//	10-11  gust, tenths of m/s
//	12-13  temperature, TFA only
//	14-15  wind chill, TFA only
//	16     signal and battery level
const (
	windPacketSize = 17

	windSubtypeTFA = 0x04
)

var (
	windTypes = map[byte]string{
		0x56: "Wind sensors",
	}
	windSubtypes = map[byte]string{
		0x01: "WTGR800",
		0x02: "WGR800",
		0x03: "STR918, WGR918, WGR928",
		0x04: "TFA",
		0x05: "UPM WDS500",
		0x06: "WS2300",
		0x07: "Alecto WS4500",
	}
)

// Wind decodes anemometer packets.
type Wind struct {
	base
}

// NewWind returns a decoder for anemometer packets.
func NewWind() *Wind {
	w := &Wind{}
	w.base = base{
		family:   "Wind",
		types:    windTypes,
		subtypes: windSubtypes,
		size:     windPacketSize,
		payload:  parseWind,
	}
	return w
}

func parseWind(buf []byte) (Result, error) {
	fields := Result{
		"id":            DumpHex(buf[4:6]),
		"direction":     int(ReadUint(buf[6:8], 2)),
		"average_speed": Scale(ReadUint(buf[8:10], 2), 10),
		"gust":          Scale(ReadUint(buf[10:12], 2), 10),
	}
	if buf[2] == windSubtypeTFA {
		fields["temperature"] = SignedMagnitudeTemperature(buf[12], buf[13])
		fields["chill"] = SignedMagnitudeTemperature(buf[14], buf[15])
	}
	return fields.Merge(SignalAndBattery(buf[16])), nil
}
