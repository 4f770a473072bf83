package protocol

// Humidity packets (type 0x51).
//
//	0      packet length, 0x08
//	1      packet type, 0x51
//	2      subtype
//	3      sequence number
//	4-5    id, byte 5 doubling as the channel
//	6      humidity, percent
//	7      humidity status
//	8      signal and battery level
const humidityPacketSize = 9

var (
	humidityTypes = map[byte]string{
		0x51: "Humidity sensors",
	}
	humiditySubtypes = map[byte]string{
		0x01: "LaCrosse TX3",
		0x02: "LaCrosse WS2300",
		0x03: "Inovalley S80 plant humidity sensor",
	}
)

// Humidity decodes humidity-only packets.
type Humidity struct {
	base
}

// NewHumidity returns a decoder for humidity packets.
func NewHumidity() *Humidity {
	h := &Humidity{}
	h.base = base{
		family:   "Humidity",
		types:    humidityTypes,
		subtypes: humiditySubtypes,
		size:     humidityPacketSize,
		payload:  parseHumidity,
	}
	return h
}

func parseHumidity(buf []byte) (Result, error) {
	status, err := HumidityStatus(buf[7])
	if err != nil {
		return nil, err
	}
	fields := Result{
		"id":              DumpHex(buf[4:6]),
		"channel":         int(buf[5]),
		"humidity":        int(buf[6]),
		"humidity_status": status,
	}
	return fields.Merge(SignalAndBattery(buf[8])), nil
}
