package protocol

// Temperature packets (type 0x50).
//
//	0      packet length, 0x08
//	1      packet type, 0x50
//	2      subtype
//	3      sequence number
//	4-5    id, byte 5 doubling as the channel
//	6-7    temperature, sign and magnitude in tenths of a degree
//	8      signal and battery level
const temperaturePacketSize = 9

var (
	temperatureTypes = map[byte]string{
		0x50: "Temperature sensors",
	}
	temperatureSubtypes = map[byte]string{
		0x01: "THR128/138, THC138",
		0x02: "THC238/268, THN132, THWR288, THRN122, THN122, AW129/131",
		0x03: "THWR800",
		0x04: "RTHN318",
		0x05: "La Crosse TX2, TX3, TX4, TX17",
		0x06: "TS15C",
		0x07: "Viking 02811",
		0x08: "La Crosse WS2300",
		0x09: "RUBiCSON",
		0x0A: "TFA 30.3133",
		0x0B: "WT0122",
	}
)

// Temperature decodes temperature-only packets.
type Temperature struct {
	base
}

// NewTemperature returns a decoder for temperature packets.
func NewTemperature() *Temperature {
	t := &Temperature{}
	t.base = base{
		family:   "Temperature",
		types:    temperatureTypes,
		subtypes: temperatureSubtypes,
		size:     temperaturePacketSize,
		payload:  parseTemperature,
	}
	return t
}

func parseTemperature(buf []byte) (Result, error) {
	fields := Result{
		"id":          DumpHex(buf[4:6]),
		"channel":     int(buf[5]),
		"temperature": SignedMagnitudeTemperature(buf[6], buf[7]),
	}
	return fields.Merge(SignalAndBattery(buf[8])), nil
}
