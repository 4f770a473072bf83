package protocol

// Rain packets (type 0x55).
//
//	0      packet length, 0x0B
//	1      packet type, 0x55
//	2      subtype
//	3      sequence number
//	4-5    id
//	6-7    rain rate, mm/h (hundredths for PCR800)
//	8-10   rain total, tenths of a mm
//	11     signal and battery level
const (
	rainPacketSize = 12

	rainSubtypePCR800 = 0x02
)

var (
	rainTypes = map[byte]string{
		0x55: "Rain sensors",
	}
	rainSubtypes = map[byte]string{
		0x01: "RGR126/682/918",
		0x02: "PCR800",
		0x03: "TFA",
		0x04: "UPM RG700",
		0x05: "WS2300",
		0x06: "La Crosse TX5",
	}
)

// Rain decodes rain gauge packets.
type Rain struct {
	base
}

// NewRain returns a decoder for rain gauge packets.
func NewRain() *Rain {
	r := &Rain{}
	r.base = base{
		family:   "Rain",
		types:    rainTypes,
		subtypes: rainSubtypes,
		size:     rainPacketSize,
		payload:  parseRain,
	}
	return r
}

func parseRain(buf []byte) (Result, error) {
	rateDivisor := 1.0
	if buf[2] == rainSubtypePCR800 {
		rateDivisor = 100
	}
	fields := Result{
		"id":         DumpHex(buf[4:6]),
		"rain_rate":  Scale(ReadUint(buf[6:8], 2), rateDivisor),
		"rain_total": Scale(ReadUint(buf[8:11], 3), 10),
	}
	return fields.Merge(SignalAndBattery(buf[11])), nil
}
