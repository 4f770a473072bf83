package protocol

// Temperature and humidity packets (type 0x52).
//
//	0      packet length, 0x0A
//	1      packet type, 0x52
//	2      subtype
//	3      sequence number
//	4-5    id, byte 5 doubling as the channel
//	6-7    temperature, sign and magnitude in tenths of a degree
//	8      humidity, percent
//	9      humidity status
//	10     signal and battery level
const tempHumidityPacketSize = 11

var (
	tempHumidityTypes = map[byte]string{
		0x52: "Temperature and humidity sensors",
	}
	tempHumiditySubtypes = map[byte]string{
		0x01: "THGN122/123, THGN132, THGR122/228/238/268",
		0x02: "THGR810, THGN801, THGN800",
		0x03: "RTGR328",
		0x04: "THGR328",
		0x05: "WTGR800",
		0x06: "THGR918/928, THGRN228, THGN500",
		0x07: "TFA TS34C, Cresta",
		0x08: "WT260, WT260H, WT440H, WT450, WT450H",
		0x09: "Viking 02035, 02038",
		0x0A: "Rubicson",
	}
)

// TempHumidity decodes combined temperature and humidity packets.
type TempHumidity struct {
	base
}

// NewTempHumidity returns a decoder for temperature and humidity packets.
func NewTempHumidity() *TempHumidity {
	t := &TempHumidity{}
	t.base = base{
		family:   "TempHumidity",
		types:    tempHumidityTypes,
		subtypes: tempHumiditySubtypes,
		size:     tempHumidityPacketSize,
		payload:  parseTempHumidity,
	}
	return t
}

func parseTempHumidity(buf []byte) (Result, error) {
	status, err := HumidityStatus(buf[9])
	if err != nil {
		return nil, err
	}
	fields := Result{
		"id":              DumpHex(buf[4:6]),
		"channel":         int(buf[5]),
		"temperature":     SignedMagnitudeTemperature(buf[6], buf[7]),
		"humidity":        int(buf[8]),
		"humidity_status": status,
	}
	return fields.Merge(SignalAndBattery(buf[10])), nil
}
