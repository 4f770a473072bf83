package protocol

import "fmt"

// Every RFXtrx packet starts with the same four bytes.
const (
	offsetLength   = 0
	offsetType     = 1
	offsetSubtype  = 2
	offsetSequence = 3
)

// Header is the common packet envelope.
type Header struct {
	Length   byte
	Type     byte
	Subtype  byte
	Sequence byte
}

// ReadHeader extracts the envelope from buf. The caller must already know
// buf holds at least four bytes.
func ReadHeader(buf []byte) Header {
	return Header{
		Length:   buf[offsetLength],
		Type:     buf[offsetType],
		Subtype:  buf[offsetSubtype],
		Sequence: buf[offsetSequence],
	}
}

// Fields renders the header as result fields, naming the type and subtype
// from the given tables.
func (h Header) Fields(types, subtypes map[byte]string) Result {
	return Result{
		"packet_length":       int(h.Length),
		"packet_type":         int(h.Type),
		"packet_type_name":    types[h.Type],
		"sequence_number":     int(h.Sequence),
		"packet_subtype":      int(h.Subtype),
		"packet_subtype_name": subtypes[h.Subtype],
	}
}

// Validate checks buf against a decoder's tables. The declared length is
// checked first, then the type byte, then the subtype byte.
func Validate(buf []byte, types, subtypes map[byte]string) error {
	if len(buf) == 0 {
		return fmt.Errorf("%w: empty buffer", ErrInvalidPacketLength)
	}
	if declared := int(buf[offsetLength]); declared+1 > len(buf) {
		return fmt.Errorf("%w: declared %d bytes, got %d", ErrInvalidPacketLength, declared, len(buf)-1)
	}
	if len(buf) <= offsetType {
		return fmt.Errorf("%w: missing type byte", ErrInvalidPacketLength)
	}
	if _, ok := types[buf[offsetType]]; !ok {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownPacketType, buf[offsetType])
	}
	if len(buf) <= offsetSubtype {
		return fmt.Errorf("%w: missing subtype byte", ErrInvalidPacketLength)
	}
	if _, ok := subtypes[buf[offsetSubtype]]; !ok {
		return fmt.Errorf("%w: 0x%02X for type 0x%02X", ErrUnknownPacketSubtype, buf[offsetSubtype], buf[offsetType])
	}
	return nil
}

// CanHandle reports whether the type and subtype bytes of buf are in the
// given tables. It ignores the declared length.
func CanHandle(buf []byte, types, subtypes map[byte]string) bool {
	if len(buf) <= offsetSubtype {
		return false
	}
	if _, ok := types[buf[offsetType]]; !ok {
		return false
	}
	_, ok := subtypes[buf[offsetSubtype]]
	return ok
}
