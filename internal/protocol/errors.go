package protocol

import "errors"

// Decoding failures. Callers distinguish them with errors.Is; the returned
// errors wrap these sentinels with packet detail.
var (
	// ErrInvalidPacketLength means the buffer is shorter than the length the
	// packet declares, or shorter than the family's fixed layout.
	ErrInvalidPacketLength = errors.New("invalid packet length")
	// ErrUnknownPacketType means byte 1 is not a type the decoder supports.
	ErrUnknownPacketType = errors.New("unknown packet type")
	// ErrUnknownPacketSubtype means the type matched but byte 2 did not.
	ErrUnknownPacketSubtype = errors.New("unknown packet subtype")
	// ErrUnknownEnumValue means an enumerated payload field held a code with
	// no known label.
	ErrUnknownEnumValue = errors.New("unknown enum value")
	// ErrUnhandledPacket is returned by a Registry when no decoder claims a
	// packet.
	ErrUnhandledPacket = errors.New("no decoder for packet")
)
