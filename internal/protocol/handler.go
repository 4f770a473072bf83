package protocol

import (
	"fmt"
	"sync/atomic"
)

// Handler decodes one family of RFXtrx packets.
//
// CanHandle is a cheap probe that never fails; Validate and Load report
// malformed packets. Implementations are safe for concurrent use.
type Handler interface {
	// CanHandle reports whether the type and subtype bytes belong to this
	// family.
	CanHandle(buf []byte) bool
	// Validate checks the declared length, type and subtype of buf.
	Validate(buf []byte) error
	// Parse validates buf and decodes it into a complete Result.
	Parse(buf []byte) (Result, error)
	// Load is the committed decode entry point used by a Registry.
	Load(buf []byte) (Result, error)
	// Family is the short family name, e.g. "Elec".
	Family() string
	// LogName identifies the decoder in log output.
	LogName() string
	// String renders the family and the id of the last decoded packet.
	String() string
	// Types and Subtypes return copies of the supported code tables.
	Types() map[byte]string
	Subtypes() map[byte]string
	// Size is the fixed length of the family's packets, length byte
	// included.
	Size() int
}

// payloadFunc extracts the family-specific fields of a validated packet.
type payloadFunc func(buf []byte) (Result, error)

// base carries what every family shares: its name, immutable type and
// subtype tables and fixed packet size. The id of the most recently decoded
// packet is the only state that changes after construction.
type base struct {
	family   string
	types    map[byte]string
	subtypes map[byte]string
	size     int
	payload  payloadFunc
	lastID   atomic.Pointer[string]
}

func (b *base) Family() string  { return b.family }
func (b *base) LogName() string { return "rfxcom.protocol." + b.family }
func (b *base) Size() int       { return b.size }

func (b *base) String() string {
	id := ""
	if p := b.lastID.Load(); p != nil {
		id = *p
	}
	return DeviceTag(b.family, id)
}

// DeviceTag renders the identity string of one decoded record. Unlike a
// decoder's String it does not depend on what else the decoder has seen.
func DeviceTag(family, id string) string {
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("<%s ID:%s>", family, id)
}

// Types returns a copy of the supported packet type table.
func (b *base) Types() map[byte]string { return copyTable(b.types) }

// Subtypes returns a copy of the supported packet subtype table.
func (b *base) Subtypes() map[byte]string { return copyTable(b.subtypes) }

func (b *base) CanHandle(buf []byte) bool {
	return CanHandle(buf, b.types, b.subtypes)
}

func (b *base) Validate(buf []byte) error {
	if err := Validate(buf, b.types, b.subtypes); err != nil {
		return err
	}
	if int(buf[offsetLength])+1 < b.size {
		return fmt.Errorf("%w: %s packets are %d bytes, declared %d",
			ErrInvalidPacketLength, b.family, b.size, int(buf[offsetLength])+1)
	}
	return nil
}

func (b *base) Parse(buf []byte) (Result, error) {
	if err := b.Validate(buf); err != nil {
		return nil, err
	}
	fields, err := b.payload(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.family, err)
	}
	if id, ok := fields.Text("id"); ok {
		b.lastID.Store(&id)
	}
	return ReadHeader(buf).Fields(b.types, b.subtypes).Merge(fields), nil
}

func (b *base) Load(buf []byte) (Result, error) {
	if err := b.Validate(buf); err != nil {
		return nil, err
	}
	return b.Parse(buf)
}

func copyTable(t map[byte]string) map[byte]string {
	out := make(map[byte]string, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
