package protocol

import "fmt"

// Registry dispatches raw packets to the first decoder that claims them.
// It is built once and read-only afterwards.
type Registry struct {
	handlers []Handler
}

// NewRegistry returns a registry probing handlers in the given order.
func NewRegistry(handlers ...Handler) *Registry {
	return &Registry{handlers: handlers}
}

// DefaultRegistry returns a registry holding a decoder for every supported
// sensor family.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewTemperature(),
		NewHumidity(),
		NewTempHumidity(),
		NewRain(),
		NewWind(),
		NewElec(),
	)
}

// Lookup returns the decoder whose type and subtype tables match buf.
func (r *Registry) Lookup(buf []byte) (Handler, bool) {
	for _, h := range r.handlers {
		if h.CanHandle(buf) {
			return h, true
		}
	}
	return nil, false
}

// Decode finds the decoder for buf and loads it. The decoder is returned
// alongside any decoding error so callers can log against it.
func (r *Registry) Decode(buf []byte) (Handler, Result, error) {
	h, ok := r.Lookup(buf)
	if !ok {
		if len(buf) < 3 {
			return nil, nil, fmt.Errorf("%w: %d byte buffer", ErrUnhandledPacket, len(buf))
		}
		return nil, nil, fmt.Errorf("%w: type 0x%02X subtype 0x%02X", ErrUnhandledPacket, buf[offsetType], buf[offsetSubtype])
	}
	res, err := h.Load(buf)
	return h, res, err
}

// Handlers returns the registered decoders in probe order.
func (r *Registry) Handlers() []Handler {
	return append([]Handler(nil), r.handlers...)
}

// Families returns the family names of the registered decoders.
func (r *Registry) Families() []string {
	names := make([]string, 0, len(r.handlers))
	for _, h := range r.handlers {
		names = append(names, h.Family())
	}
	return names
}

// Family returns the decoder registered under name.
func (r *Registry) Family(name string) (Handler, bool) {
	for _, h := range r.handlers {
		if h.Family() == name {
			return h, true
		}
	}
	return nil, false
}
