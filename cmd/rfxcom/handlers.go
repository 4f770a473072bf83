package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/agalera/rfxcom/internal/monitoring"
	"github.com/agalera/rfxcom/internal/protocol"
	"github.com/agalera/rfxcom/internal/serialmux"
)

// RFXtrx control traffic: interface responses and transmitter acks.
const (
	typeInterfaceResponse = 0x01
	typeTransmitterAck    = 0x02
)

// readingStore is the part of *db.DB the decode loop writes to.
type readingStore interface {
	RecordReading(family string, r protocol.Result, raw []byte) (string, error)
	RecordRejectedFrame(raw []byte, reason string) error
}

func isControlFrame(raw []byte) bool {
	return len(raw) > 1 && (raw[1] == typeInterfaceResponse || raw[1] == typeTransmitterAck)
}

// handleFrame decodes one frame and stores the result. Frames no decoder
// accepts are stored as rejected and the decode error is returned.
func handleFrame(registry *protocol.Registry, store readingStore, raw []byte) error {
	if isControlFrame(raw) {
		monitoring.Logf("receiver control frame %s", protocol.DumpHex(raw))
		return nil
	}

	h, result, err := registry.Decode(raw)
	if err != nil {
		if h != nil {
			monitoring.Named(h.LogName())("malformed packet %s: %v", protocol.DumpHex(raw), err)
		}
		if rerr := store.RecordRejectedFrame(raw, err.Error()); rerr != nil {
			monitoring.Logf("failed to record rejected frame: %v", rerr)
		}
		return err
	}

	id, err := store.RecordReading(h.Family(), result, raw)
	if err != nil {
		return fmt.Errorf("failed to record %s reading: %w", h.Family(), err)
	}
	monitoring.Named(h.LogName())("%s recorded reading %s", h, id)
	return nil
}

// runDecoder feeds every frame from m through handleFrame until ctx is
// cancelled or the subscription closes.
func runDecoder(ctx context.Context, m serialmux.SerialMuxInterface, registry *protocol.Registry, store readingStore) {
	id, c := m.Subscribe()
	defer m.Unsubscribe(id)
	for {
		select {
		case raw, ok := <-c:
			if !ok {
				monitoring.Logf("subscription closed")
				return
			}
			if err := handleFrame(registry, store, raw); err != nil {
				monitoring.Logf("error handling frame: %v", err)
			}
		case <-ctx.Done():
			monitoring.Logf("decode routine terminated")
			return
		}
	}
}

// loadFixtureFrames reads a file of hex frames, one per line. Blank lines
// and lines starting with # are skipped.
func loadFixtureFrames(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixtures file: %w", err)
	}

	var frames [][]byte
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		frame, err := protocol.ParseHex(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, i+1, err)
		}
		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames in %s", path)
	}
	return frames, nil
}
