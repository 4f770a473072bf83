package serialmux

import "fmt"

// interfaceCommandLength is the size of an RFXtrx interface control frame,
// length byte included.
const interfaceCommandLength = 14

// ScanFrames is a bufio.SplitFunc that yields RFXtrx frames. Each frame is
// its length byte followed by that many bytes. Zero length bytes carry no
// frame and are skipped; a truncated frame at EOF is dropped.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	skip := 0
	for skip < len(data) && data[skip] == 0 {
		skip++
	}
	data = data[skip:]
	if len(data) == 0 {
		return skip, nil, nil
	}
	n := int(data[0]) + 1
	if len(data) < n {
		if atEOF {
			return skip + len(data), nil, nil
		}
		return skip, nil, nil
	}
	return skip + n, data[:n], nil
}

func interfaceCommand(seq, cmd byte) []byte {
	b := make([]byte, interfaceCommandLength)
	b[0] = interfaceCommandLength - 1
	b[3] = seq
	b[4] = cmd
	return b
}

// ResetCommand clears the receiver's state. The device ignores input for a
// short while afterwards.
func ResetCommand() []byte { return interfaceCommand(0x00, 0x00) }

// StatusCommand asks the receiver to report its firmware and enabled
// protocols.
func StatusCommand() []byte { return interfaceCommand(0x01, 0x02) }

// StartReceiverCommand tells the receiver to begin forwarding radio packets.
func StartReceiverCommand() []byte { return interfaceCommand(0x02, 0x07) }

// validateFrame checks that b is a single well-formed frame.
func validateFrame(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidFrame)
	}
	if int(b[0])+1 != len(b) {
		return fmt.Errorf("%w: declares %d bytes, has %d", ErrInvalidFrame, b[0], len(b)-1)
	}
	return nil
}
