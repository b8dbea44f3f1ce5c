package smartcard

import (
	"errors"
	"fmt"
)

// Status words the eGK file system answers with.
const (
	swOK                  = 0x9000
	swEndOfFile           = 0x6282
	swWrongLength         = 0x6700
	swSecurityStatus      = 0x6982
	swSecureMessagingData = 0x6988
	swFileNotFound        = 0x6A82
	swWrongOffset         = 0x6B00
)

const maxChunk = 256

var errInvalidResponse = errors.New("smartcard: response shorter than status word")

// statusError is a status word the card answered with that the caller did
// not expect.
type statusError struct {
	op string
	sw uint16
}

func (e *statusError) Error() string {
	return fmt.Sprintf("smartcard: %s failed: SW=%04X", e.op, e.sw)
}

type transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

func splitResponse(rsp []byte) ([]byte, uint16, error) {
	if len(rsp) < 2 {
		return nil, 0, errInvalidResponse
	}
	n := len(rsp) - 2
	return rsp[:n], uint16(rsp[n])<<8 | uint16(rsp[n+1]), nil
}

// transmitAPDU sends cmd and follows 61xx with GET RESPONSE and 6Cxx with a
// resend using the length the card asked for.
func transmitAPDU(tx transmitter, cmd []byte) ([]byte, uint16, error) {
	rsp, err := tx.Transmit(cmd)
	if err != nil {
		return nil, 0, err
	}
	data, sw, err := splitResponse(rsp)
	if err != nil {
		return nil, 0, err
	}

	if sw>>8 == 0x6C && len(cmd) >= 5 {
		retry := append([]byte(nil), cmd...)
		retry[len(retry)-1] = byte(sw)
		if rsp, err = tx.Transmit(retry); err != nil {
			return nil, 0, err
		}
		if data, sw, err = splitResponse(rsp); err != nil {
			return nil, 0, err
		}
	}

	out := append([]byte(nil), data...)
	for sw>>8 == 0x61 {
		rsp, err = tx.Transmit([]byte{0x00, 0xC0, 0x00, 0x00, byte(sw)})
		if err != nil {
			return nil, 0, fmt.Errorf("smartcard: GET RESPONSE: %w", err)
		}
		if data, sw, err = splitResponse(rsp); err != nil {
			return nil, 0, err
		}
		out = append(out, data...)
	}
	return out, sw, nil
}

// selectAID selects an application by AID without asking for FCI.
func selectAID(tx transmitter, aid []byte) error {
	cmd := make([]byte, 0, 5+len(aid))
	cmd = append(cmd, 0x00, 0xA4, 0x04, 0x0C, byte(len(aid)))
	cmd = append(cmd, aid...)

	_, sw, err := transmitAPDU(tx, cmd)
	if err != nil {
		return err
	}
	if sw != swOK {
		return &statusError{op: fmt.Sprintf("SELECT %X", aid), sw: sw}
	}
	return nil
}

// readBinarySFI reads a transparent file of the currently selected
// application. The first command selects the file by short identifier, the
// following ones continue at the reached offset until the card reports the
// end of the file.
func readBinarySFI(tx transmitter, sfi byte) ([]byte, error) {
	var out []byte
	cmd := []byte{0x00, 0xB0, 0x80 | sfi, 0x00, 0x00}

	for {
		data, sw, err := transmitAPDU(tx, cmd)
		if err != nil {
			return nil, err
		}
		switch sw {
		case swOK:
			out = append(out, data...)
			if len(data) < maxChunk {
				return out, nil
			}
		case swEndOfFile:
			return append(out, data...), nil
		case swWrongOffset, swWrongLength:
			if len(out) > 0 {
				return out, nil
			}
			return nil, &statusError{op: fmt.Sprintf("READ BINARY SFI %02X", sfi), sw: sw}
		default:
			return nil, &statusError{op: fmt.Sprintf("READ BINARY SFI %02X", sfi), sw: sw}
		}

		offset := len(out)
		if offset > 0x7FFF {
			return out, nil
		}
		cmd = []byte{0x00, 0xB0, byte(offset >> 8), byte(offset), 0x00}
	}
}
