package smartcard

import (
	"encoding/binary"
	"fmt"

	"github.com/cortex-x/go-cardlink-client/internal/domain"
)

// PC/SC part 10 reader features.
const (
	ioctlGetFeatureRequest = 0x42000000 + 3400
	featureExecutePace     = 0x20

	paceEstablishChannel = 0x02
	pacePinIDCAN         = 0x02
)

type controller interface {
	Control(ioctl uint32, in []byte) ([]byte, error)
}

// paceControlCode asks the reader for its feature list and returns the
// control code of FEATURE_EXECUTE_PACE.
func paceControlCode(ctl controller) (uint32, error) {
	rsp, err := ctl.Control(ioctlGetFeatureRequest, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: GET_FEATURE_REQUEST: %v", domain.ErrPaceUnsupported, err)
	}
	for len(rsp) >= 2 {
		tag, n := rsp[0], int(rsp[1])
		if len(rsp) < 2+n {
			break
		}
		if tag == featureExecutePace && n == 4 {
			return binary.BigEndian.Uint32(rsp[2:6]), nil
		}
		rsp = rsp[2+n:]
	}
	return 0, domain.ErrPaceUnsupported
}

// paceInput builds the EstablishPACEChannel request for a CAN without CHAT
// and certificate description.
func paceInput(can string) []byte {
	data := make([]byte, 0, 5+len(can))
	data = append(data, pacePinIDCAN, 0x00, byte(len(can)))
	data = append(data, can...)
	data = append(data, 0x00, 0x00)

	in := make([]byte, 3, 3+len(data))
	in[0] = paceEstablishChannel
	binary.LittleEndian.PutUint16(in[1:], uint16(len(data)))
	return append(in, data...)
}

// establishPACE lets the reader run PACE with the CAN. The secure channel
// then stays inside the reader.
func establishPACE(ctl controller, can string) error {
	code, err := paceControlCode(ctl)
	if err != nil {
		return err
	}
	rsp, err := ctl.Control(code, paceInput(can))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPace, err)
	}
	if len(rsp) < 4 {
		return fmt.Errorf("%w: short reader response", domain.ErrPace)
	}
	if result := binary.LittleEndian.Uint32(rsp[:4]); result != 0 {
		return fmt.Errorf("%w: reader result %08X", domain.ErrPace, result)
	}
	return nil
}
