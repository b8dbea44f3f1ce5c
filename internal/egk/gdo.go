package egk

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var ErrInvalidGDO = errors.New("egk: invalid EF.GDO")

// ParseICCSN extracts the card serial number from EF.GDO and returns it hex
// encoded. The ICCSN is stored under tag 5A; the two byte form 5F5A is also
// accepted.
func ParseICCSN(gdo []byte) (string, error) {
	if len(gdo) < 2 {
		return "", fmt.Errorf("%w: %d bytes", ErrInvalidGDO, len(gdo))
	}

	pos := 0
	switch {
	case gdo[0] == 0x5A:
		pos = 1
	case len(gdo) > 2 && gdo[0] == 0x5F && gdo[1] == 0x5A:
		pos = 2
	default:
		return "", fmt.Errorf("%w: unexpected tag %#02x", ErrInvalidGDO, gdo[0])
	}

	length, n, err := berLength(gdo[pos:])
	if err != nil {
		return "", err
	}
	pos += n
	if length == 0 || pos+length > len(gdo) {
		return "", fmt.Errorf("%w: value length %d exceeds data", ErrInvalidGDO, length)
	}
	return hex.EncodeToString(gdo[pos : pos+length]), nil
}

func berLength(data []byte) (length int, consumed int, err error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("%w: missing length", ErrInvalidGDO)
	}
	first := data[0]
	if first < 0x80 {
		return int(first), 1, nil
	}
	count := int(first & 0x7F)
	if count == 0 || count > 2 || len(data) < 1+count {
		return 0, 0, fmt.Errorf("%w: bad length encoding", ErrInvalidGDO)
	}
	for _, b := range data[1 : 1+count] {
		length = length<<8 | int(b)
	}
	return length, 1 + count, nil
}
