package cardlink

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cortex-x/go-cardlink-client/internal/domain"
)

const maxCanLength = 6

// CheckCan validates a CAN before it is handed to the card. The checks run in
// a fixed order: empty, too long, not numeric.
func CheckCan(can string) (domain.CanResultCode, string, bool) {
	if strings.TrimSpace(can) == "" {
		return domain.CanEmpty, "Empty CAN provided.", false
	}
	if n := utf8.RuneCountInString(can); n > maxCanLength {
		return domain.CanTooLong, fmt.Sprintf("Wrong size of CAN: %d.", n), false
	}
	for _, r := range can {
		if r < '0' || r > '9' {
			return domain.CanNotNumeric, "Provided CAN is not numeric.", false
		}
	}
	return "", "", true
}
