package cardlink

import (
	"fmt"
)

// ServerError is an error reported by the CardLink service. It always carries
// the numeric code.
type ServerError struct {
	Code    int
	Name    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("cardlink: %s (%d): %s", e.Name, e.Code, e.Message)
}

// Is matches any ServerError with the same code, so the sentinels below work
// with errors.Is regardless of the message.
func (e *ServerError) Is(target error) bool {
	t, ok := target.(*ServerError)
	return ok && t.Code == e.Code
}

type serverCode struct {
	name    string
	message string
}

const codeUnknownError = 1019

var serverCodes = map[int]serverCode{
	1004: {"NotFound", "Requested Entity Not found"},
	1005: {"SicctError", "SICCT service returns an error"},
	1006: {"ProcessAlreadyStarted", "Register eGK process is already ongoing"},
	1007: {"UnknownWebsocketMessage", "Unknown Web Socket message"},
	1008: {"InvalidWebsocketMessage", "Invalid Web Socket message, can occur if required data are missing or message encoding is wrong"},
	1009: {"EgkLimitReached", "Limit of 10 eGKs per session reached"},
	1010: {"SessionExpired", "session time has exceeded the permissible 15 minutes"},
	1011: {"ExpiredCertificate", "Expired eGK certificate"},
	1012: {"InvalidCertificate", "Invalid eGK certificate (signature invalid, not a valid eGK certificate, ...)"},
	1013: {"CertificateValidityMismatch", "Mismatch between certificate validity periods of X.509 and CVC"},
	1014: {"InvalidGdo", "Invalid EF.GDO"},
	1015: {"IccsnMismatch", "Mismatch between ICCSN in CV certificate and EF.GDO"},
	1016: {"InvalidEfAtr", "Invalid EF.ATR"},
	1017: {"UnableToSendSms", "Unable to send SMS for Tan validation"},
	1018: {"NotAdmissibleTelPrefix", "Not admissible telephone number prefix, only +49... is allowed"},
	1019: {"UnknownError", "Unknown error, probably an internal server error happened or used on an unknown result code"},
	1022: {"TanExpired", "Tan has expired"},
	1024: {"TanRetryLimitExceeded", "Tan retry limit exceeded"},
	1025: {"ServerTimeout", "If the client does not receive an APDU message from the CardLink service"},
}

// ErrorByCode maps a server status to its ServerError. Unknown codes become
// UnknownError. An empty message selects the default text for the code.
func ErrorByCode(code int, message string) *ServerError {
	def, ok := serverCodes[code]
	if !ok {
		code = codeUnknownError
		def = serverCodes[codeUnknownError]
	}
	if message == "" {
		message = def.message
	}
	return &ServerError{Code: code, Name: def.name, Message: message}
}

var (
	ErrNotFound                    = ErrorByCode(1004, "")
	ErrSicct                       = ErrorByCode(1005, "")
	ErrProcessAlreadyStarted       = ErrorByCode(1006, "")
	ErrUnknownWebsocketMessage     = ErrorByCode(1007, "")
	ErrInvalidWebsocketMessage     = ErrorByCode(1008, "")
	ErrEgkLimitReached             = ErrorByCode(1009, "")
	ErrSessionExpired              = ErrorByCode(1010, "")
	ErrExpiredCertificate          = ErrorByCode(1011, "")
	ErrInvalidCertificate          = ErrorByCode(1012, "")
	ErrCertificateValidityMismatch = ErrorByCode(1013, "")
	ErrInvalidGdo                  = ErrorByCode(1014, "")
	ErrIccsnMismatch               = ErrorByCode(1015, "")
	ErrInvalidEfAtr                = ErrorByCode(1016, "")
	ErrUnableToSendSms             = ErrorByCode(1017, "")
	ErrNotAdmissibleTelPrefix      = ErrorByCode(1018, "")
	ErrUnknown                     = ErrorByCode(1019, "")
	ErrTanExpired                  = ErrorByCode(1022, "")
	ErrTanRetryLimitExceeded       = ErrorByCode(1024, "")
	ErrServerTimeout               = ErrorByCode(1025, "")
)

// ClientErrorKind enumerates failures raised on the client side.
type ClientErrorKind int

const (
	CanStepInterrupted ClientErrorKind = iota + 1
	CardRemoved
	CardInsufficient
	OtherPaceError
	OtherNfcError
	Timeout
	OtherClientError
)

func (k ClientErrorKind) String() string {
	switch k {
	case CanStepInterrupted:
		return "CanStepInterrupted"
	case CardRemoved:
		return "CardRemoved"
	case CardInsufficient:
		return "CardInsufficient"
	case OtherPaceError:
		return "OtherPaceError"
	case OtherNfcError:
		return "OtherNfcError"
	case Timeout:
		return "Timeout"
	default:
		return "OtherClientError"
	}
}

func (k ClientErrorKind) defaultMessage() string {
	switch k {
	case CanStepInterrupted:
		return "The CAN based channel establishment was interrupted."
	case CardRemoved:
		return "The card was removed or connection was interrupted."
	case CardInsufficient:
		return "The provided card is not sufficient."
	case OtherPaceError:
		return "Error during PACE."
	case OtherNfcError:
		return "Error during NFC communication."
	case Timeout:
		return "A timeout happened."
	default:
		return "An error happened on client side."
	}
}

// ClientError is a local failure. It never carries a server code and wraps
// the error that caused it.
type ClientError struct {
	Kind    ClientErrorKind
	Message string
	Err     error
}

func NewClientError(kind ClientErrorKind, cause error) *ClientError {
	return &ClientError{Kind: kind, Message: kind.defaultMessage(), Err: cause}
}

func (e *ClientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cardlink: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("cardlink: %s: %s", e.Kind, e.Message)
}

func (e *ClientError) Unwrap() error { return e.Err }

func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	return ok && t.Kind == e.Kind
}

var (
	ErrCanStepInterrupted = &ClientError{Kind: CanStepInterrupted}
	ErrCardRemoved        = &ClientError{Kind: CardRemoved}
	ErrCardInsufficient   = &ClientError{Kind: CardInsufficient}
	ErrOtherPace          = &ClientError{Kind: OtherPaceError}
	ErrOtherNfc           = &ClientError{Kind: OtherNfcError}
	ErrTimeout            = &ClientError{Kind: Timeout}
	ErrOtherClient        = &ClientError{Kind: OtherClientError}
)
