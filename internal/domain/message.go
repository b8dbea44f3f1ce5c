package domain

type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// InboundMessage is what the UI sends back over the agent socket.
type InboundMessage struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type RetryRequest struct {
	ResultCode string `json:"resultCode"`
	Message    string `json:"message,omitempty"`
}

// Agent to UI message types.
const (
	MsgPhoneNumberRequest     = "PHONE_NUMBER_REQUEST"
	MsgPhoneNumberRetry       = "PHONE_NUMBER_RETRY"
	MsgTanRequest             = "TAN_REQUEST"
	MsgTanRetry               = "TAN_RETRY"
	MsgCanRequest             = "CAN_REQUEST"
	MsgCanRetry               = "CAN_RETRY"
	MsgCardInsertionRequested = "CARD_INSERTION_REQUESTED"
	MsgCardRecognized         = "CARD_RECOGNIZED"
	MsgCardRemoved            = "CARD_REMOVED"
	MsgCardInsufficient       = "CARD_INSUFFICIENT"
	MsgCardInteractionDone    = "CARD_INTERACTION_COMPLETE"
	MsgAuthStarted            = "AUTH_STARTED"
	MsgAuthCompleted          = "AUTH_COMPLETED"
	MsgAuthFailed             = "AUTH_FAILED"
	MsgError                  = "ERROR"
)

// UI to agent reply types.
const (
	ReplyPhoneNumber = "PHONE_NUMBER"
	ReplyTan         = "TAN"
	ReplyCan         = "CAN"
)

const (
	ErrCodeReaderNotFound = 1001
	ErrMsgReaderNotFound  = "No smart card reader found."

	ErrCodeNotConnected = 1002
	ErrMsgNotConnected  = "No CardLink session established."

	ErrCodeActivationBusy = 1003
	ErrMsgActivationBusy  = "Another activation is already running."

	ErrCodeBadRequest = 1004
	ErrMsgBadRequest  = "The request could not be parsed."

	ErrCodePrescription = 1005
	ErrMsgPrescription  = "The prescription service reported an error."

	ErrCodeUnexpectedReply = 1006
	ErrMsgUnexpectedReply  = "No request is waiting for this reply."
)
