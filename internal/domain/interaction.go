package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// ResultCode is the closed set of result codes the CardLink service reports for
// phone number and TAN confirmation.
type ResultCode string

const (
	ResultSuccess                ResultCode = "SUCCESS"
	ResultNumberFromWrongCountry ResultCode = "NUMBER_FROM_WRONG_COUNTRY"
	ResultNumberBlocked          ResultCode = "NUMBER_BLOCKED"
	ResultTanExpired             ResultCode = "TAN_EXPIRED"
	ResultTanIncorrect           ResultCode = "TAN_INCORRECT"
	ResultTanRetryLimitExceeded  ResultCode = "TAN_RETRY_LIMIT_EXCEEDED"
	ResultInvalidRequest         ResultCode = "INVALID_REQUEST"
	ResultUnknownError           ResultCode = "UNKNOWN_ERROR"
)

func (c ResultCode) Valid() bool {
	switch c {
	case ResultSuccess, ResultNumberFromWrongCountry, ResultNumberBlocked, ResultTanExpired,
		ResultTanIncorrect, ResultTanRetryLimitExceeded, ResultInvalidRequest, ResultUnknownError:
		return true
	}
	return false
}

func (c *ResultCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	code := ResultCode(s)
	if !code.Valid() {
		return fmt.Errorf("unknown result code %q", s)
	}
	*c = code
	return nil
}

// CanResultCode explains why the user is asked for the CAN again.
type CanResultCode string

const (
	CanIncorrect  CanResultCode = "CAN_INCORRECT"
	CanEmpty      CanResultCode = "CAN_EMPTY"
	CanTooLong    CanResultCode = "CAN_TOO_LONG"
	CanNotNumeric CanResultCode = "CAN_NOT_NUMERIC"
)

// UserInteraction is implemented by the UI layer. Methods returning a value
// block until the user answered or ctx is done.
type UserInteraction interface {
	OnPhoneNumberRequest(ctx context.Context) (string, error)
	OnPhoneNumberRetry(ctx context.Context, code ResultCode, msg string) (string, error)
	OnTanRequest(ctx context.Context) (string, error)
	OnTanRetry(ctx context.Context, code ResultCode, msg string) (string, error)
	OnCanRequest(ctx context.Context) (string, error)
	OnCanRetry(ctx context.Context, code CanResultCode, msg string) (string, error)

	RequestCardInsertion()
	OnCardRecognized()
	OnCardRemoved()
	OnCardInsufficient()
	OnCardInteractionComplete()
}
