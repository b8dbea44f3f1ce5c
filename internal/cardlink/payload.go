package cardlink

import (
	"fmt"
	"strings"

	"github.com/cortex-x/go-cardlink-client/internal/domain"
)

// Payload type names as they appear in the envelope's "type" field.
const (
	TypeSessionInformation = "sessionInformation"
	TypeSendPhoneNumber    = "requestSMSCode"
	TypeConfirmPhoneNumber = "requestSMSCodeResponse"
	TypeSendTan            = "confirmSMSCode"
	TypeConfirmTan         = "confirmSMSCodeResponse"
	TypeRegisterEgk        = "registerEGK"
	TypeSendApdu           = "sendAPDU"
	TypeSendApduResponse   = "sendAPDUResponse"
	TypeICCSNReassignment  = "ICCSNReassignment"
	TypeRegisterEgkFinish  = "registerEgkFinish"
	TypeTasklistError      = "receiveTasklistError"
)

// Payload is one variant of the CardLink payload union.
type Payload interface {
	PayloadType() string
	Validate() error
}

type SessionInformation struct {
	WebSocketID     string `json:"webSocketId"`
	PhoneRegistered bool   `json:"phoneRegistered"`
}

type SendPhoneNumber struct {
	PhoneNumber string `json:"phoneNumber"`
}

type ConfirmPhoneNumber struct {
	ResultCode   domain.ResultCode `json:"resultCode"`
	ErrorMessage *string           `json:"errorMessage"`
}

type SendTan struct {
	SMSCode string `json:"smsCode"`
}

type ConfirmTan struct {
	ResultCode   domain.ResultCode `json:"resultCode"`
	ErrorMessage *string           `json:"errorMessage"`
}

type RegisterEgk struct {
	CardSessionID string             `json:"cardSessionId"`
	GDO           domain.Base64Bytes `json:"gdo"`
	CardVersion   domain.Base64Bytes `json:"cardVersion"`
	X509AuthRSA   domain.Base64Bytes `json:"x509AuthRSA,omitempty"`
	X509AuthECC   domain.Base64Bytes `json:"x509AuthECC"`
	CVCAuth       domain.Base64Bytes `json:"cvcAuth"`
	CVCCA         domain.Base64Bytes `json:"cvcCA"`
	ATR           domain.Base64Bytes `json:"atr"`
}

type SendApdu struct {
	CardSessionID string             `json:"cardSessionId"`
	Apdu          domain.Base64Bytes `json:"apdu"`
}

type SendApduResponse struct {
	CardSessionID string             `json:"cardSessionId"`
	Response      domain.Base64Bytes `json:"response"`
}

type ICCSNReassignment struct {
	LastAssignment string `json:"lastAssignment"`
}

type RegisterEgkFinish struct {
	RemoveCard bool `json:"removeCard"`
}

type TasklistErrorPayload struct {
	CardSessionID string  `json:"cardSessionId"`
	Status        int     `json:"status"`
	TIStatus      *string `json:"tistatus,omitempty"`
	RootCause     *string `json:"rootcause,omitempty"`
	ErrorMessage  *string `json:"errormessage,omitempty"`
}

func (*SessionInformation) PayloadType() string   { return TypeSessionInformation }
func (*SendPhoneNumber) PayloadType() string      { return TypeSendPhoneNumber }
func (*ConfirmPhoneNumber) PayloadType() string   { return TypeConfirmPhoneNumber }
func (*SendTan) PayloadType() string              { return TypeSendTan }
func (*ConfirmTan) PayloadType() string           { return TypeConfirmTan }
func (*RegisterEgk) PayloadType() string          { return TypeRegisterEgk }
func (*SendApdu) PayloadType() string             { return TypeSendApdu }
func (*SendApduResponse) PayloadType() string     { return TypeSendApduResponse }
func (*ICCSNReassignment) PayloadType() string    { return TypeICCSNReassignment }
func (*RegisterEgkFinish) PayloadType() string    { return TypeRegisterEgkFinish }
func (*TasklistErrorPayload) PayloadType() string { return TypeTasklistError }

func (p *SessionInformation) Validate() error {
	return requireFields(TypeSessionInformation, "webSocketId", p.WebSocketID)
}

func (p *SendPhoneNumber) Validate() error {
	return requireFields(TypeSendPhoneNumber, "phoneNumber", p.PhoneNumber)
}

func (p *ConfirmPhoneNumber) Validate() error {
	return requireResultCode(TypeConfirmPhoneNumber, p.ResultCode)
}

func (p *SendTan) Validate() error {
	return requireFields(TypeSendTan, "smsCode", p.SMSCode)
}

func (p *ConfirmTan) Validate() error {
	return requireResultCode(TypeConfirmTan, p.ResultCode)
}

func (p *RegisterEgk) Validate() error {
	if err := requireFields(TypeRegisterEgk, "cardSessionId", p.CardSessionID); err != nil {
		return err
	}
	binary := []struct {
		name  string
		value []byte
	}{
		{"gdo", p.GDO},
		{"cardVersion", p.CardVersion},
		{"x509AuthECC", p.X509AuthECC},
		{"cvcAuth", p.CVCAuth},
		{"cvcCA", p.CVCCA},
		{"atr", p.ATR},
	}
	for _, field := range binary {
		if len(field.value) == 0 {
			return fmt.Errorf("%w: %s missing %s", ErrMalformedEnvelope, TypeRegisterEgk, field.name)
		}
	}
	return nil
}

func (p *SendApdu) Validate() error {
	if len(p.Apdu) == 0 {
		return fmt.Errorf("%w: %s missing apdu", ErrMalformedEnvelope, TypeSendApdu)
	}
	return requireFields(TypeSendApdu, "cardSessionId", p.CardSessionID)
}

func (p *SendApduResponse) Validate() error {
	if len(p.Response) == 0 {
		return fmt.Errorf("%w: %s missing response", ErrMalformedEnvelope, TypeSendApduResponse)
	}
	return requireFields(TypeSendApduResponse, "cardSessionId", p.CardSessionID)
}

func (p *ICCSNReassignment) Validate() error {
	return requireFields(TypeICCSNReassignment, "lastAssignment", p.LastAssignment)
}

func (p *RegisterEgkFinish) Validate() error { return nil }

func (p *TasklistErrorPayload) Validate() error {
	if p.Status == 0 {
		return fmt.Errorf("%w: %s missing status", ErrMalformedEnvelope, TypeTasklistError)
	}
	return nil
}

func requireFields(typ string, name string, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s missing %s", ErrMalformedEnvelope, typ, name)
	}
	return nil
}

func requireResultCode(typ string, code domain.ResultCode) error {
	if !code.Valid() {
		return fmt.Errorf("%w: %s has invalid resultCode %q", ErrMalformedEnvelope, typ, code)
	}
	return nil
}

// payloadFactories is the decode table keyed by the envelope type string.
var payloadFactories = map[string]func() Payload{
	TypeSessionInformation: func() Payload { return &SessionInformation{} },
	TypeSendPhoneNumber:    func() Payload { return &SendPhoneNumber{} },
	TypeConfirmPhoneNumber: func() Payload { return &ConfirmPhoneNumber{} },
	TypeSendTan:            func() Payload { return &SendTan{} },
	TypeConfirmTan:         func() Payload { return &ConfirmTan{} },
	TypeRegisterEgk:        func() Payload { return &RegisterEgk{} },
	TypeSendApdu:           func() Payload { return &SendApdu{} },
	TypeSendApduResponse:   func() Payload { return &SendApduResponse{} },
	TypeICCSNReassignment:  func() Payload { return &ICCSNReassignment{} },
	TypeRegisterEgkFinish:  func() Payload { return &RegisterEgkFinish{} },
	TypeTasklistError:      func() Payload { return &TasklistErrorPayload{} },
}

func messageOf(msg *string) string {
	if msg == nil {
		return ""
	}
	return *msg
}
