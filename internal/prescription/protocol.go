package prescription

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/cortex-x/go-cardlink-client/internal/infra/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout = 30 * time.Second

	inboxSize = 32
)

var (
	ErrMalformedMessage = errors.New("prescription: malformed message")
	ErrUnknownMessage   = errors.New("prescription: unknown message type")
)

// ProtocolError carries the error message the exchange failed with. It is
// either sent by the service or built locally for timeouts and mismatches.
type ProtocolError struct {
	Message GenericErrorMessage
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("prescription: %s: %s", e.Message.ErrorCode, e.Message.ErrorMessage)
}

func (e *ProtocolError) Code() GenericErrorResultType {
	return e.Message.ErrorCode
}

func localError(code GenericErrorResultType, msg, correlationID string) *ProtocolError {
	return &ProtocolError{Message: GenericErrorMessage{
		ErrorCode:     code,
		ErrorMessage:  msg,
		MessageID:     uuid.NewString(),
		CorrelationID: correlationID,
	}}
}

var messageFactories = map[string]func() Message{
	TypeRequestPrescriptionList:          func() Message { return &RequestPrescriptionList{} },
	TypeAvailablePrescriptionLists:       func() Message { return &AvailablePrescriptionLists{} },
	TypeSelectedPrescriptionList:         func() Message { return &SelectedPrescriptionList{} },
	TypeSelectedPrescriptionListResponse: func() Message { return &SelectedPrescriptionListResponse{} },
	TypeGenericError:                     func() Message { return &GenericErrorMessage{} },
}

// Encode renders msg as a flat JSON object with its "type" first.
func Encode(msg Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("prescription: encode %s: %w", msg.MessageType(), err)
	}
	typ, _ := json.Marshal(msg.MessageType())
	out := make([]byte, 0, len(body)+len(typ)+10)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return string(out), nil
}

func Decode(text string) (Message, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal([]byte(text), &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if head.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	factory, ok := messageFactories[*head.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, *head.Type)
	}
	msg := factory()
	if err := json.Unmarshal([]byte(text), msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, *head.Type, err)
	}
	if err := validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func validate(msg Message) error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s missing %s", ErrMalformedMessage, msg.MessageType(), field)
	}
	switch m := msg.(type) {
	case *RequestPrescriptionList:
		if m.MessageID == "" {
			return missing("messageId")
		}
	case *AvailablePrescriptionLists:
		if m.AvailablePrescriptionLists == nil {
			return missing("availablePrescriptionLists")
		}
		if m.CorrelationID == "" {
			return missing("correlationId")
		}
	case *SelectedPrescriptionList:
		if len(m.ICCSN) == 0 {
			return missing("ICCSN")
		}
		if !m.SupplyOptionsType.Valid() {
			return missing("supplyOptionsType")
		}
	case *SelectedPrescriptionListResponse:
		if m.MessageID == "" {
			return missing("messageId")
		}
		if m.CorrelationID == "" {
			return missing("correlationId")
		}
	case *GenericErrorMessage:
		if m.ErrorCode == "" {
			return missing("errorCode")
		}
	}
	return nil
}

// Sender is the part of the socket the protocol writes to.
type Sender interface {
	Send(ctx context.Context, data string) error
}

// Protocol fetches and selects prescriptions over an established CardLink
// socket.
type Protocol struct {
	sender  Sender
	timeout time.Duration
	inbox   *websocket.Queue[Message]

	mu sync.Mutex
}

func NewProtocol(sender Sender, timeout time.Duration) *Protocol {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Protocol{
		sender:  sender,
		timeout: timeout,
		inbox:   websocket.NewQueue[Message]("prescription", inboxSize),
	}
}

func (p *Protocol) HandleMessage(msg string) func() {
	decoded, err := Decode(msg)
	if err != nil {
		return nil
	}
	return func() { p.inbox.Push(decoded) }
}

// RequestPrescriptionsForICCSNs converts hex ICCSNs and requests their
// prescription lists. An empty messageID gets a fresh one.
func (p *Protocol) RequestPrescriptionsForICCSNs(ctx context.Context, iccsns []string, messageID string) (*AvailablePrescriptionLists, error) {
	req := RequestPrescriptionList{ICCSNs: make([]domain.Base64Bytes, 0, len(iccsns)), MessageID: messageID}
	for _, s := range iccsns {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, localError(ErrorInvalidMessageData, fmt.Sprintf("ICCSN %q is not hex", s), messageID)
		}
		req.ICCSNs = append(req.ICCSNs, raw)
	}
	return p.RequestPrescriptions(ctx, req)
}

func (p *Protocol) RequestPrescriptions(ctx context.Context, req RequestPrescriptionList) (*AvailablePrescriptionLists, error) {
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	if req.ICCSNs == nil {
		req.ICCSNs = []domain.Base64Bytes{}
	}
	log.Debug().Str("message_id", req.MessageID).Int("iccsns", len(req.ICCSNs)).Msg("requesting prescriptions")
	return exchange[*AvailablePrescriptionLists](ctx, p, &req, req.MessageID, func(m *AvailablePrescriptionLists) string {
		return m.CorrelationID
	})
}

func (p *Protocol) SelectPrescriptions(ctx context.Context, sel SelectedPrescriptionList) (*SelectedPrescriptionListResponse, error) {
	if sel.MessageID == "" {
		sel.MessageID = uuid.NewString()
	}
	if sel.PrescriptionIndexList == nil {
		sel.PrescriptionIndexList = []string{}
	}
	log.Debug().Str("message_id", sel.MessageID).Int("selected", len(sel.PrescriptionIndexList)).Msg("selecting prescriptions")
	return exchange[*SelectedPrescriptionListResponse](ctx, p, &sel, sel.MessageID, func(m *SelectedPrescriptionListResponse) string {
		return m.CorrelationID
	})
}

func exchange[T Message](ctx context.Context, p *Protocol, req Message, messageID string, correlationOf func(T) string) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	if n := p.inbox.Drain(); n > 0 {
		log.Debug().Int("count", n).Msg("discarded stale prescription messages")
	}

	text, err := Encode(req)
	if err == nil {
		err = p.sender.Send(ctx, text)
	}
	if err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		log.Error().Err(err).Str("message_id", messageID).Msg("sending prescription request failed")
		return zero, localError(ErrorUnknown, "Unspecified error", messageID)
	}

	resp, err := receive[T](ctx, p, messageID)
	if err != nil {
		return zero, err
	}
	if correlationOf(resp) != messageID {
		return zero, localError(ErrorInvalidMessageData, "The received message was not valid.", messageID)
	}
	return resp, nil
}

// receive waits for a message of type T. Other messages are skipped but do
// not extend the deadline; an error message ends the wait immediately.
func receive[T Message](ctx context.Context, p *Protocol, messageID string) (T, error) {
	var zero T
	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	for {
		msg, err := p.inbox.Pop(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			log.Error().Str("message_id", messageID).Msg("timeout waiting for prescription response")
			return zero, localError(ErrorUnknown, "Timeout", messageID)
		}
		switch m := msg.(type) {
		case T:
			return m, nil
		case *GenericErrorMessage:
			log.Debug().Str("code", string(m.ErrorCode)).Str("error", m.ErrorMessage).Msg("received generic error")
			return zero, &ProtocolError{Message: *m}
		default:
			log.Debug().Str("type", msg.MessageType()).Msg("ignoring unrelated prescription message")
		}
	}
}
