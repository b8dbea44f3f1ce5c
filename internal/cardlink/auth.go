package cardlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/cortex-x/go-cardlink-client/internal/egk"
	"github.com/cortex-x/go-cardlink-client/internal/infra/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMessageTimeout = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second

	inboxSize = 64
)

var errMessageTimeout = errors.New("cardlink: no message within timeout")

// Transport is the socket the protocol talks over.
type Transport interface {
	ConnectWithTimeout(ctx context.Context, timeout time.Duration) error
	Send(ctx context.Context, data string) error
	SessionID() string
}

type Options struct {
	ReadPersonalData bool
	ReadInsurerData  bool
	MessageTimeout   time.Duration
	ConnectTimeout   time.Duration
	// Terminal selects the reader by name. Empty means the first one.
	Terminal string
}

// AuthResult is what a successful attempt hands back.
type AuthResult struct {
	PersonalData               *domain.PersonalData `json:"personalData,omitempty"`
	InsurerData                *domain.InsurerData  `json:"insurerData,omitempty"`
	CardSessionID              string               `json:"cardSessionId"`
	ICCSN                      string               `json:"iccsn,omitempty"`
	ICCSNReassignmentTimestamp string               `json:"iccsnReassignmentTimestamp,omitempty"`
	WsSessionID                string               `json:"wsSessionId,omitempty"`
}

type sessionInfo struct {
	cardSessionID   string
	webSocketID     string
	phoneRegistered bool
}

// AuthProtocol runs the CardLink authentication: phone number and TAN, CAN
// based card access, eGK registration and the APDU relay.
type AuthProtocol struct {
	transport Transport
	cards     domain.CardStack
	opts      Options
	inbox     *websocket.Queue[Envelope]

	running sync.Mutex
}

func NewAuthProtocol(transport Transport, cards domain.CardStack, opts Options) *AuthProtocol {
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = DefaultMessageTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	return &AuthProtocol{
		transport: transport,
		cards:     cards,
		opts:      opts,
		inbox:     websocket.NewQueue[Envelope]("cardlink", inboxSize),
	}
}

// HandleMessage accepts every frame that decodes as a CardLink envelope.
func (p *AuthProtocol) HandleMessage(msg string) func() {
	env, err := Decode(msg)
	if err != nil {
		return nil
	}
	return func() { p.inbox.Push(env) }
}

// EstablishCardLink runs one authentication attempt. Only one attempt runs at
// a time per protocol. Cancelling ctx returns the context error unchanged.
func (p *AuthProtocol) EstablishCardLink(ctx context.Context, interaction domain.UserInteraction) (*AuthResult, error) {
	p.running.Lock()
	defer p.running.Unlock()

	if n := p.inbox.Drain(); n > 0 {
		log.Debug().Int("count", n).Msg("discarded messages left over from a previous attempt")
	}

	a := &attempt{
		AuthProtocol: p,
		interaction:  interaction,
		result:       &AuthResult{},
		logger:       log.With().Str("component", "cardlink").Logger(),
	}
	err := a.run(ctx)
	if err != nil {
		err = a.mapErrors(ctx, err)
		a.logger.Error().Err(err).Msg("cardlink authentication failed")
		return nil, err
	}
	a.logger.Info().Msg("cardlink established")
	return a.result, nil
}

type attempt struct {
	*AuthProtocol
	interaction domain.UserInteraction
	session     sessionInfo
	result      *AuthResult
	conn        domain.CardConnection
	inCanStep   bool
	logger      zerolog.Logger
}

func (a *attempt) run(ctx context.Context) error {
	if err := a.transport.ConnectWithTimeout(ctx, a.opts.ConnectTimeout); err != nil {
		return err
	}

	info, err := a.receiveSessionInformation(ctx)
	if err != nil {
		return err
	}
	a.session = info
	a.result.CardSessionID = info.cardSessionID
	a.result.WsSessionID = info.webSocketID
	if a.result.WsSessionID == "" {
		a.result.WsSessionID = a.transport.SessionID()
	}
	a.logger = a.logger.With().Str("card_session_id", info.cardSessionID).Logger()

	if !info.phoneRegistered {
		if err := a.registerPhone(ctx); err != nil {
			return err
		}
	} else {
		a.logger.Debug().Msg("phone number already registered, skipping SMS verification")
	}

	defer func() {
		if a.conn != nil {
			if err := a.conn.Close(); err != nil {
				a.logger.Debug().Err(err).Msg("closing card connection")
			}
		}
	}()
	if err := a.authenticateCard(ctx); err != nil {
		return err
	}
	if err := a.readCardData(ctx); err != nil {
		return err
	}
	if err := a.handleRemoteApdus(ctx); err != nil {
		return err
	}
	a.interaction.OnCardInteractionComplete()
	return nil
}

func (a *attempt) receiveSessionInformation(ctx context.Context) (sessionInfo, error) {
	env, err := a.receiveEnvelope(ctx, false)
	if err != nil && !errors.Is(err, errMessageTimeout) {
		return sessionInfo{}, err
	}
	if err == nil {
		if payload, ok := env.Payload.(*TasklistErrorPayload); ok {
			return sessionInfo{}, tasklistError(payload)
		}
		if payload, ok := env.Payload.(*SessionInformation); ok {
			id := env.CardSessionID
			if id == "" {
				id = uuid.NewString()
			}
			a.logger.Debug().Str("card_session_id", id).Str("web_socket_id", payload.WebSocketID).Msg("received session information")
			return sessionInfo{cardSessionID: id, webSocketID: payload.WebSocketID, phoneRegistered: payload.PhoneRegistered}, nil
		}
	}
	id := uuid.NewString()
	a.logger.Warn().Str("card_session_id", id).Msg("no session information received, using generated card session id")
	return sessionInfo{cardSessionID: id}, nil
}

func (a *attempt) registerPhone(ctx context.Context) error {
	if err := a.requestTan(ctx); err != nil {
		return err
	}
	return a.confirmTan(ctx)
}

// requestTan sends the phone number until the service accepts it.
func (a *attempt) requestTan(ctx context.Context) error {
	var lastCode domain.ResultCode
	var lastMsg string
	for {
		var number string
		var err error
		if lastCode == "" {
			number, err = a.interaction.OnPhoneNumberRequest(ctx)
		} else {
			number, err = a.interaction.OnPhoneNumberRetry(ctx, lastCode, lastMsg)
		}
		if err != nil {
			return err
		}
		if err := a.sendEnvelope(ctx, &SendPhoneNumber{PhoneNumber: number}, ""); err != nil {
			return err
		}

		env, err := a.receiveEnvelope(ctx, true)
		if err != nil {
			return err
		}
		switch payload := env.Payload.(type) {
		case *TasklistErrorPayload:
			return tasklistError(payload)
		case *ConfirmPhoneNumber:
			switch payload.ResultCode {
			case domain.ResultSuccess:
				return nil
			case domain.ResultNumberBlocked, domain.ResultInvalidRequest, domain.ResultNumberFromWrongCountry:
				a.logger.Debug().Str("result_code", string(payload.ResultCode)).Msg("phone number rejected, asking again")
				lastCode, lastMsg = payload.ResultCode, messageOf(payload.ErrorMessage)
			default:
				return invalidResultCode(payload.ResultCode)
			}
		default:
			return invalidMessage(env.Payload)
		}
	}
}

func (a *attempt) confirmTan(ctx context.Context) error {
	var lastCode domain.ResultCode
	var lastMsg string
	for {
		var tan string
		var err error
		if lastCode == "" {
			tan, err = a.interaction.OnTanRequest(ctx)
		} else {
			tan, err = a.interaction.OnTanRetry(ctx, lastCode, lastMsg)
		}
		if err != nil {
			return err
		}
		if err := a.sendEnvelope(ctx, &SendTan{SMSCode: tan}, ""); err != nil {
			return err
		}

		env, err := a.receiveEnvelope(ctx, true)
		if err != nil {
			return err
		}
		switch payload := env.Payload.(type) {
		case *TasklistErrorPayload:
			return tasklistError(payload)
		case *ConfirmTan:
			switch payload.ResultCode {
			case domain.ResultSuccess:
				return nil
			case domain.ResultInvalidRequest, domain.ResultTanIncorrect:
				a.logger.Debug().Str("result_code", string(payload.ResultCode)).Msg("TAN rejected, asking again")
				lastCode, lastMsg = payload.ResultCode, messageOf(payload.ErrorMessage)
			case domain.ResultTanExpired:
				return ErrorByCode(ErrTanExpired.Code, messageOf(payload.ErrorMessage))
			case domain.ResultTanRetryLimitExceeded:
				return ErrorByCode(ErrTanRetryLimitExceeded.Code, messageOf(payload.ErrorMessage))
			default:
				return invalidResultCode(payload.ResultCode)
			}
		default:
			return invalidMessage(env.Payload)
		}
	}
}

// authenticateCard asks for the CAN until PACE succeeds. The CAN is checked
// before the card is touched.
func (a *attempt) authenticateCard(ctx context.Context) error {
	// Left set on failure so mapErrors can tell the CAN step was interrupted.
	a.inCanStep = true

	var lastCode domain.CanResultCode
	var lastMsg string
	for {
		can, err := a.checkedCan(ctx, lastCode, lastMsg)
		if err != nil {
			return err
		}
		if a.conn == nil {
			if err := a.connectCard(ctx); err != nil {
				return err
			}
		}
		err = a.conn.AuthenticateCAN(ctx, can)
		if err == nil {
			a.inCanStep = false
			return nil
		}
		if !errors.Is(err, domain.ErrPace) {
			return err
		}
		a.logger.Debug().Err(err).Msg("PACE failed, asking for the CAN again")
		lastCode, lastMsg = domain.CanIncorrect, fmt.Sprintf("The given CAN lead to error: %v", err)
	}
}

func (a *attempt) checkedCan(ctx context.Context, code domain.CanResultCode, msg string) (string, error) {
	for {
		var can string
		var err error
		if code == "" {
			can, err = a.interaction.OnCanRequest(ctx)
		} else {
			can, err = a.interaction.OnCanRetry(ctx, code, msg)
		}
		if err != nil {
			return "", err
		}
		var ok bool
		if code, msg, ok = CheckCan(can); ok {
			return can, nil
		}
	}
}

func (a *attempt) connectCard(ctx context.Context) error {
	terminals, err := a.cards.Terminals(ctx)
	if err != nil {
		return err
	}
	terminal := ""
	for _, name := range terminals {
		if a.opts.Terminal == "" || name == a.opts.Terminal {
			terminal = name
			break
		}
	}
	if terminal == "" {
		return fmt.Errorf("%w: no usable terminal among %d", domain.ErrReaderUnavailable, len(terminals))
	}

	a.interaction.RequestCardInsertion()
	if err := a.cards.WaitForCard(ctx, terminal); err != nil {
		return err
	}
	a.interaction.OnCardRecognized()

	conn, err := a.cards.Connect(ctx, terminal)
	if err != nil {
		return err
	}
	a.conn = conn
	a.logger.Debug().Str("terminal", terminal).Msg("card connected")
	return nil
}

// readCardData reads the eGK datasets and registers the card with the service.
func (a *attempt) readCardData(ctx context.Context) error {
	if a.opts.ReadPersonalData {
		raw, err := a.readDataset(ctx, domain.DatasetPersonalData)
		if err != nil {
			return err
		}
		if a.result.PersonalData, err = egk.ParsePersonalData(raw); err != nil {
			return a.insufficient(err)
		}
	}
	if a.opts.ReadInsurerData {
		raw, err := a.readDataset(ctx, domain.DatasetInsurerData)
		if err != nil {
			return err
		}
		if a.result.InsurerData, err = egk.ParseInsurerData(raw); err != nil {
			return a.insufficient(err)
		}
	}

	register := &RegisterEgk{CardSessionID: a.session.cardSessionID}
	targets := []struct {
		ds  domain.Dataset
		dst *domain.Base64Bytes
	}{
		{domain.DatasetGDO, &register.GDO},
		{domain.DatasetVersion2, &register.CardVersion},
		{domain.DatasetCVCAuth, &register.CVCAuth},
		{domain.DatasetCVCCA, &register.CVCCA},
		{domain.DatasetATR, &register.ATR},
		{domain.DatasetX509AuthECC, &register.X509AuthECC},
	}
	for _, t := range targets {
		raw, err := a.readDataset(ctx, t.ds)
		if err != nil {
			return err
		}
		*t.dst = raw
	}

	iccsn, err := egk.ParseICCSN(register.GDO)
	if err != nil {
		return a.insufficient(err)
	}
	a.result.ICCSN = iccsn

	return a.sendEnvelope(ctx, register, "")
}

func (a *attempt) readDataset(ctx context.Context, ds domain.Dataset) ([]byte, error) {
	raw, err := a.conn.ReadDataset(ctx, ds)
	if err == nil && raw == nil {
		err = fmt.Errorf("%s is empty", ds)
	}
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, domain.ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, a.insufficient(fmt.Errorf("read %s: %w", ds, err))
	}
	a.logger.Debug().Str("dataset", ds.String()).Int("bytes", len(raw)).Msg("dataset read")
	return raw, nil
}

func (a *attempt) insufficient(cause error) error {
	a.interaction.OnCardInsufficient()
	return NewClientError(CardInsufficient, cause)
}

// handleRemoteApdus relays APDUs between service and card until the service
// finishes the registration.
func (a *attempt) handleRemoteApdus(ctx context.Context) error {
	for {
		env, err := a.receiveEnvelope(ctx, true)
		if err != nil {
			return err
		}
		switch payload := env.Payload.(type) {
		case *SendApdu:
			response, err := a.conn.Transmit(ctx, payload.Apdu)
			if err != nil {
				return err
			}
			reply := &SendApduResponse{CardSessionID: payload.CardSessionID, Response: response}
			if err := a.sendEnvelope(ctx, reply, env.CorrelationID); err != nil {
				return err
			}
		case *ICCSNReassignment:
			a.logger.Debug().Str("last_assignment", payload.LastAssignment).Msg("ICCSN reassignment received")
			a.result.ICCSNReassignmentTimestamp = payload.LastAssignment
		case *RegisterEgkFinish:
			a.logger.Debug().Bool("remove_card", payload.RemoveCard).Msg("registration finished")
			return nil
		case *TasklistErrorPayload:
			a.logger.Error().Int("status", payload.Status).Str("message", messageOf(payload.ErrorMessage)).Msg("task list error")
			return tasklistError(payload)
		default:
			a.logger.Warn().Str("type", env.Payload.PayloadType()).Msg("unexpected message during APDU relay, continuing")
		}
	}
}

func (a *attempt) sendEnvelope(ctx context.Context, payload Payload, correlationID string) error {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	text, err := Encode(Envelope{Payload: payload, CardSessionID: a.session.cardSessionID, CorrelationID: correlationID})
	if err != nil {
		return err
	}
	a.logger.Debug().Str("type", payload.PayloadType()).Str("correlation_id", correlationID).Msg("sending envelope")
	return a.transport.Send(ctx, text)
}

// receiveEnvelope waits up to the message timeout for the next envelope.
// SessionInformation pushes are skipped when ignoreSessionInfo is set.
func (a *attempt) receiveEnvelope(ctx context.Context, ignoreSessionInfo bool) (Envelope, error) {
	waitCtx, cancel := context.WithTimeout(ctx, a.opts.MessageTimeout)
	defer cancel()
	for {
		env, err := a.inbox.Pop(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return Envelope{}, ctx.Err()
			}
			return Envelope{}, errMessageTimeout
		}
		if _, ok := env.Payload.(*SessionInformation); ok && ignoreSessionInfo {
			continue
		}
		a.logger.Debug().Str("type", env.Payload.PayloadType()).Str("correlation_id", env.CorrelationID).Msg("received envelope")
		return env, nil
	}
}

// mapErrors turns everything that escapes an attempt into a ServerError or a
// ClientError. Cancellation passes through untouched.
func (a *attempt) mapErrors(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return err
	}
	var serverErr *ServerError
	var clientErr *ClientError
	if errors.As(err, &serverErr) || errors.As(err, &clientErr) {
		return err
	}

	switch {
	case errors.Is(err, errMessageTimeout), errors.Is(err, context.DeadlineExceeded):
		return NewClientError(Timeout, err)
	case errors.Is(err, domain.ErrDeviceUnsupported):
		a.interaction.OnCardInsufficient()
		return NewClientError(CardInsufficient, err)
	case errors.Is(err, domain.ErrDeviceUnavailable):
		a.interaction.OnCardRemoved()
		return NewClientError(CardRemoved, err)
	case errors.Is(err, domain.ErrPace), errors.Is(err, domain.ErrPaceUnsupported):
		return NewClientError(OtherPaceError, err)
	case errors.Is(err, domain.ErrReaderUnavailable), errors.Is(err, domain.ErrStackMissing),
		errors.Is(err, domain.ErrSecureMessaging):
		return NewClientError(OtherNfcError, err)
	case a.inCanStep:
		return NewClientError(CanStepInterrupted, err)
	default:
		a.logger.Error().Err(err).Msg("unexpected error")
		return NewClientError(OtherClientError, err)
	}
}

func tasklistError(p *TasklistErrorPayload) error {
	msg := messageOf(p.ErrorMessage)
	if msg == "" {
		msg = "Received an unknown error from CardLink service."
	}
	return ErrorByCode(p.Status, msg)
}

func invalidResultCode(code domain.ResultCode) error {
	return ErrorByCode(ErrInvalidWebsocketMessage.Code, fmt.Sprintf("Received invalid result code %s from service", code))
}

func invalidMessage(p Payload) error {
	return ErrorByCode(ErrInvalidWebsocketMessage.Code, fmt.Sprintf("Received invalid message %s from service", p.PayloadType()))
}
