package cardlink

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedEnvelope = errors.New("cardlink: malformed envelope")

// Envelope is the wire unit of the CardLink sub protocol. Empty ids are
// omitted on the wire.
type Envelope struct {
	Payload       Payload
	CardSessionID string
	CorrelationID string
}

type envelopeHead struct {
	Type    *string `json:"type"`
	Payload *string `json:"payload"`
}

// Encode renders e as [{"type", "payload"}, cardSessionId?, correlationId?]
// with the payload JSON in unpadded base64.
func Encode(e Envelope) (string, error) {
	if e.Payload == nil {
		return "", fmt.Errorf("%w: nil payload", ErrMalformedEnvelope)
	}
	inner, err := json.Marshal(e.Payload)
	if err != nil {
		return "", fmt.Errorf("cardlink: encode %s: %w", e.Payload.PayloadType(), err)
	}
	typ := e.Payload.PayloadType()
	encoded := base64.RawStdEncoding.EncodeToString(inner)

	parts := []interface{}{envelopeHead{Type: &typ, Payload: &encoded}}
	if e.CardSessionID != "" || e.CorrelationID != "" {
		parts = append(parts, e.CardSessionID)
	}
	if e.CorrelationID != "" {
		parts = append(parts, e.CorrelationID)
	}

	out, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("cardlink: encode envelope: %w", err)
	}
	return string(out), nil
}

func Decode(text string) (Envelope, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(text), &parts); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(parts) < 1 || len(parts) > 3 {
		return Envelope{}, fmt.Errorf("%w: expected 1 to 3 elements, got %d", ErrMalformedEnvelope, len(parts))
	}

	var head envelopeHead
	if err := json.Unmarshal(parts[0], &head); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if head.Type == nil || head.Payload == nil {
		return Envelope{}, fmt.Errorf("%w: type and payload are required", ErrMalformedEnvelope)
	}
	factory, ok := payloadFactories[*head.Type]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, *head.Type)
	}

	inner, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(*head.Payload, "="))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, err)
	}
	payload := factory()
	if err := json.Unmarshal(inner, payload); err != nil {
		return Envelope{}, fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, *head.Type, err)
	}
	if err := payload.Validate(); err != nil {
		return Envelope{}, err
	}

	env := Envelope{Payload: payload}
	if len(parts) > 1 {
		if env.CardSessionID, err = optionalString(parts[1]); err != nil {
			return Envelope{}, err
		}
	}
	if len(parts) > 2 {
		if env.CorrelationID, err = optionalString(parts[2]); err != nil {
			return Envelope{}, err
		}
	}
	return env, nil
}

func optionalString(raw json.RawMessage) (string, error) {
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if s == nil {
		return "", nil
	}
	return *s, nil
}
