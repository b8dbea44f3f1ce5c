package api

import (
	"context"
	"errors"
	"sync"

	"github.com/cortex-x/go-cardlink-client/internal/cardlink"
	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/cortex-x/go-cardlink-client/internal/prescription"
	"github.com/rs/zerolog/log"
)

// PrescriptionService is the prescription protocol of an established link.
type PrescriptionService interface {
	RequestPrescriptionsForICCSNs(ctx context.Context, iccsns []string, messageID string) (*prescription.AvailablePrescriptionLists, error)
	SelectPrescriptions(ctx context.Context, sel prescription.SelectedPrescriptionList) (*prescription.SelectedPrescriptionListResponse, error)
}

// AuthFailure is broadcast with AUTH_FAILED.
type AuthFailure struct {
	Code    int    `json:"code,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Controller reports activation progress to the UIs and keeps the
// prescription protocol of the last successful activation.
type Controller struct {
	out Broadcaster

	mu            sync.RWMutex
	result        *cardlink.AuthResult
	prescriptions PrescriptionService
}

func NewController(out Broadcaster) *Controller {
	return &Controller{out: out}
}

func (c *Controller) OnStarted() {
	c.broadcast(domain.MsgAuthStarted, nil)
}

func (c *Controller) OnAuthenticationCompletion(result *cardlink.AuthResult, prescriptions *prescription.Protocol, err error) {
	if err != nil {
		c.broadcast(domain.MsgAuthFailed, failureOf(err))
		return
	}

	c.mu.Lock()
	c.result = result
	c.prescriptions = nil
	if prescriptions != nil {
		c.prescriptions = prescriptions
	}
	c.mu.Unlock()

	c.broadcast(domain.MsgAuthCompleted, result)
}

// Prescriptions returns the protocol of the last established link.
func (c *Controller) Prescriptions() (PrescriptionService, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prescriptions, c.prescriptions != nil
}

func (c *Controller) Result() *cardlink.AuthResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.result
}

func (c *Controller) broadcast(msgType string, payload interface{}) {
	if err := c.out.BroadcastMessage(msgType, payload); err != nil {
		log.Warn().Err(err).Str("type", msgType).Msg("failed to broadcast activation event")
	}
}

func failureOf(err error) AuthFailure {
	var serverErr *cardlink.ServerError
	var clientErr *cardlink.ClientError
	switch {
	case errors.As(err, &serverErr):
		return AuthFailure{Code: serverErr.Code, Kind: serverErr.Name, Message: serverErr.Message}
	case errors.Is(err, domain.ErrReaderUnavailable), errors.Is(err, domain.ErrStackMissing):
		f := AuthFailure{Code: domain.ErrCodeReaderNotFound, Kind: cardlink.OtherNfcError.String(), Message: domain.ErrMsgReaderNotFound}
		if errors.As(err, &clientErr) {
			f.Kind = clientErr.Kind.String()
		}
		return f
	case errors.As(err, &clientErr):
		return AuthFailure{Kind: clientErr.Kind.String(), Message: clientErr.Message}
	case errors.Is(err, context.Canceled):
		return AuthFailure{Kind: "Cancelled", Message: "The activation was cancelled."}
	default:
		return AuthFailure{Kind: cardlink.OtherClientError.String(), Message: err.Error()}
	}
}
