package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/cortex-x/go-cardlink-client/internal/infra/websocket"
	"github.com/cortex-x/go-cardlink-client/internal/prescription"
	gorilla "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// Activator starts and cancels activations.
type Activator interface {
	Activate(ctx context.Context, waitForSlot bool, url, tenantToken string) bool
	Cancel() bool
}

type ActivateRequest struct {
	URL         string `json:"url"`
	TenantToken string `json:"tenantToken"`
	WaitForSlot bool   `json:"waitForSlot"`
}

type PrescriptionsRequest struct {
	ICCSNs    []string `json:"iccsns"`
	MessageID string   `json:"messageId"`
}

type Handler struct {
	hub        *websocket.Hub
	activator  Activator
	controller *Controller
	upgrader   gorilla.Upgrader
}

func NewHandler(hub *websocket.Hub, activator Activator, controller *Controller) *Handler {
	return &Handler{
		hub:        hub,
		activator:  activator,
		controller: controller,
		upgrader: gorilla.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from any origin
				return true
			},
		},
	}
}

func (h *Handler) WebSocketHandler(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return err
	}

	peer := h.hub.RegisterPeer(conn)

	// Start goroutines for reading and writing
	go peer.WritePump()
	go peer.ReadPump()

	return nil
}

func (h *Handler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "CardLink Agent",
		"connected": h.controller.Result() != nil,
	})
}

func (h *Handler) Activate(c echo.Context) error {
	var req ActivateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if !h.activator.Activate(c.Request().Context(), req.WaitForSlot, req.URL, req.TenantToken) {
		return c.JSON(http.StatusConflict, domain.ErrorResponse{
			Code:    domain.ErrCodeActivationBusy,
			Message: domain.ErrMsgActivationBusy,
		})
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) Cancel(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"cancelled": h.activator.Cancel()})
}

func (h *Handler) RequestPrescriptions(c echo.Context) error {
	var req PrescriptionsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	svc, ok := h.controller.Prescriptions()
	if !ok {
		return notConnected(c)
	}
	if req.ICCSNs == nil {
		req.ICCSNs = []string{}
		if result := h.controller.Result(); result != nil && result.ICCSN != "" {
			req.ICCSNs = append(req.ICCSNs, result.ICCSN)
		}
	}

	lists, err := svc.RequestPrescriptionsForICCSNs(c.Request().Context(), req.ICCSNs, req.MessageID)
	if err != nil {
		return prescriptionFailure(c, err)
	}
	return c.JSON(http.StatusOK, lists)
}

func (h *Handler) SelectPrescriptions(c echo.Context) error {
	var sel prescription.SelectedPrescriptionList
	if err := c.Bind(&sel); err != nil || len(sel.ICCSN) == 0 || !sel.SupplyOptionsType.Valid() {
		return badRequest(c)
	}
	svc, ok := h.controller.Prescriptions()
	if !ok {
		return notConnected(c)
	}

	resp, err := svc.SelectPrescriptions(c.Request().Context(), sel)
	if err != nil {
		return prescriptionFailure(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func badRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, domain.ErrorResponse{
		Code:    domain.ErrCodeBadRequest,
		Message: domain.ErrMsgBadRequest,
	})
}

func notConnected(c echo.Context) error {
	return c.JSON(http.StatusConflict, domain.ErrorResponse{
		Code:    domain.ErrCodeNotConnected,
		Message: domain.ErrMsgNotConnected,
	})
}

func prescriptionFailure(c echo.Context, err error) error {
	var protoErr *prescription.ProtocolError
	if errors.As(err, &protoErr) {
		return c.JSON(http.StatusBadGateway, protoErr.Message)
	}
	log.Error().Err(err).Msg("prescription request failed")
	return c.JSON(http.StatusBadGateway, domain.ErrorResponse{
		Code:    domain.ErrCodePrescription,
		Message: domain.ErrMsgPrescription,
	})
}
