package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cortex-x/go-cardlink-client/internal/cardlink"
	"github.com/cortex-x/go-cardlink-client/internal/config"
	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/cortex-x/go-cardlink-client/internal/infra/websocket"
	"github.com/cortex-x/go-cardlink-client/internal/prescription"
	"github.com/cortex-x/go-cardlink-client/internal/testutil/testlog"
)

type broadcast struct {
	msgType string
	payload interface{}
}

type fakeBroadcaster struct {
	sent chan broadcast
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{sent: make(chan broadcast, 16)}
}

func (b *fakeBroadcaster) BroadcastMessage(msgType string, payload interface{}) error {
	b.sent <- broadcast{msgType: msgType, payload: payload}
	return nil
}

func (b *fakeBroadcaster) next(t *testing.T) broadcast {
	t.Helper()
	select {
	case msg := <-b.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing broadcast")
		return broadcast{}
	}
}

type fakeActivator struct {
	mu        sync.Mutex
	busy      bool
	url       string
	token     string
	cancelled bool
}

func (a *fakeActivator) Activate(_ context.Context, _ bool, url, tenantToken string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.busy {
		return false
	}
	a.busy, a.url, a.token = true, url, tenantToken
	return true
}

func (a *fakeActivator) Cancel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = a.busy
	a.busy = false
	return a.cancelled
}

type fakePrescriptions struct {
	iccsns []string
	err    error
}

func (p *fakePrescriptions) RequestPrescriptionsForICCSNs(_ context.Context, iccsns []string, messageID string) (*prescription.AvailablePrescriptionLists, error) {
	p.iccsns = iccsns
	if p.err != nil {
		return nil, p.err
	}
	return &prescription.AvailablePrescriptionLists{MessageID: "reply", CorrelationID: messageID}, nil
}

func (p *fakePrescriptions) SelectPrescriptions(_ context.Context, sel prescription.SelectedPrescriptionList) (*prescription.SelectedPrescriptionListResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &prescription.SelectedPrescriptionListResponse{SupplyOptionsType: sel.SupplyOptionsType, CorrelationID: sel.MessageID}, nil
}

func newTestServer(activator Activator) (*Server, *Controller) {
	controller := NewController(newFakeBroadcaster())
	return NewServer(&config.Config{}, websocket.NewHub(), activator, controller), controller
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	testlog.Start(t)

	srv, controller := newTestServer(&fakeActivator{})
	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" || body["connected"] != false {
		t.Fatalf("body = %v", body)
	}

	controller.OnAuthenticationCompletion(&cardlink.AuthResult{CardSessionID: "s"}, nil, nil)
	rec = do(t, srv.Handler(), http.MethodGet, "/health", "")
	if !strings.Contains(rec.Body.String(), `"connected":true`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestActivateAndCancel(t *testing.T) {
	testlog.Start(t)

	activator := &fakeActivator{}
	srv, _ := newTestServer(activator)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/activate", `{"url":"wss://svc/ws","tenantToken":"t1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if activator.url != "wss://svc/ws" || activator.token != "t1" {
		t.Fatalf("activator got %q / %q", activator.url, activator.token)
	}

	rec = do(t, srv.Handler(), http.MethodPost, "/api/activate", `{}`)
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), fmt.Sprint(domain.ErrCodeActivationBusy)) {
		t.Fatalf("busy activation: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv.Handler(), http.MethodPost, "/api/cancel", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"cancelled":true`) {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}
}

func TestActivateRejectsMalformedBody(t *testing.T) {
	testlog.Start(t)

	srv, _ := newTestServer(&fakeActivator{})
	rec := do(t, srv.Handler(), http.MethodPost, "/api/activate", `{"url":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPrescriptionsRequireLink(t *testing.T) {
	testlog.Start(t)

	srv, _ := newTestServer(&fakeActivator{})
	rec := do(t, srv.Handler(), http.MethodPost, "/api/prescriptions", `{}`)
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), fmt.Sprint(domain.ErrCodeNotConnected)) {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
}

func TestPrescriptionsDefaultToLinkedCard(t *testing.T) {
	testlog.Start(t)

	srv, controller := newTestServer(&fakeActivator{})
	svc := &fakePrescriptions{}
	controller.result = &cardlink.AuthResult{ICCSN: "80276001010000000001"}
	controller.prescriptions = svc

	rec := do(t, srv.Handler(), http.MethodPost, "/api/prescriptions", `{"messageId":"m-1"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"correlationId":"m-1"`) {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	if len(svc.iccsns) != 1 || svc.iccsns[0] != "80276001010000000001" {
		t.Fatalf("iccsns = %v", svc.iccsns)
	}

	rec = do(t, srv.Handler(), http.MethodPost, "/api/prescriptions", `{"iccsns":[],"messageId":"m-2"}`)
	if rec.Code != http.StatusOK || len(svc.iccsns) != 0 {
		t.Fatalf("explicit empty list: %d %v", rec.Code, svc.iccsns)
	}
}

func TestPrescriptionErrorsAreForwarded(t *testing.T) {
	testlog.Start(t)

	srv, controller := newTestServer(&fakeActivator{})
	controller.prescriptions = &fakePrescriptions{err: &prescription.ProtocolError{Message: prescription.GenericErrorMessage{
		ErrorCode:    prescription.ErrorNoPrescriptionsAvailable,
		ErrorMessage: "none",
	}}}

	rec := do(t, srv.Handler(), http.MethodPost, "/api/prescriptions", `{"iccsns":["01"]}`)
	if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), "NO_PRESCRIPTIONS_AVAILABLE") {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}

	controller.prescriptions = &fakePrescriptions{err: errors.New("socket gone")}
	rec = do(t, srv.Handler(), http.MethodPost, "/api/prescriptions", `{"iccsns":["01"]}`)
	if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), fmt.Sprint(domain.ErrCodePrescription)) {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
}

func TestSelectPrescriptionsValidatesBody(t *testing.T) {
	testlog.Start(t)

	srv, controller := newTestServer(&fakeActivator{})
	controller.prescriptions = &fakePrescriptions{}

	rec := do(t, srv.Handler(), http.MethodPost, "/api/prescriptions/select", `{"ICCSN":"gCc","supplyOptionsType":"teleport"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid supply option: status = %d", rec.Code)
	}

	rec = do(t, srv.Handler(), http.MethodPost, "/api/prescriptions/select",
		`{"ICCSN":"gCc","prescriptionIndexList":["1"],"supplyOptionsType":"onPremise","messageId":"m-3"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"correlationId":"m-3"`) {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
}

func TestHubInteractionRoutesReplies(t *testing.T) {
	testlog.Start(t)

	out := newFakeBroadcaster()
	ui := NewHubInteraction(out)

	answer := make(chan string, 1)
	go func() {
		can, err := ui.OnCanRetry(context.Background(), domain.CanIncorrect, "")
		if err != nil {
			answer <- "error: " + err.Error()
			return
		}
		answer <- can
	}()

	sent := out.next(t)
	if sent.msgType != domain.MsgCanRetry {
		t.Fatalf("broadcast = %+v", sent)
	}
	if retry, ok := sent.payload.(domain.RetryRequest); !ok || retry.ResultCode != string(domain.CanIncorrect) {
		t.Fatalf("payload = %#v", sent.payload)
	}

	ui.Deliver(domain.InboundMessage{Type: domain.ReplyTan, Payload: "wrong type"})
	ui.Deliver(domain.InboundMessage{Type: domain.ReplyCan, Payload: "654321"})

	select {
	case got := <-answer:
		if got != "654321" {
			t.Fatalf("answer = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reply not routed")
	}

	msg := out.next(t)
	resp, ok := msg.payload.(domain.ErrorResponse)
	if msg.msgType != domain.MsgError || !ok || resp.Code != domain.ErrCodeUnexpectedReply {
		t.Fatalf("unsolicited reply answered with %+v", msg)
	}
}

func TestHubInteractionGivesUpWithContext(t *testing.T) {
	testlog.Start(t)

	out := newFakeBroadcaster()
	ui := NewHubInteraction(out)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := ui.OnTanRequest(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if len(ui.pending) != 0 {
		t.Fatalf("pending request leaked")
	}

	ui.OnCardRemoved()
	out.next(t)
	if msg := out.next(t); msg.msgType != domain.MsgCardRemoved {
		t.Fatalf("broadcast = %+v", msg)
	}
}

func TestControllerBroadcastsOutcome(t *testing.T) {
	testlog.Start(t)

	out := newFakeBroadcaster()
	c := NewController(out)

	c.OnStarted()
	if msg := out.next(t); msg.msgType != domain.MsgAuthStarted {
		t.Fatalf("broadcast = %+v", msg)
	}

	c.OnAuthenticationCompletion(nil, nil, cardlink.ErrorByCode(1022, "Tan expired"))
	msg := out.next(t)
	failure, ok := msg.payload.(AuthFailure)
	if msg.msgType != domain.MsgAuthFailed || !ok || failure.Code != 1022 || failure.Kind != "TanExpired" {
		t.Fatalf("broadcast = %+v", msg)
	}
	if _, ok := c.Prescriptions(); ok {
		t.Fatalf("failed activation must not expose prescriptions")
	}

	result := &cardlink.AuthResult{CardSessionID: "card-1"}
	c.OnAuthenticationCompletion(result, prescription.NewProtocol(nil, time.Second), nil)
	if msg := out.next(t); msg.msgType != domain.MsgAuthCompleted || msg.payload != result {
		t.Fatalf("broadcast = %+v", msg)
	}
	if _, ok := c.Prescriptions(); !ok || c.Result() != result {
		t.Fatalf("link not stored")
	}
}

func TestFailureOf(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name string
		err  error
		want AuthFailure
	}{
		{"unknown server code", cardlink.ErrorByCode(4711, ""), AuthFailure{Code: 1019, Kind: "UnknownError"}},
		{"reader", cardlink.NewClientError(cardlink.OtherNfcError, domain.ErrReaderUnavailable), AuthFailure{Code: domain.ErrCodeReaderNotFound, Kind: "OtherNfcError"}},
		{"stack", fmt.Errorf("open: %w", domain.ErrStackMissing), AuthFailure{Code: domain.ErrCodeReaderNotFound, Kind: "OtherNfcError"}},
		{"client", cardlink.NewClientError(cardlink.CardRemoved, nil), AuthFailure{Kind: "CardRemoved"}},
		{"cancel", context.Canceled, AuthFailure{Kind: "Cancelled"}},
		{"other", errors.New("boom"), AuthFailure{Kind: "OtherClientError"}},
	}
	for _, tc := range cases {
		got := failureOf(tc.err)
		if got.Code != tc.want.Code || got.Kind != tc.want.Kind || got.Message == "" {
			t.Errorf("%s: failureOf = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}
