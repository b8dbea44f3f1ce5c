package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cortex-x/go-cardlink-client/internal/cardlink"
	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/cortex-x/go-cardlink-client/internal/prescription"
	"github.com/cortex-x/go-cardlink-client/internal/testutil/testlog"
	"github.com/google/uuid"
)

type completion struct {
	result *cardlink.AuthResult
	err    error
}

type fakeController struct {
	started     chan struct{}
	completions chan completion
}

func newFakeController() *fakeController {
	return &fakeController{started: make(chan struct{}, 8), completions: make(chan completion, 8)}
}

func (c *fakeController) OnStarted() { c.started <- struct{}{} }

func (c *fakeController) OnAuthenticationCompletion(result *cardlink.AuthResult, _ *prescription.Protocol, err error) {
	c.completions <- completion{result: result, err: err}
}

type recordingInteraction struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingInteraction) record(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingInteraction) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingInteraction) OnPhoneNumberRequest(context.Context) (string, error) {
	r.record("phone")
	return "+49170", nil
}

func (r *recordingInteraction) OnPhoneNumberRetry(context.Context, domain.ResultCode, string) (string, error) {
	return "+49170", nil
}

func (r *recordingInteraction) OnTanRequest(context.Context) (string, error) { return "1", nil }

func (r *recordingInteraction) OnTanRetry(context.Context, domain.ResultCode, string) (string, error) {
	return "1", nil
}

func (r *recordingInteraction) OnCanRequest(context.Context) (string, error) {
	r.record("can")
	return "123456", nil
}

func (r *recordingInteraction) OnCanRetry(context.Context, domain.CanResultCode, string) (string, error) {
	return "123456", nil
}

func (r *recordingInteraction) RequestCardInsertion()      { r.record("insert") }
func (r *recordingInteraction) OnCardRecognized()          {}
func (r *recordingInteraction) OnCardRemoved()             {}
func (r *recordingInteraction) OnCardInsufficient()        {}
func (r *recordingInteraction) OnCardInteractionComplete() {}

// blockingRunner runs until release is closed or its context ends.
func blockingRunner(release <-chan struct{}) RunnerFunc {
	return func(ctx context.Context, url, token string, ui domain.UserInteraction) (*cardlink.AuthResult, *prescription.Protocol, error) {
		select {
		case <-release:
			return &cardlink.AuthResult{CardSessionID: url}, nil, nil
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func waitCompletion(t *testing.T, c *fakeController) completion {
	t.Helper()
	select {
	case done := <-c.completions:
		return done
	case <-time.After(2 * time.Second):
		t.Fatalf("no completion reported")
		return completion{}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGuardRunsOneActivationAtATime(t *testing.T) {
	testlog.Start(t)

	release := make(chan struct{})
	ctrl := newFakeController()
	g := NewGuard(blockingRunner(release), &recordingInteraction{}, ctrl)

	if !g.Activate(context.Background(), false, "first", "") {
		t.Fatalf("first activation refused")
	}
	if g.Activate(context.Background(), false, "second", "") {
		t.Fatalf("second activation must be refused while the first runs")
	}

	close(release)
	done := waitCompletion(t, ctrl)
	if done.err != nil || done.result.CardSessionID != "first" {
		t.Fatalf("completion = %+v", done)
	}
	eventually(t, func() bool { return !g.Active() })
}

func TestGuardWaitsForSlot(t *testing.T) {
	testlog.Start(t)

	release := make(chan struct{})
	ctrl := newFakeController()
	g := NewGuard(blockingRunner(release), &recordingInteraction{}, ctrl)
	g.Activate(context.Background(), false, "first", "")

	started := make(chan bool, 1)
	go func() { started <- g.Activate(context.Background(), true, "second", "") }()
	eventually(t, func() bool { return g.Waiting() == 1 })

	close(release)
	if !<-started {
		t.Fatalf("waiting activation should start once the slot is free")
	}
	first := waitCompletion(t, ctrl)
	second := waitCompletion(t, ctrl)
	if first.result.CardSessionID != "first" || second.result.CardSessionID != "second" {
		t.Fatalf("completions = %+v / %+v", first, second)
	}
}

func TestGuardWaitGivesUpWithContext(t *testing.T) {
	testlog.Start(t)

	release := make(chan struct{})
	defer close(release)
	g := NewGuard(blockingRunner(release), &recordingInteraction{}, newFakeController())
	g.Activate(context.Background(), false, "first", "")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if g.Activate(ctx, true, "second", "") {
		t.Fatalf("activation should give up when its context ends")
	}
	if g.Waiting() != 0 {
		t.Fatalf("waiting = %d", g.Waiting())
	}
}

func TestGuardCancelReportsCompletion(t *testing.T) {
	testlog.Start(t)

	ctrl := newFakeController()
	g := NewGuard(blockingRunner(make(chan struct{})), &recordingInteraction{}, ctrl)
	g.Activate(context.Background(), false, "first", "")
	<-ctrl.started

	if !g.Cancel() {
		t.Fatalf("cancel found no activation")
	}
	if done := waitCompletion(t, ctrl); !errors.Is(done.err, context.Canceled) {
		t.Fatalf("completion err = %v", done.err)
	}
	eventually(t, func() bool { return !g.Active() })
	if g.Cancel() {
		t.Fatalf("cancel without activation should report false")
	}
}

func TestGuardDestroySuppressesStaleCallbacks(t *testing.T) {
	testlog.Start(t)

	ui := &recordingInteraction{}
	ctrl := newFakeController()
	staleErr := make(chan error, 1)
	runner := RunnerFunc(func(ctx context.Context, url, token string, interaction domain.UserInteraction) (*cardlink.AuthResult, *prescription.Protocol, error) {
		<-ctx.Done()
		interaction.RequestCardInsertion()
		_, err := interaction.OnCanRequest(context.Background())
		staleErr <- err
		return &cardlink.AuthResult{}, nil, nil
	})
	g := NewGuard(runner, ui, ctrl)
	g.Activate(context.Background(), false, "first", "")
	<-ctrl.started

	g.Destroy()

	if err := <-staleErr; !errors.Is(err, ErrStaleSession) {
		t.Fatalf("stale prompt err = %v", err)
	}
	if events := ui.Events(); len(events) != 0 {
		t.Fatalf("stale activation reached the user: %v", events)
	}
	select {
	case done := <-ctrl.completions:
		t.Fatalf("destroyed activation reported completion %+v", done)
	case <-time.After(50 * time.Millisecond):
	}
	if g.Active() {
		t.Fatalf("slot not freed")
	}
}

func TestGuardForwardsInteractionWhileCurrent(t *testing.T) {
	testlog.Start(t)

	ui := &recordingInteraction{}
	ctrl := newFakeController()
	runner := RunnerFunc(func(ctx context.Context, url, token string, interaction domain.UserInteraction) (*cardlink.AuthResult, *prescription.Protocol, error) {
		interaction.RequestCardInsertion()
		if _, err := interaction.OnCanRequest(ctx); err != nil {
			return nil, nil, err
		}
		return &cardlink.AuthResult{}, nil, nil
	})
	g := NewGuard(runner, ui, ctrl)
	g.Activate(context.Background(), false, "", "")

	if done := waitCompletion(t, ctrl); done.err != nil {
		t.Fatalf("completion err = %v", done.err)
	}
	events := ui.Events()
	if len(events) != 2 || events[0] != "insert" || events[1] != "can" {
		t.Fatalf("events = %v", events)
	}
}

func TestGuardDropsCallbacksOfSupersededActivation(t *testing.T) {
	testlog.Start(t)

	ui := &recordingInteraction{}
	ctrl := newFakeController()
	captured := make(chan domain.UserInteraction, 2)
	release := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, url, token string, interaction domain.UserInteraction) (*cardlink.AuthResult, *prescription.Protocol, error) {
		captured <- interaction
		if url == "second" {
			<-release
		}
		return &cardlink.AuthResult{CardSessionID: url}, nil, nil
	})
	g := NewGuard(runner, ui, ctrl)

	g.Activate(context.Background(), false, "first", "")
	first := <-captured
	waitCompletion(t, ctrl)
	eventually(t, func() bool { return !g.Active() })

	g.Activate(context.Background(), false, "second", "")
	second := <-captured
	defer close(release)

	if _, err := first.OnCanRequest(context.Background()); !errors.Is(err, ErrStaleSession) {
		t.Fatalf("superseded prompt err = %v", err)
	}
	first.RequestCardInsertion()
	if events := ui.Events(); len(events) != 0 {
		t.Fatalf("superseded activation reached the user: %v", events)
	}

	if _, err := second.OnCanRequest(context.Background()); err != nil {
		t.Fatalf("current prompt err = %v", err)
	}
	if events := ui.Events(); len(events) != 1 || events[0] != "can" {
		t.Fatalf("events = %v", events)
	}
}

func TestGuardMatchesActivationsByToken(t *testing.T) {
	testlog.Start(t)

	release := make(chan struct{})
	defer close(release)
	g := NewGuard(blockingRunner(release), &recordingInteraction{}, newFakeController())
	g.Activate(context.Background(), false, "first", "")

	g.mu.Lock()
	token := g.active.token
	g.mu.Unlock()

	if !g.isCurrent(token) {
		t.Fatalf("active token not recognised")
	}
	if g.isCurrent(uuid.New()) {
		t.Fatalf("foreign token treated as current")
	}
}
