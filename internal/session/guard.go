package session

import (
	"context"
	"errors"
	"sync"

	"github.com/cortex-x/go-cardlink-client/internal/cardlink"
	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/cortex-x/go-cardlink-client/internal/prescription"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrStaleSession is returned to an attempt that asks the user for input
// after it was superseded or destroyed.
var ErrStaleSession = errors.New("session: activation is no longer current")

// Controller receives the lifecycle of an activation.
type Controller interface {
	OnStarted()
	OnAuthenticationCompletion(result *cardlink.AuthResult, prescriptions *prescription.Protocol, err error)
}

// Runner performs one authentication attempt.
type Runner interface {
	Run(ctx context.Context, url, tenantToken string, interaction domain.UserInteraction) (*cardlink.AuthResult, *prescription.Protocol, error)
}

type RunnerFunc func(ctx context.Context, url, tenantToken string, interaction domain.UserInteraction) (*cardlink.AuthResult, *prescription.Protocol, error)

func (f RunnerFunc) Run(ctx context.Context, url, tenantToken string, interaction domain.UserInteraction) (*cardlink.AuthResult, *prescription.Protocol, error) {
	return f(ctx, url, tenantToken, interaction)
}

type activation struct {
	token   uuid.UUID
	cancel  context.CancelFunc
	done    chan struct{}
	revoked bool
}

// Guard lets at most one activation run at a time. Every callback an
// activation issues is tagged with its token and dropped once the token is
// no longer the active one.
type Guard struct {
	runner      Runner
	interaction domain.UserInteraction
	controller  Controller

	mu      sync.Mutex
	cond    *sync.Cond
	active  *activation
	waiting int

	// cbMu orders controller callbacks against revocation in Destroy.
	cbMu sync.Mutex
}

func NewGuard(runner Runner, interaction domain.UserInteraction, controller Controller) *Guard {
	g := &Guard{runner: runner, interaction: interaction, controller: controller}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Activate starts an attempt against url. When another attempt is active it
// either waits for the slot (waitForSlot) or returns false right away. It
// also returns false when ctx ends while waiting.
func (g *Guard) Activate(ctx context.Context, waitForSlot bool, url, tenantToken string) bool {
	g.mu.Lock()
	if g.active != nil {
		if !waitForSlot {
			g.mu.Unlock()
			log.Info().Msg("activation already running, not starting another one")
			return false
		}
		g.waiting++
		stop := context.AfterFunc(ctx, func() {
			g.mu.Lock()
			g.cond.Broadcast()
			g.mu.Unlock()
		})
		for g.active != nil && ctx.Err() == nil {
			g.cond.Wait()
		}
		stop()
		g.waiting--
		if g.active != nil || ctx.Err() != nil {
			g.mu.Unlock()
			return false
		}
	}

	attemptCtx, cancel := context.WithCancel(context.Background())
	act := &activation{token: uuid.New(), cancel: cancel, done: make(chan struct{})}
	g.active = act
	g.mu.Unlock()

	log.Debug().Str("activation", act.token.String()).Msg("activation started")
	go g.runAttempt(attemptCtx, act, url, tenantToken)
	return true
}

func (g *Guard) runAttempt(ctx context.Context, act *activation, url, tenantToken string) {
	defer func() {
		act.cancel()
		g.release(act)
		close(act.done)
	}()

	g.notify(act, func(c Controller) { c.OnStarted() })

	interaction := &guardedInteraction{guard: g, token: act.token, inner: g.interaction}
	result, prescriptions, err := g.runner.Run(ctx, url, tenantToken, interaction)

	if !g.notify(act, func(c Controller) { c.OnAuthenticationCompletion(result, prescriptions, err) }) {
		log.Debug().Str("activation", act.token.String()).Msg("suppressed completion of stale activation")
	}
}

// notify runs fn against the controller if act is still current.
func (g *Guard) notify(act *activation, fn func(Controller)) bool {
	g.cbMu.Lock()
	defer g.cbMu.Unlock()
	if !g.isCurrent(act.token) || g.controller == nil {
		return false
	}
	fn(g.controller)
	return true
}

// isCurrent reports whether token belongs to the active, not revoked
// activation.
func (g *Guard) isCurrent(token uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active != nil && g.active.token == token && !g.active.revoked
}

func (g *Guard) release(act *activation) {
	g.mu.Lock()
	if g.active != nil && g.active.token == act.token {
		g.active = nil
	}
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Cancel stops the running attempt. The controller still learns about the
// cancelled completion.
func (g *Guard) Cancel() bool {
	g.mu.Lock()
	act := g.active
	g.mu.Unlock()
	if act == nil {
		return false
	}
	act.cancel()
	return true
}

// Destroy cancels the running attempt, waits for it to wind down and frees
// the slot. Callbacks of the destroyed attempt are suppressed.
func (g *Guard) Destroy() {
	g.cbMu.Lock()
	g.mu.Lock()
	act := g.active
	if act != nil {
		act.revoked = true
	}
	g.mu.Unlock()
	g.cbMu.Unlock()

	if act == nil {
		return
	}
	act.cancel()
	<-act.done
	g.release(act)
	log.Debug().Str("activation", act.token.String()).Msg("activation destroyed")
}

func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active != nil
}

// Waiting reports how many Activate calls are blocked on the slot.
func (g *Guard) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}
