package session

import (
	"context"

	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/google/uuid"
)

// guardedInteraction forwards to the user interaction only while its
// activation is current.
type guardedInteraction struct {
	guard *Guard
	token uuid.UUID
	inner domain.UserInteraction
}

func (i *guardedInteraction) current() bool {
	return i.inner != nil && i.guard.isCurrent(i.token)
}

func (i *guardedInteraction) ask(fn func() (string, error)) (string, error) {
	if !i.current() {
		return "", ErrStaleSession
	}
	return fn()
}

func (i *guardedInteraction) tell(fn func()) {
	if i.current() {
		fn()
	}
}

func (i *guardedInteraction) OnPhoneNumberRequest(ctx context.Context) (string, error) {
	return i.ask(func() (string, error) { return i.inner.OnPhoneNumberRequest(ctx) })
}

func (i *guardedInteraction) OnPhoneNumberRetry(ctx context.Context, code domain.ResultCode, msg string) (string, error) {
	return i.ask(func() (string, error) { return i.inner.OnPhoneNumberRetry(ctx, code, msg) })
}

func (i *guardedInteraction) OnTanRequest(ctx context.Context) (string, error) {
	return i.ask(func() (string, error) { return i.inner.OnTanRequest(ctx) })
}

func (i *guardedInteraction) OnTanRetry(ctx context.Context, code domain.ResultCode, msg string) (string, error) {
	return i.ask(func() (string, error) { return i.inner.OnTanRetry(ctx, code, msg) })
}

func (i *guardedInteraction) OnCanRequest(ctx context.Context) (string, error) {
	return i.ask(func() (string, error) { return i.inner.OnCanRequest(ctx) })
}

func (i *guardedInteraction) OnCanRetry(ctx context.Context, code domain.CanResultCode, msg string) (string, error) {
	return i.ask(func() (string, error) { return i.inner.OnCanRetry(ctx, code, msg) })
}

func (i *guardedInteraction) RequestCardInsertion() { i.tell(func() { i.inner.RequestCardInsertion() }) }

func (i *guardedInteraction) OnCardRecognized() { i.tell(func() { i.inner.OnCardRecognized() }) }

func (i *guardedInteraction) OnCardRemoved() { i.tell(func() { i.inner.OnCardRemoved() }) }

func (i *guardedInteraction) OnCardInsufficient() { i.tell(func() { i.inner.OnCardInsufficient() }) }

func (i *guardedInteraction) OnCardInteractionComplete() { i.tell(func() { i.inner.OnCardInteractionComplete() }) }
