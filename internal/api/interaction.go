package api

import (
	"context"
	"sync"

	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/rs/zerolog/log"
)

// Broadcaster pushes an event to every connected UI.
type Broadcaster interface {
	BroadcastMessage(messageType string, payload interface{}) error
}

// HubInteraction asks the connected UIs for phone number, TAN and CAN and
// waits for the matching reply.
type HubInteraction struct {
	out Broadcaster

	mu      sync.Mutex
	pending map[string]chan string
}

func NewHubInteraction(out Broadcaster) *HubInteraction {
	return &HubInteraction{out: out, pending: make(map[string]chan string)}
}

// Deliver routes a UI reply to the request waiting for its type. Replies
// nobody waits for are dropped and answered with an ERROR message.
func (i *HubInteraction) Deliver(msg domain.InboundMessage) {
	i.mu.Lock()
	ch, ok := i.pending[msg.Type]
	if ok {
		delete(i.pending, msg.Type)
	}
	i.mu.Unlock()

	if !ok {
		log.Warn().Str("type", msg.Type).Msg("unsolicited UI reply")
		if err := i.out.BroadcastMessage(domain.MsgError, domain.ErrorResponse{
			Code:    domain.ErrCodeUnexpectedReply,
			Message: domain.ErrMsgUnexpectedReply,
		}); err != nil {
			log.Warn().Err(err).Msg("failed to report unsolicited UI reply")
		}
		return
	}
	ch <- msg.Payload
}

func (i *HubInteraction) ask(ctx context.Context, msgType string, payload interface{}, replyType string) (string, error) {
	ch := make(chan string, 1)
	i.mu.Lock()
	i.pending[replyType] = ch
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		if i.pending[replyType] == ch {
			delete(i.pending, replyType)
		}
		i.mu.Unlock()
	}()

	if err := i.out.BroadcastMessage(msgType, payload); err != nil {
		return "", err
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case answer := <-ch:
		return answer, nil
	}
}

func (i *HubInteraction) tell(msgType string) {
	if err := i.out.BroadcastMessage(msgType, nil); err != nil {
		log.Warn().Err(err).Str("type", msgType).Msg("failed to broadcast card event")
	}
}

func (i *HubInteraction) OnPhoneNumberRequest(ctx context.Context) (string, error) {
	return i.ask(ctx, domain.MsgPhoneNumberRequest, nil, domain.ReplyPhoneNumber)
}

func (i *HubInteraction) OnPhoneNumberRetry(ctx context.Context, code domain.ResultCode, msg string) (string, error) {
	return i.ask(ctx, domain.MsgPhoneNumberRetry, domain.RetryRequest{ResultCode: string(code), Message: msg}, domain.ReplyPhoneNumber)
}

func (i *HubInteraction) OnTanRequest(ctx context.Context) (string, error) {
	return i.ask(ctx, domain.MsgTanRequest, nil, domain.ReplyTan)
}

func (i *HubInteraction) OnTanRetry(ctx context.Context, code domain.ResultCode, msg string) (string, error) {
	return i.ask(ctx, domain.MsgTanRetry, domain.RetryRequest{ResultCode: string(code), Message: msg}, domain.ReplyTan)
}

func (i *HubInteraction) OnCanRequest(ctx context.Context) (string, error) {
	return i.ask(ctx, domain.MsgCanRequest, nil, domain.ReplyCan)
}

func (i *HubInteraction) OnCanRetry(ctx context.Context, code domain.CanResultCode, msg string) (string, error) {
	return i.ask(ctx, domain.MsgCanRetry, domain.RetryRequest{ResultCode: string(code), Message: msg}, domain.ReplyCan)
}

func (i *HubInteraction) RequestCardInsertion() { i.tell(domain.MsgCardInsertionRequested) }

func (i *HubInteraction) OnCardRecognized() { i.tell(domain.MsgCardRecognized) }

func (i *HubInteraction) OnCardRemoved() { i.tell(domain.MsgCardRemoved) }

func (i *HubInteraction) OnCardInsufficient() { i.tell(domain.MsgCardInsufficient) }

func (i *HubInteraction) OnCardInteractionComplete() { i.tell(domain.MsgCardInteractionDone) }
