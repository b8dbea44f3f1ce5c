package smartcard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/ebfe/scard"
	"github.com/rs/zerolog/log"
)

const DefaultPollInterval = 500 * time.Millisecond

// eGK applications.
var (
	aidMF    = []byte{0xD2, 0x76, 0x00, 0x01, 0x44, 0x80, 0x00}
	aidHCA   = []byte{0xD2, 0x76, 0x00, 0x00, 0x01, 0x02}
	aidESIGN = []byte{0xA0, 0x00, 0x00, 0x01, 0x67, 0x45, 0x53, 0x49, 0x47, 0x4E}
)

var locations = map[domain.Dataset]fileLocation{
	domain.DatasetGDO:          {app: "MF", aid: aidMF, sfi: 0x02},
	domain.DatasetATR:          {app: "MF", aid: aidMF, sfi: 0x1D},
	domain.DatasetVersion2:     {app: "MF", aid: aidMF, sfi: 0x11},
	domain.DatasetCVCCA:        {app: "MF", aid: aidMF, sfi: 0x07},
	domain.DatasetCVCAuth:      {app: "MF", aid: aidMF, sfi: 0x06},
	domain.DatasetX509AuthECC:  {app: "DF.ESIGN", aid: aidESIGN, sfi: 0x04},
	domain.DatasetPersonalData: {app: "DF.HCA", aid: aidHCA, sfi: 0x01},
	domain.DatasetInsurerData:  {app: "DF.HCA", aid: aidHCA, sfi: 0x02},
}

type fileLocation struct {
	app string
	aid []byte
	sfi byte
}

// PCSCStack reaches eGK cards through the PC/SC daemon.
type PCSCStack struct {
	context      *scard.Context
	pollInterval time.Duration
}

func NewPCSCStack(pollInterval time.Duration) (*PCSCStack, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to establish context: %v", domain.ErrStackMissing, err)
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &PCSCStack{context: ctx, pollInterval: pollInterval}, nil
}

func (s *PCSCStack) Close() error {
	return s.context.Release()
}

func (s *PCSCStack) Terminals(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	readers, err := s.context.ListReaders()
	if errors.Is(err, scard.ErrNoReadersAvailable) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return readers, nil
}

// WaitForCard blocks until a card is present in terminal. The daemon is
// polled in steps of the poll interval so ctx is honoured.
func (s *PCSCStack) WaitForCard(ctx context.Context, terminal string) error {
	states := []scard.ReaderState{{Reader: terminal, CurrentState: scard.StateUnaware}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.context.GetStatusChange(states, s.pollInterval)
		if err != nil && !errors.Is(err, scard.ErrTimeout) {
			return mapError(err)
		}
		if states[0].EventState&scard.StatePresent != 0 && states[0].EventState&scard.StateMute == 0 {
			log.Debug().Str("reader", terminal).Msg("card present")
			return nil
		}
		if states[0].EventState&(scard.StateUnknown|scard.StateUnavailable) != 0 {
			return fmt.Errorf("%w: %s", domain.ErrReaderUnavailable, terminal)
		}
		states[0].CurrentState = states[0].EventState &^ scard.StateChanged
	}
}

func (s *PCSCStack) Connect(ctx context.Context, terminal string) (domain.CardConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Use exclusive mode so no other process talks to the card mid-relay.
	card, err := s.context.Connect(terminal, scard.ShareExclusive, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		return nil, mapError(err)
	}
	log.Info().Str("reader", terminal).Msg("connected to card")
	return newConnection(card, terminal), nil
}

type cardHandle interface {
	transmitter
	controller
	Disconnect(d scard.Disposition) error
}

type connection struct {
	card     cardHandle
	terminal string

	mu       sync.Mutex
	selected string
}

func newConnection(card cardHandle, terminal string) *connection {
	return &connection{card: card, terminal: terminal}
}

func (c *connection) AuthenticateCAN(ctx context.Context, can string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := establishPACE(c.card, can); err != nil {
		return mapError(err)
	}
	c.selected = ""
	log.Debug().Str("reader", c.terminal).Msg("PACE channel established")
	return nil
}

func (c *connection) ReadDataset(ctx context.Context, ds domain.Dataset) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, ok := locations[ds]
	if !ok {
		return nil, fmt.Errorf("smartcard: no location for %s", ds)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selected != loc.app {
		if err := selectAID(c.card, loc.aid); err != nil {
			c.selected = ""
			return nil, mapError(err)
		}
		c.selected = loc.app
	}
	data, err := readBinarySFI(c.card, loc.sfi)
	if err != nil {
		return nil, mapError(err)
	}
	log.Debug().Str("dataset", ds.String()).Int("bytes", len(data)).Msg("read dataset")
	return data, nil
}

// Transmit relays a raw APDU. The remote side may select other files, so
// the cached selection is dropped.
func (c *connection) Transmit(ctx context.Context, apdu []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selected = ""
	rsp, err := c.card.Transmit(apdu)
	if err != nil {
		return nil, mapError(err)
	}
	return rsp, nil
}

// Close resets the card, which also ends the PACE channel.
func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.card.Disconnect(scard.ResetCard); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError translates PC/SC and status word failures into the card
// sentinels the protocol understands.
func mapError(err error) error {
	var se *statusError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrPace), errors.Is(err, domain.ErrPaceUnsupported):
		return err
	case errors.As(err, &se):
		switch se.sw {
		case swFileNotFound:
			return fmt.Errorf("%w: %v", domain.ErrDeviceUnsupported, err)
		case swSecurityStatus, swSecureMessagingData:
			return fmt.Errorf("%w: %v", domain.ErrSecureMessaging, err)
		}
		return err
	case errors.Is(err, scard.ErrRemovedCard), errors.Is(err, scard.ErrResetCard),
		errors.Is(err, scard.ErrNoSmartcard), errors.Is(err, scard.ErrUnpoweredCard),
		errors.Is(err, scard.ErrUnresponsiveCard):
		return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	case errors.Is(err, scard.ErrUnsupportedCard):
		return fmt.Errorf("%w: %v", domain.ErrDeviceUnsupported, err)
	case errors.Is(err, scard.ErrReaderUnavailable), errors.Is(err, scard.ErrUnknownReader),
		errors.Is(err, scard.ErrNoReadersAvailable), errors.Is(err, scard.ErrSharingViolation):
		return fmt.Errorf("%w: %v", domain.ErrReaderUnavailable, err)
	case errors.Is(err, scard.ErrNoService), errors.Is(err, scard.ErrServiceStopped):
		return fmt.Errorf("%w: %v", domain.ErrStackMissing, err)
	default:
		return fmt.Errorf("smartcard: %w", err)
	}
}

// Unavailable stands in when no PC/SC daemon could be reached. Every
// attempt then fails with the stack error instead of the agent exiting.
type Unavailable struct {
	Err error
}

func (u Unavailable) Terminals(context.Context) ([]string, error) {
	return nil, u.err()
}

func (u Unavailable) WaitForCard(context.Context, string) error {
	return u.err()
}

func (u Unavailable) Connect(context.Context, string) (domain.CardConnection, error) {
	return nil, u.err()
}

func (u Unavailable) err() error {
	if u.Err == nil {
		return domain.ErrStackMissing
	}
	return u.Err
}
