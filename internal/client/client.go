package client

import (
	"context"
	"sync"
	"time"

	"github.com/cortex-x/go-cardlink-client/internal/cardlink"
	"github.com/cortex-x/go-cardlink-client/internal/config"
	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/cortex-x/go-cardlink-client/internal/infra/websocket"
	"github.com/cortex-x/go-cardlink-client/internal/prescription"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	closeCode   = gorilla.CloseNormalClosure
	closeReason = "Client stopped."
)

type Options struct {
	URL                 string
	TenantToken         string
	WsSessionID         string
	PingInterval        time.Duration
	PrescriptionTimeout time.Duration
	Auth                cardlink.Options
	Dialer              *gorilla.Dialer
}

// OptionsFromConfig maps the cardlink, prescription and smartcard sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:                 cfg.CardLink.URL,
		TenantToken:         cfg.CardLink.TenantToken,
		WsSessionID:         cfg.CardLink.WsSessionID,
		PingInterval:        cfg.CardLink.PingInterval,
		PrescriptionTimeout: cfg.Prescription.Timeout,
		Auth: cardlink.Options{
			ReadPersonalData: cfg.CardLink.ReadPersonalData,
			ReadInsurerData:  cfg.CardLink.ReadInsurerData,
			MessageTimeout:   cfg.CardLink.MessageTimeout,
			ConnectTimeout:   cfg.CardLink.ConnectTimeout,
			Terminal:         cfg.Smartcard.Reader,
		},
	}
}

// Client binds one socket to both protocols. The socket outlives single
// authentication attempts and is only closed by Close.
type Client struct {
	ws            *websocket.Client
	auth          *cardlink.AuthProtocol
	prescriptions *prescription.Protocol
}

func New(opts Options, cards domain.CardStack) *Client {
	mux := websocket.NewMux()
	ws := websocket.NewClient(websocket.Options{
		URL:          opts.URL,
		TenantToken:  opts.TenantToken,
		SessionID:    opts.WsSessionID,
		PingInterval: opts.PingInterval,
		Dialer:       opts.Dialer,
	}, mux)

	c := &Client{
		ws:            ws,
		auth:          cardlink.NewAuthProtocol(ws, cards, opts.Auth),
		prescriptions: prescription.NewProtocol(ws, opts.PrescriptionTimeout),
	}
	mux.Register(cardlink.TrackSessionID(ws))
	mux.Register(c.auth)
	mux.Register(c.prescriptions)
	return c
}

func (c *Client) EstablishCardLink(ctx context.Context, interaction domain.UserInteraction) (*cardlink.AuthResult, error) {
	return c.auth.EstablishCardLink(ctx, interaction)
}

func (c *Client) Prescriptions() *prescription.Protocol {
	return c.prescriptions
}

func (c *Client) WsSessionID() string {
	return c.ws.SessionID()
}

func (c *Client) Close() error {
	return c.ws.Close(closeCode, closeReason)
}

// Manager hands out a Client per service URL and tenant token and reuses it
// while both stay the same.
type Manager struct {
	opts  Options
	cards domain.CardStack

	mu      sync.Mutex
	current *Client
	url     string
	token   string
}

func NewManager(opts Options, cards domain.CardStack) *Manager {
	return &Manager{opts: opts, cards: cards}
}

// Run performs one attempt and satisfies session.Runner.
func (m *Manager) Run(ctx context.Context, url, tenantToken string, interaction domain.UserInteraction) (*cardlink.AuthResult, *prescription.Protocol, error) {
	c := m.clientFor(url, tenantToken)
	result, err := c.EstablishCardLink(ctx, interaction)
	if err != nil {
		return nil, nil, err
	}
	return result, c.Prescriptions(), nil
}

func (m *Manager) clientFor(url, tenantToken string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if url == "" {
		url = m.opts.URL
	}
	if tenantToken == "" {
		tenantToken = m.opts.TenantToken
	}
	if m.current != nil && m.url == url && m.token == tenantToken {
		return m.current
	}

	sessionID := m.opts.WsSessionID
	if m.current != nil {
		if m.url == url {
			sessionID = m.current.WsSessionID()
		}
		if err := m.current.Close(); err != nil {
			log.Warn().Err(err).Msg("closing previous cardlink client")
		}
	}

	opts := m.opts
	opts.URL, opts.TenantToken, opts.WsSessionID = url, tenantToken, sessionID
	m.current = New(opts, m.cards)
	m.url, m.token = url, tenantToken
	log.Debug().Str("url", url).Msg("created cardlink client")
	return m.current
}

// Current returns the client of the last attempt, or nil.
func (m *Manager) Current() *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) Close() error {
	m.mu.Lock()
	c := m.current
	m.current = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}
