package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	Subprotocol             = "cardlink"
	DefaultPingInterval     = 15 * time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultReconnectTimeout = 10 * time.Second

	controlWriteWait = 5 * time.Second
)

var ErrNotConnected = errors.New("websocket: not connected")

type Options struct {
	URL          string
	TenantToken  string
	SessionID    string
	PingInterval time.Duration
	Dialer       *websocket.Dialer
}

// SendOptions controls the reconnect behaviour of SendWithOptions.
type SendOptions struct {
	Reconnect        bool
	ReconnectTimeout time.Duration
}

// Client owns one CardLink socket. Connect, send and close are serialized;
// the read loop runs on its own goroutine and hands text frames to the mux.
type Client struct {
	url          string
	tenantToken  string
	pingInterval time.Duration
	dialer       *websocket.Dialer
	mux          *Mux

	opMu sync.Mutex

	stateMu sync.RWMutex
	conn    *websocket.Conn

	idMu      sync.RWMutex
	sessionID string
}

func NewClient(opts Options, mux *Mux) *Client {
	dialer := opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		dialer = &d
	}
	dialer.Subprotocols = []string{Subprotocol}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if mux == nil {
		mux = NewMux()
	}
	return &Client{
		url:          opts.URL,
		tenantToken:  opts.TenantToken,
		pingInterval: opts.PingInterval,
		dialer:       dialer,
		mux:          mux,
		sessionID:    opts.SessionID,
	}
}

func (c *Client) SessionID() string {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.sessionID
}

// SetSessionID changes the token used on the next (re)connect.
func (c *Client) SetSessionID(id string) {
	c.idMu.Lock()
	c.sessionID = id
	c.idMu.Unlock()
}

func (c *Client) IsOpen() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.conn != nil
}

func (c *Client) Connect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.connectLocked(ctx)
}

// ConnectWithTimeout opens the socket unless it is already open.
func (c *Client) ConnectWithTimeout(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Connect(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.IsOpen() {
		return nil
	}
	target, err := c.dialURL()
	if err != nil {
		return err
	}
	header := http.Header{}
	if c.tenantToken != "" {
		header.Set("Authorization", "Bearer "+c.tenantToken)
	}

	log.Debug().Str("url", c.url).Msg("connecting websocket")
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("websocket: dial %s: %w", c.url, err)
	}
	if conn.Subprotocol() != Subprotocol {
		log.Warn().Str("subprotocol", conn.Subprotocol()).Msg("server did not confirm cardlink subprotocol")
	}

	c.stateMu.Lock()
	c.conn = conn
	c.stateMu.Unlock()

	done := make(chan struct{})
	go c.readLoop(conn, done)
	go c.pingLoop(conn, done)
	log.Info().Str("url", c.url).Msg("websocket connected")
	return nil
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("websocket: invalid url %q: %w", c.url, err)
	}
	if id := c.SessionID(); id != "" {
		q := u.Query()
		q.Set("token", id)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) Send(ctx context.Context, data string) error {
	return c.SendWithOptions(ctx, data, SendOptions{Reconnect: true, ReconnectTimeout: DefaultReconnectTimeout})
}

func (c *Client) SendWithOptions(ctx context.Context, data string, opts SendOptions) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.IsOpen() {
		if !opts.Reconnect {
			return ErrNotConnected
		}
		log.Debug().Msg("socket closed, reconnecting before send")
		connectCtx := ctx
		if opts.ReconnectTimeout > 0 {
			var cancel context.CancelFunc
			connectCtx, cancel = context.WithTimeout(ctx, opts.ReconnectTimeout)
			defer cancel()
		}
		if err := c.connectLocked(connectCtx); err != nil {
			return err
		}
	}

	c.stateMu.RLock()
	conn := c.conn
	c.stateMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		c.drop(conn)
		return fmt.Errorf("websocket: send: %w", err)
	}
	return nil
}

// Close sends a close frame and tears the connection down. Closing a closed
// client is a no-op.
func (c *Client) Close(code int, reason string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stateMu.Lock()
	conn := c.conn
	c.conn = nil
	c.stateMu.Unlock()
	if conn == nil {
		return nil
	}

	log.Debug().Int("code", code).Str("reason", reason).Msg("closing websocket")
	msg := websocket.FormatCloseMessage(code, reason)
	werr := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteWait))
	cerr := conn.Close()
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return fmt.Errorf("websocket: close: %w", werr)
	}
	return cerr
}

func (c *Client) drop(conn *websocket.Conn) {
	c.stateMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.stateMu.Unlock()
	_ = conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		close(done)
		c.drop(conn)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				log.Info().Int("code", closeErr.Code).Str("reason", closeErr.Text).Msg("websocket closed by peer")
			} else {
				log.Debug().Err(err).Msg("websocket read loop stopped")
			}
			return
		}
		if messageType != websocket.TextMessage {
			log.Warn().Int("frame_type", messageType).Msg("ignoring non-text frame")
			continue
		}
		c.mux.Dispatch(string(data))
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteWait)); err != nil {
				log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}
