package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/waello/ozeshare/model"
)

const (
	defaultPingInterval   = 30 * time.Second
	defaultReconnectDelay = time.Second

	defaultHandshakeTimeout   = 3 * time.Second
	defaultWriteDeadline      = 5 * time.Second
	defaultCloseWriteDeadline = 2 * time.Second
	defaultMaxMessageSize     = 9000

	defaultTxBuffer = 32
	defaultRXBuffer = 32
)

var (
	ErrNotConnected = errors.New("channel is not connected")
	ErrTxOverflow   = errors.New("outgoing buffer is full")
)

type (
	// Config for the channel client.
	Config struct {
		Logger *zerolog.Logger
		URL    string

		// Reconnect enables the single scheduled reconnection attempt
		// after an unintentional close. There is no retry count limit and
		// no backoff: at most one attempt is pending at any moment, each
		// failed attempt may schedule the next one. This mirrors the
		// original client behavior and is a known-minimal policy.
		Reconnect      bool
		ReconnectDelay time.Duration
		PingInterval   time.Duration
	}

	// Client owns one persistent channel to the coordination endpoint.
	// Lifecycle transitions are delivered in-band on RX as synthetic
	// connect/disconnect envelopes, in transport order.
	Client struct {
		logger zerolog.Logger
		url    string
		dialer *websocket.Dialer

		reconnect      bool
		reconnectDelay time.Duration
		pingInterval   time.Duration

		rx   chan model.Envelope
		done chan struct{}

		mx          sync.Mutex
		status      model.ConnectionStatus
		conn        *websocket.Conn
		tx          chan model.Envelope
		gen         int
		intentional bool
		retry       *time.Timer
		closed      bool
	}
)

func NewClient(cfg Config) *Client {
	c := &Client{
		logger: cfg.Logger.With().Str("component", "channel").Logger(),
		url:    cfg.URL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		reconnect:      cfg.Reconnect,
		reconnectDelay: cfg.ReconnectDelay,
		pingInterval:   cfg.PingInterval,
		rx:             make(chan model.Envelope, defaultRXBuffer),
		done:           make(chan struct{}),
		status:         model.StatusDisconnected,
	}
	if c.reconnectDelay <= 0 {
		c.reconnectDelay = defaultReconnectDelay
	}
	if c.pingInterval <= 0 {
		c.pingInterval = defaultPingInterval
	}
	return c
}

// RX is the inbound event stream, including synthetic lifecycle envelopes.
func (c *Client) RX() <-chan model.Envelope {
	return c.rx
}

func (c *Client) Status() model.ConnectionStatus {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.status
}

// Connect initiates the channel open. No-op while already connecting or
// connected; only one attempt is ever in flight.
func (c *Client) Connect() {
	c.mx.Lock()
	if c.closed || c.status == model.StatusConnecting || c.status == model.StatusConnected {
		c.mx.Unlock()
		return
	}
	c.status = model.StatusConnecting
	c.intentional = false
	c.gen++
	gen := c.gen
	c.mx.Unlock()

	c.logger.Debug().Str("url", c.url).Msg("connecting")
	go c.dial(gen)
}

func (c *Client) dial(gen int) {
	conn, _, err := c.dialer.Dial(c.url, nil) //nolint:bodyclose // gorilla owns the response body

	c.mx.Lock()
	if c.closed || gen != c.gen {
		c.mx.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.status = model.StatusError
		retry := c.reconnect && !c.intentional
		if retry {
			c.scheduleRetryLocked()
		}
		c.mx.Unlock()
		c.logger.Error().Err(err).Msg("dial failed")
		c.deliver(model.Envelope{Event: model.EventDisconnect})
		return
	}

	c.conn = conn
	c.tx = make(chan model.Envelope, defaultTxBuffer)
	c.status = model.StatusConnected
	tx := c.tx
	c.mx.Unlock()

	conn.SetReadLimit(defaultMaxMessageSize)

	go c.receiver(conn, gen)
	go c.sender(conn, tx)

	c.logger.Debug().Msg("connected")
	c.deliver(model.Envelope{Event: model.EventConnect})
}

// Send marshals payload and queues it for the channel.
func (c *Client) Send(event string, payload any) error {
	env, err := model.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.mx.Lock()
	tx, status := c.tx, c.status
	c.mx.Unlock()

	if status != model.StatusConnected || tx == nil {
		return ErrNotConnected
	}
	select {
	case tx <- env:
		return nil
	default:
		return ErrTxOverflow
	}
}

// Disconnect closes the channel. The intentional flag suppresses the
// automatic reconnection attempt.
func (c *Client) Disconnect(intentional bool) {
	c.mx.Lock()
	if intentional {
		c.intentional = true
		if c.retry != nil {
			c.retry.Stop()
			c.retry = nil
		}
	}
	conn := c.conn
	if conn == nil {
		// No live pumps to observe the close: settle status here. A dial
		// still in flight is invalidated via the generation counter.
		c.gen++
		settle := c.status != model.StatusDisconnected
		c.status = model.StatusDisconnected
		c.mx.Unlock()
		if settle {
			c.deliver(model.Envelope{Event: model.EventDisconnect})
		}
		return
	}
	c.mx.Unlock()

	closeConn(conn, &c.logger)
}

// Close tears the client down for good.
func (c *Client) Close() {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()
		return
	}
	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.conn = nil
	c.tx = nil
	c.gen++
	c.status = model.StatusDisconnected
	c.mx.Unlock()

	close(c.done)
	if conn != nil {
		closeConn(conn, &c.logger)
	}
}

func (c *Client) receiver(conn *websocket.Conn, gen int) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("connection closed")
			} else {
				c.logger.Debug().Err(err).Msg("receive ended")
			}
			c.connectionLost(conn, gen)
			return
		}

		var env model.Envelope
		if err = json.Unmarshal(msg, &env); err != nil {
			c.logger.Error().Err(err).Msg("failed to unmarshal incoming message")
			continue
		}
		c.deliver(env)
	}
}

func (c *Client) sender(conn *websocket.Conn, tx <-chan model.Envelope) {
	ping, err := model.NewEnvelope(model.EventPing, nil)
	if err != nil {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// Keep-warm only, no response contract.
			if err = writeEnvelope(conn, ping); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		case env := <-tx:
			if err = writeEnvelope(conn, env); err != nil {
				c.logger.Error().Err(err).Msg("failed to write outgoing message")
				return
			}
		}
	}
}

// connectionLost settles state after the read pump observed a close and
// schedules the single reconnection attempt when policy allows.
func (c *Client) connectionLost(conn *websocket.Conn, gen int) {
	_ = conn.Close()

	c.mx.Lock()
	if c.closed || gen != c.gen {
		c.mx.Unlock()
		return
	}
	c.conn = nil
	c.tx = nil
	c.status = model.StatusDisconnected
	intentional := c.intentional
	if !intentional && c.reconnect {
		c.scheduleRetryLocked()
	}
	c.mx.Unlock()

	c.deliver(model.Envelope{Event: model.EventDisconnect})
}

func (c *Client) scheduleRetryLocked() {
	if c.retry != nil {
		return
	}
	c.retry = time.AfterFunc(c.reconnectDelay, func() {
		c.mx.Lock()
		c.retry = nil
		c.mx.Unlock()
		c.logger.Debug().Msg("reconnecting")
		c.Connect()
	})
}

func (c *Client) deliver(env model.Envelope) {
	select {
	case c.rx <- env:
	case <-c.done:
	}
}

func writeEnvelope(conn *websocket.Conn, env model.Envelope) error {
	b, err := json.Marshal(&env)
	if err != nil {
		return err
	}
	if err = conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

// closeConn may run concurrently with the sender pump; WriteControl is the
// only write that is safe to issue from outside it.
func closeConn(conn *websocket.Conn, logger *zerolog.Logger) {
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultCloseWriteDeadline))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		logger.Debug().Err(err).Msg("failed to write close message")
	}
	if err = conn.Close(); err != nil {
		logger.Debug().Err(err).Msg("failed to close connection")
	}
}

// Channel is the surface room coordinators use. *Client implements it.
type Channel interface {
	Connect()
	Disconnect(intentional bool)
	Send(event string, payload any) error
	RX() <-chan model.Envelope
}

var _ Channel = (*Client)(nil)
