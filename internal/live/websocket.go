package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-live/internal/audio"
	"github.com/lexiqai/voice-live/internal/observability"
	"github.com/lexiqai/voice-live/internal/resilience"
	"github.com/rs/zerolog"
)

const (
	writeTimeout  = 10 * time.Second
	messageBuffer = 64
)

// WSDialer opens sessions over WebSocket
type WSDialer struct {
	Endpoint         string
	APIKey           string
	HandshakeTimeout time.Duration // Bounds dial plus setup; zero means no bound beyond ctx
	Breaker          *resilience.CircuitBreaker
	Logger           zerolog.Logger
}

// NewWSDialer creates a dialer guarded by breaker. breaker may be nil.
func NewWSDialer(endpoint, apiKey string, handshakeTimeout time.Duration, breaker *resilience.CircuitBreaker) *WSDialer {
	return &WSDialer{
		Endpoint:         endpoint,
		APIKey:           apiKey,
		HandshakeTimeout: handshakeTimeout,
		Breaker:          breaker,
		Logger:           observability.WithComponent("live"),
	}
}

// Open dials the endpoint, sends the setup message and waits for the server
// to acknowledge it. Cancelling ctx aborts the open.
func (d *WSDialer) Open(ctx context.Context, cfg Config) (Conn, error) {
	if d.Breaker == nil {
		return d.open(ctx, cfg)
	}

	var conn Conn
	var openErr error
	err := d.Breaker.Call(func() error {
		conn, openErr = d.open(ctx, cfg)
		// A caller giving up is not a remote failure
		if openErr != nil && ctx.Err() == nil {
			return openErr
		}
		return nil
	})

	name := d.Breaker.Name()
	observability.UpdateCircuitBreakerState(name, int(d.Breaker.GetState()))
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("live service unavailable: %w", err)
	}
	if err != nil {
		observability.IncrementCircuitBreakerFailures(name)
	}
	return conn, openErr
}

func (d *WSDialer) open(ctx context.Context, cfg Config) (Conn, error) {
	if d.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}

	target, err := d.buildURL()
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	header := http.Header{}
	if d.APIKey != "" {
		header.Set("x-goog-api-key", d.APIKey)
	}

	ws, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to live service (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to live service: %w", err)
	}

	// Unblock the handshake read if ctx ends first
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-handshakeDone:
		}
	}()

	err = d.handshake(ws, cfg)
	close(handshakeDone)
	if err != nil {
		ws.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("live setup aborted: %w", ctxErr)
		}
		return nil, err
	}
	if ctx.Err() != nil {
		ws.Close()
		return nil, fmt.Errorf("live setup aborted: %w", ctx.Err())
	}

	c := &wsConn{
		ws:       ws,
		messages: make(chan Message, messageBuffer),
		closed:   make(chan struct{}),
		logger:   d.Logger,
	}
	go c.readPump()

	d.Logger.Info().Str("model", cfg.Model).Msg("Live session established")
	return c, nil
}

func (d *WSDialer) buildURL() (string, error) {
	u, err := url.Parse(d.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid live endpoint %q: %w", d.Endpoint, err)
	}
	if d.APIKey != "" {
		q := u.Query()
		q.Set("key", d.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (d *WSDialer) handshake(ws *websocket.Conn, cfg Config) error {
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(newSetup(cfg)); err != nil {
		return fmt.Errorf("failed to send setup: %w", err)
	}
	ws.SetWriteDeadline(time.Time{})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed waiting for setup completion: %w", err)
		}
		msgs, complete, err := parseServerMessage(raw)
		if err != nil {
			d.Logger.Warn().Err(err).Msg("Ignoring unparseable message during setup")
			continue
		}
		for _, m := range msgs {
			if m.Kind == KindError {
				return fmt.Errorf("live setup rejected: %w", m.Err)
			}
		}
		if complete {
			return nil
		}
	}
}

type wsConn struct {
	ws       *websocket.Conn
	messages chan Message
	logger   zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *wsConn) Messages() <-chan Message {
	return c.messages
}

func (c *wsConn) Send(frame audio.Frame) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	payload, err := json.Marshal(newAudioInput(frame))
	if err != nil {
		return fmt.Errorf("failed to encode audio input: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

// readPump parses every frame, text or binary, as a JSON server message
func (c *wsConn) readPump() {
	defer close(c.messages)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				// Closed locally; the reader is not interested in why
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.deliver(Message{Kind: KindClosed})
			} else {
				c.deliver(Message{Kind: KindError, Err: fmt.Errorf("live connection lost: %w", err)})
			}
			return
		}

		msgs, _, err := parseServerMessage(raw)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Dropping unparseable server message")
			continue
		}
		for _, m := range msgs {
			if !c.deliver(m) {
				return
			}
			if m.Kind == KindError {
				return
			}
		}
	}
}

// deliver reports false once the connection is closed locally
func (c *wsConn) deliver(m Message) bool {
	select {
	case c.messages <- m:
		return true
	case <-c.closed:
		return false
	}
}
