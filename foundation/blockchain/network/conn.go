package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// writeWait is the time allowed to write a message to the peer.
const writeWait = 10 * time.Second

// ErrMalformed is returned by Receive for a frame that isn't an envelope.
// The connection is still usable.
var ErrMalformed = errors.New("malformed envelope")

// Conn wraps a websocket connection. Writes are serialized so several
// goroutines can send over the same connection.
type Conn struct {
	ID      string
	Address string

	ws *websocket.Conn
	mu sync.Mutex
}

// NewConn wraps an established websocket connection.
func NewConn(ws *websocket.Conn, address string) *Conn {
	return &Conn{
		ID:      uuid.NewString(),
		Address: address,
		ws:      ws,
	}
}

// Upgrade accepts a websocket connection from an http request.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	return NewConn(ws, r.RemoteAddr), nil
}

// Send writes the envelope to the connection.
func (c *Conn) Send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(env)
}

// SendPayload constructs an envelope for the payload and writes it.
func (c *Conn) SendPayload(typ Type, senderID string, payload any) error {
	env, err := NewEnvelope(typ, senderID, payload)
	if err != nil {
		return err
	}

	return c.Send(env)
}

// Receive blocks until the next envelope arrives. A transport failure ends
// the connection, a frame that doesn't decode is reported with ErrMalformed
// and the next call reads the following frame.
func (c *Conn) Receive() (Envelope, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return env, nil
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.mu.Unlock()

	return c.ws.Close()
}

// =============================================================================

// DialConfig controls how outbound connections are attempted.
type DialConfig struct {
	Attempts  int
	Delay     time.Duration
	EvHandler func(v string, args ...any)
}

// Dial connects to the node listening on the address. The attempt is
// retried with a fixed delay and abandoned once the attempts are used up.
func Dial(ctx context.Context, address string, cfg DialConfig) (*Conn, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	url := URL(address)
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		ev("network: Dial: %s: attempt[%d]", url, attempt)

		ws, _, err := dialer.DialContext(ctx, url, nil)
		if err == nil {
			return NewConn(ws, address), nil
		}
		lastErr = err

		ev("network: Dial: %s: attempt[%d]: WARNING: %s", url, attempt, err)

		if attempt == cfg.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.Delay):
		}
	}

	return nil, fmt.Errorf("dial %s: abandoned after %d attempts: %w", url, cfg.Attempts, lastErr)
}

// URL converts a host:port address into the websocket url of the node.
func URL(address string) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}

	return "ws://" + address + "/"
}
