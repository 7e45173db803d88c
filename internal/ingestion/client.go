// Package ingestion implements the Stream Ingestor (spec §4.9,
// component C9): a WebSocket client maintaining one logical
// subscription per tracked market, reconnecting with exponential
// backoff and re-issuing every prior subscription on reconnect.
//
// Grounded on the teacher's WebSocketHandler connect/listen/ping loop
// (internal/ingestion/websocket.go in the teacher repo) and its
// RESTClient rate-limited polling style (internal/ingestion/rest.go),
// generalized from the teacher's Kalshi-specific trade/orderbook frame
// shape onto the generic wire envelope spec §6 describes, with
// reconnect backoff and frame validation added per spec §4.9/§6.
package ingestion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/microstructure-engine/internal/market"
)

// ConnState is the ingestor's connection lifecycle (spec §4.9).
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const (
	backoffBase    = 1 * time.Second
	backoffCap     = 30 * time.Second
	maxReconnects  = 10
	pingInterval   = 30 * time.Second
	dialTimeout    = 10 * time.Second
)

// Handlers routes decoded frames to the orchestrator.
type Handlers struct {
	OnTick      func(market.Tick)
	OnOrderbook func(market.Orderbook)
}

// Client is the C9 Stream Ingestor: one WebSocket connection,
// subscribe/unsubscribe bookkeeping, and reconnect-with-resubscribe.
type Client struct {
	url      string
	handlers Handlers

	mu          sync.Mutex
	subscribed  map[string]bool
	state       int32 // ConnState, accessed atomically
	connecting  int32 // reentrancy guard for Connecting, CAS'd

	dial func(url string) (*websocket.Conn, error)
}

func NewClient(url string, handlers Handlers) *Client {
	return &Client{
		url:        url,
		handlers:   handlers,
		subscribed: make(map[string]bool),
		dial: func(url string) (*websocket.Conn, error) {
			dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
			conn, _, err := dialer.Dial(url, nil)
			return conn, err
		},
	}
}

func (c *Client) State() ConnState {
	return ConnState(atomic.LoadInt32(&c.state))
}

func (c *Client) setState(s ConnState) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Subscribe tracks marketID for trade+book subscription. Re-issued
// automatically on every reconnect.
func (c *Client) Subscribe(marketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed[marketID] = true
}

// Unsubscribe drops marketID from the tracked subscription set.
func (c *Client) Unsubscribe(marketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribed, marketID)
}

// SubscribedMarkets returns the currently tracked market ids.
func (c *Client) SubscribedMarkets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscribed))
	for id := range c.subscribed {
		out = append(out, id)
	}
	return out
}

// Run drives the connect/listen/reconnect loop until ctx is canceled
// or the reconnect attempt ceiling (spec default 10) is exhausted.
func (c *Client) Run(ctx context.Context) error {
	delay := backoffBase
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		default:
		}

		err := c.connectAndListen(ctx)
		if err == nil || ctx.Err() != nil {
			c.setState(StateDisconnected)
			if err == nil {
				return nil
			}
			return ctx.Err()
		}

		attempts++
		if attempts > maxReconnects {
			c.setState(StateDisconnected)
			return fmt.Errorf("ingestion: exhausted %d reconnect attempts: %w", maxReconnects, err)
		}

		c.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

// connectAndListen dials, re-issues every tracked subscription, and
// reads frames until the connection drops or ctx is canceled. Entry is
// reentrancy-guarded: a second concurrent call while Connecting returns
// a "connect already in progress" error immediately.
func (c *Client) connectAndListen(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.connecting, 0, 1) {
		return fmt.Errorf("ingestion: connect already in progress")
	}
	defer atomic.StoreInt32(&c.connecting, 0)

	c.setState(StateConnecting)
	conn, err := c.dial(c.url)
	if err != nil {
		return fmt.Errorf("ingestion: dial failed: %w", err)
	}
	defer conn.Close()

	c.setState(StateConnected)
	if err := c.resubscribeAll(conn); err != nil {
		return fmt.Errorf("ingestion: resubscribe failed: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			c.dispatch(raw)
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

type subscribeRequest struct {
	Type    string   `json:"type"`
	Markets []string `json:"markets"`
	Channels []string `json:"channels"`
}

func (c *Client) resubscribeAll(conn *websocket.Conn) error {
	markets := c.SubscribedMarkets()
	if len(markets) == 0 {
		return nil
	}
	req := subscribeRequest{Type: "subscription", Markets: markets, Channels: []string{"trades", "orderbook"}}
	return conn.WriteJSON(req)
}

// dispatch decodes one raw frame and routes it to the configured
// handler, dropping invalid frames with no effect on connection state
// (spec §7: data-validation errors never poison state).
func (c *Client) dispatch(raw []byte) {
	env, err := parseFrame(raw)
	if err != nil {
		return
	}

	switch env.kind() {
	case "trade", "trades":
		tick, err := decodeTick(env)
		if err != nil {
			return
		}
		if c.handlers.OnTick != nil {
			c.handlers.OnTick(tick)
		}
	case "book", "orderbook":
		ob, err := decodeOrderbook(env)
		if err != nil {
			return
		}
		if c.handlers.OnOrderbook != nil {
			c.handlers.OnOrderbook(ob)
		}
	case "subscription", "error":
		// Acknowledged/errored out-of-band; nothing to dispatch.
	}
}
