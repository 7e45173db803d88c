package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/microstructure-engine/internal/market"
)

func TestSubscribeUnsubscribeBookkeeping(t *testing.T) {
	c := NewClient("wss://example.invalid/ws", Handlers{})
	c.Subscribe("MKT_A")
	c.Subscribe("MKT_B")
	if got := c.SubscribedMarkets(); len(got) != 2 {
		t.Fatalf("expected 2 subscribed markets, got %v", got)
	}
	c.Unsubscribe("MKT_A")
	got := c.SubscribedMarkets()
	if len(got) != 1 || got[0] != "MKT_B" {
		t.Fatalf("expected only MKT_B to remain subscribed, got %v", got)
	}
}

func TestDispatchRoutesTradeFramesToOnTick(t *testing.T) {
	var received market.Tick
	called := false
	c := NewClient("wss://example.invalid/ws", Handlers{
		OnTick: func(tick market.Tick) {
			received = tick
			called = true
		},
	})
	c.dispatch([]byte(`{"type":"trade","market":"MKT","price":0.55,"size":10}`))
	if !called {
		t.Fatal("expected OnTick to be invoked for a trade frame")
	}
	if received.MarketID != "MKT" {
		t.Fatalf("unexpected dispatched tick: %+v", received)
	}
}

func TestDispatchRoutesBookFramesToOnOrderbook(t *testing.T) {
	var received market.Orderbook
	called := false
	c := NewClient("wss://example.invalid/ws", Handlers{
		OnOrderbook: func(ob market.Orderbook) {
			received = ob
			called = true
		},
	})
	c.dispatch([]byte(`{"channel":"book","asset_id":"MKT","bids":[],"asks":[]}`))
	if !called {
		t.Fatal("expected OnOrderbook to be invoked for a book frame")
	}
	if received.MarketID != "MKT" {
		t.Fatalf("unexpected dispatched orderbook: %+v", received)
	}
}

func TestDispatchSilentlyDropsInvalidFrames(t *testing.T) {
	called := false
	c := NewClient("wss://example.invalid/ws", Handlers{
		OnTick: func(market.Tick) { called = true },
	})
	c.dispatch([]byte(`{not json`))
	c.dispatch([]byte(`{"type":"trade","market":"MKT","price":-1,"size":10}`))
	if called {
		t.Fatal("expected invalid frames to be dropped without invoking handlers")
	}
}

func TestRunReturnsContextErrorWhenCanceledBeforeDial(t *testing.T) {
	c := NewClient("wss://example.invalid/ws", Handlers{})
	c.dial = func(string) (*websocket.Conn, error) {
		t.Fatal("dial should not be called once ctx is already canceled")
		return nil, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected final state Disconnected, got %v", c.State())
	}
}

func TestRunReturnsContextErrorWhenCanceledDuringDial(t *testing.T) {
	c := NewClient("wss://example.invalid/ws", Handlers{})
	ctx, cancel := context.WithCancel(context.Background())

	c.dial = func(string) (*websocket.Conn, error) {
		cancel()
		return nil, errors.New("dial failed")
	}

	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled once ctx is canceled mid-dial, got %v", err)
	}
}
