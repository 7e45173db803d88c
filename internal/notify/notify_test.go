package notify

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/microstructure-engine/internal/signalkind"
)

func TestDisabledSinkNeverDelivers(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	sink := New(Config{Enabled: false, SlackWebhookURL: server.URL}, zerolog.Nop())
	sink.OnSignal(signalkind.New("MKT", signalkind.KindVolumeSpike, 0.9, signalkind.SeverityHigh, nil))

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("expected no delivery attempts while disabled, got %d", hits)
	}
}

func TestCooldownSuppressesRepeatDelivery(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := New(Config{Enabled: true, SlackWebhookURL: server.URL, CooldownSecs: 300}, zerolog.Nop())
	sig := signalkind.New("MKT", signalkind.KindVolumeSpike, 0.9, signalkind.SeverityHigh, nil)

	sink.OnSignal(sig)
	sink.OnSignal(sig)
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected exactly 1 delivery within the cooldown window, got %d", got)
	}
}

func TestDistinctMarketsAreNotCooldownCoupled(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := New(Config{Enabled: true, DiscordWebhookURL: server.URL, CooldownSecs: 300}, zerolog.Nop())
	sink.OnMicrostructureSignal(signalkind.New("MKT_A", signalkind.KindLiquidityVacuum, 0.9, signalkind.SeverityHigh, nil))
	sink.OnMicrostructureSignal(signalkind.New("MKT_B", signalkind.KindLiquidityVacuum, 0.9, signalkind.SeverityHigh, nil))
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected independent delivery per market, got %d", got)
	}
}
