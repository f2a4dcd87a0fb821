package webhook

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/tradingcore/internal/circuitbreaker"
	"github.com/marketsim/tradingcore/internal/core/events"
)

func newTestDeliverer() *Deliverer {
	return NewDeliverer(4, nil, circuitbreaker.NewManager(zerolog.Nop()), zerolog.Nop())
}

func TestDeliverer_DeliversOnFirstAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDeliverer()
	sub := &Subscription{URL: srv.URL, Events: []string{"*"}, Active: true}
	d.deliverWithRetry(sub, events.NewOrderPlacedEvent(uuid.New(), uuid.New(), "AAPL", "BUY", 10, decimal.NewFromInt(100)))

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestDeliverer_BreakerTripsAfterRepeatedFailuresAndStopsRetrying(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newTestDeliverer()
	// Force the per-URL breaker open before the first delivery attempt so
	// deliverWithRetry must short-circuit instead of spending all three
	// attempts against a dead endpoint.
	breaker := d.breakerFor(srv.URL)
	for i := 0; i < 5; i++ {
		_ = breaker.Execute(func() error { return assert.AnError })
	}
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	sub := &Subscription{URL: srv.URL, Events: []string{"*"}, Active: true}
	d.deliverWithRetry(sub, events.NewOrderPlacedEvent(uuid.New(), uuid.New(), "AAPL", "BUY", 10, decimal.NewFromInt(100)))

	assert.Equal(t, int32(0), hits.Load(), "an open breaker must prevent the HTTP call from running at all")
}

func TestDeliverer_TestBypassesBreakerAndSubscriptionMatching(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDeliverer()
	require.NoError(t, d.Test(srv.URL))
	assert.Equal(t, int32(1), hits.Load())
}
