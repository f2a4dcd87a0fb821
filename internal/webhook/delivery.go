package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/marketsim/tradingcore/internal/circuitbreaker"
	"github.com/marketsim/tradingcore/internal/core/events"
	"github.com/marketsim/tradingcore/internal/metrics"
)

// maxDeliveryAttempts is §7's "webhook delivery retries with
// exponential backoff up to 3 attempts."
const maxDeliveryAttempts = 3

// Deliverer sends one HTTP POST per (subscription, event) pair, paced
// per-subscription by a token bucket so one subscriber's retry storm
// cannot starve delivery to everyone else (§4a), fanned out across a
// bounded worker pool (§4a sourcegraph/conc).
type Deliverer struct {
	client   *http.Client
	pool     *pool.Pool
	metrics  *metrics.TradingMetrics
	breakers *circuitbreaker.Manager
	logger   zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDeliverer builds a Deliverer backed by a bounded worker pool of
// maxConcurrent goroutines. breakers supplies one circuit breaker per
// destination URL, so a subscriber whose endpoint is down stops eating
// retry attempts and worker-pool slots once it has failed enough times.
func NewDeliverer(maxConcurrent int, m *metrics.TradingMetrics, breakers *circuitbreaker.Manager, logger zerolog.Logger) *Deliverer {
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	return &Deliverer{
		client:   &http.Client{Timeout: 10 * time.Second},
		pool:     pool.New().WithMaxGoroutines(maxConcurrent),
		metrics:  m,
		breakers: breakers,
		logger:   logger.With().Str("component", "webhook.deliverer").Logger(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the per-subscription-URL rate limiter, creating one
// (5 req/s, burst 10) on first use.
func (d *Deliverer) limiterFor(url string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.limiters[url]
	if !ok {
		l = rate.NewLimiter(rate.Limit(5), 10)
		d.limiters[url] = l
	}
	return l
}

// breakerFor returns the per-subscription-URL circuit breaker, creating
// one with the external-API defaults on first use.
func (d *Deliverer) breakerFor(url string) *circuitbreaker.CircuitBreaker {
	return d.breakers.GetOrCreate("webhook_delivery:"+url, circuitbreaker.DefaultExternalAPIConfig())
}

// Enqueue schedules delivery of ev to sub on the worker pool. When every
// pool worker is busy it blocks the caller (the event bus consumer loop)
// until one frees up.
func (d *Deliverer) Enqueue(sub *Subscription, ev events.Event) {
	d.pool.Go(func() {
		d.deliverWithRetry(sub, ev)
	})
}

func (d *Deliverer) deliverWithRetry(sub *Subscription, ev events.Event) {
	body, err := json.Marshal(struct {
		EventType string      `json:"event_type"`
		EventData events.Event `json:"event_data"`
		Timestamp time.Time   `json:"timestamp"`
	}{EventType: string(ev.Type()), EventData: ev, Timestamp: ev.Timestamp()})
	if err != nil {
		d.logger.Error().Err(err).Msg("marshaling webhook payload")
		return
	}

	breaker := d.breakerFor(sub.URL)
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= maxDeliveryAttempts; attempt++ {
		limiter := d.limiterFor(sub.URL)
		if err := limiter.Wait(context.Background()); err != nil {
			return
		}

		err := breaker.Execute(func() error { return d.post(sub.URL, body) })
		if err != nil {
			d.logger.Warn().Err(err).Str("url", sub.URL).Int("attempt", attempt).Msg("webhook delivery failed")
			if d.metrics != nil {
				d.metrics.WebhookDeliveryTotal.WithLabelValues("retry").Inc()
			}
			if errors.Is(err, circuitbreaker.ErrOpen) {
				if d.metrics != nil {
					d.metrics.WebhookDeliveryTotal.WithLabelValues("failed").Inc()
				}
				return
			}
			if attempt < maxDeliveryAttempts {
				time.Sleep(backoff)
				backoff *= 2
				continue
			}
			if d.metrics != nil {
				d.metrics.WebhookDeliveryTotal.WithLabelValues("failed").Inc()
			}
			return
		}

		if d.metrics != nil {
			d.metrics.WebhookDeliveryTotal.WithLabelValues("delivered").Inc()
		}
		return
	}
}

func (d *Deliverer) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint %s returned status %d", url, resp.StatusCode)
	}
	return nil
}

// Test delivers a single synthetic ping to url, bypassing subscription
// matching (§6 POST /webhooks/test).
func (d *Deliverer) Test(url string) error {
	body, _ := json.Marshal(map[string]string{"event_type": "TEST", "message": "webhook test ping"})
	return d.post(url, body)
}
