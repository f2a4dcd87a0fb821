// Package webhook implements subscription management and delivery for
// outbound event notifications (§9a): a plain subscriber of the event
// bus, architecturally incapable of blocking matching or settlement,
// but with real delivery, retry, and HTTP management surfaces (§6, §7).
package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketsim/tradingcore/internal/core/apperr"
	"github.com/marketsim/tradingcore/internal/core/events"
)

// Subscription is one registered webhook (§3).
type Subscription struct {
	ID        uuid.UUID
	URL       string
	Events    []string // event type names, or "*" for all (§6)
	Active    bool
	CreatedAt time.Time
}

// matchesEvent reports whether sub wants to receive an event of kind.
func (s *Subscription) matchesEvent(kind events.EventType) bool {
	if !s.Active {
		return false
	}
	for _, e := range s.Events {
		if e == "*" || e == string(kind) {
			return true
		}
	}
	return false
}

// Repository persists webhook subscriptions. Webhook management is the
// sole writer of the webhooks table (§3 Ownership).
type Repository interface {
	Insert(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Manager owns subscription CRUD and drives delivery for every incoming
// event bus event (§9a). It is never on the matching/settlement path:
// it only ever reads from an event bus subscription channel.
type Manager struct {
	repo      Repository
	deliverer *Deliverer
	logger    zerolog.Logger
}

// NewManager builds a webhook Manager.
func NewManager(repo Repository, deliverer *Deliverer, logger zerolog.Logger) *Manager {
	return &Manager{repo: repo, deliverer: deliverer, logger: logger.With().Str("component", "webhook.manager").Logger()}
}

// Create registers a new webhook subscription (§6 POST /webhooks).
func (m *Manager) Create(ctx context.Context, url string, eventTypes []string) (*Subscription, error) {
	if url == "" {
		return nil, apperr.New(apperr.KindValidation, "url is required")
	}
	if len(eventTypes) == 0 {
		return nil, apperr.New(apperr.KindValidation, "events must name at least one event type or \"*\"")
	}

	sub := &Subscription{
		ID:        uuid.New(),
		URL:       url,
		Events:    eventTypes,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := m.repo.Insert(ctx, sub); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "saving webhook", err)
	}
	return sub, nil
}

// List returns every registered webhook (§6 GET /webhooks).
func (m *Manager) List(ctx context.Context) ([]*Subscription, error) {
	subs, err := m.repo.List(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "listing webhooks", err)
	}
	return subs, nil
}

// Get returns one webhook by id (§6 GET /webhooks/:id).
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "webhook not found", err)
	}
	return sub, nil
}

// Delete removes a webhook (§6 DELETE /webhooks/:id).
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	if err := m.repo.Delete(ctx, id); err != nil {
		return apperr.Wrap(apperr.KindInternal, "deleting webhook", err)
	}
	return nil
}

// Patch updates a webhook's URL/events/active fields (§6 PATCH /webhooks/:id).
func (m *Manager) Patch(ctx context.Context, id uuid.UUID, url *string, eventTypes []string, active *bool) (*Subscription, error) {
	sub, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if url != nil {
		sub.URL = *url
	}
	if eventTypes != nil {
		sub.Events = eventTypes
	}
	if active != nil {
		sub.Active = *active
	}
	if err := m.repo.Update(ctx, sub); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "updating webhook", err)
	}
	return sub, nil
}

// Run subscribes to all nine event types on bus and dispatches every event to every
// matching active subscription until ctx is canceled (§9a, §5 "queue
// sends to slow subscribers... fail fast rather than block" — here
// realized one level up, as outbound HTTP delivery with its own
// timeout/backoff, never blocking the bus itself).
func (m *Manager) Run(ctx context.Context, bus *events.EventBus) {
	ch := bus.Subscribe(
		events.EventOrderPlaced, events.EventOrderExecuted, events.EventOrderCanceled,
		events.EventPriceUpdate, events.EventPriceAlert, events.EventBalanceUpdated,
		events.EventNewTransaction, events.EventTopStocksUpdated, events.EventPredictionAvailable,
	)

	for {
		select {
		case <-ctx.Done():
			bus.Unsubscribe(ch)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.dispatch(ctx, ev)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, ev events.Event) {
	subs, err := m.repo.List(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("listing webhooks for dispatch")
		return
	}

	for _, sub := range subs {
		if sub.matchesEvent(ev.Type()) {
			m.deliverer.Enqueue(sub, ev)
		}
	}
}
