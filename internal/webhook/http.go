package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/marketsim/tradingcore/internal/core/apperr"
	"github.com/marketsim/tradingcore/internal/core/events"
	"github.com/marketsim/tradingcore/internal/market"
	"github.com/marketsim/tradingcore/internal/metrics"
	"github.com/marketsim/tradingcore/internal/priceengine"
	"github.com/marketsim/tradingcore/internal/store"
)

// pricesSnapshotEvent is sent once, right after a /ws/prices upgrade, so
// the client has a full quote table before the first incremental
// PRICE_UPDATE arrives.
type pricesSnapshotEvent struct {
	Type   string                  `json:"type"`
	Quotes map[string]interface{} `json:"quotes"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wraps the webhook management HTTP surface, the health/metrics
// endpoints, and the websocket streaming transport for
// StreamMarketEvents/StreamPrices (§6, §9a).
type Server struct {
	router *chi.Mux
	server *http.Server
	logger zerolog.Logger
}

// NewServer builds the chi router named in §6 (webhook HTTP surface,
// GET /metrics, GET /ws/market, GET /ws/prices, GET /health), exactly
// the teacher's middleware stack (RequestID, RealIP, Recoverer, Timeout).
func NewServer(addr string, mgr *Manager, deliverer *Deliverer, mkt *market.Market, prices *priceengine.Engine, bus *events.EventBus, pool *store.Pool, m *metrics.TradingMetrics, logger zerolog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.HTTPMiddleware(m))

	h := &handlers{mgr: mgr, deliverer: deliverer, market: mkt, prices: prices, bus: bus, pool: pool, logger: logger}

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/", h.createWebhook)
		r.Get("/", h.listWebhooks)
		r.Get("/{id}", h.getWebhook)
		r.Delete("/{id}", h.deleteWebhook)
		r.Patch("/{id}", h.patchWebhook)
		r.Post("/test", h.testWebhook)
	})

	r.Post("/events", h.postEvent)
	r.Get("/events/types", h.eventTypes)

	r.Get("/ws/market", h.streamMarket)
	r.Get("/ws/prices", h.streamPrices)

	return &Server{
		router: r,
		server: &http.Server{Addr: addr, Handler: r},
		logger: logger.With().Str("component", "webhook.http").Logger(),
	}
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting webhook HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type handlers struct {
	mgr       *Manager
	deliverer *Deliverer
	market    *market.Market
	prices    *priceengine.Engine
	bus       *events.EventBus
	pool      *store.Pool
	logger    zerolog.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

func (h *handlers) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "malformed JSON body"))
		return
	}

	sub, err := h.mgr.Create(r.Context(), req.URL, req.Events)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *handlers) listWebhooks(w http.ResponseWriter, r *http.Request) {
	subs, err := h.mgr.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *handlers) getWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "malformed id"))
		return
	}
	sub, err := h.mgr.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *handlers) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "malformed id"))
		return
	}
	if err := h.mgr.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type patchWebhookRequest struct {
	URL    *string  `json:"url"`
	Events []string `json:"events"`
	Active *bool    `json:"active"`
}

func (h *handlers) patchWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "malformed id"))
		return
	}

	var req patchWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "malformed JSON body"))
		return
	}

	sub, err := h.mgr.Patch(r.Context(), id, req.URL, req.Events, req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type testWebhookRequest struct {
	URL string `json:"url"`
}

func (h *handlers) testWebhook(w http.ResponseWriter, r *http.Request) {
	var req testWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "malformed JSON body"))
		return
	}
	if err := h.deliverer.Test(req.URL); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type postEventRequest struct {
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data"`
}

// postEvent accepts a synthetic event (§6 POST /events), logs its type and
// answers 202; the event is not published on the bus or delivered to any
// webhook.
func (h *handlers) postEvent(w http.ResponseWriter, r *http.Request) {
	var req postEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "malformed JSON body"))
		return
	}
	h.logger.Info().Str("event_type", req.EventType).Msg("received manual test event")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// eventTypes lists the closed event-kind enum (§6).
func (h *handlers) eventTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []events.EventType{
		events.EventOrderPlaced, events.EventOrderExecuted, events.EventOrderCanceled,
		events.EventPriceUpdate, events.EventPriceAlert, events.EventBalanceUpdated,
		events.EventNewTransaction, events.EventTopStocksUpdated, events.EventPredictionAvailable,
	})
}

// streamMarket upgrades to a websocket and relays market events,
// optionally scoped by a ?symbols=A,B,C query param (§6 StreamMarketEvents).
func (h *handlers) streamMarket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	symbols := parseSymbols(r.URL.Query().Get("symbols"))
	ch := h.market.StreamMarketEvents(r.Context(), symbols)
	relay(r.Context(), conn, ch, h.logger)
}

// streamPrices upgrades to a websocket, sends one full quote snapshot,
// then relays PRICE_UPDATE events as they're published to the shared
// bus (§6 Price.StreamPrices).
func (h *handlers) streamPrices(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	snapshot := make(map[string]interface{}, 0)
	for symbol, quote := range h.prices.GetPrices() {
		snapshot[symbol] = quote
	}
	if err := conn.WriteJSON(pricesSnapshotEvent{Type: "SNAPSHOT", Quotes: snapshot}); err != nil {
		return
	}

	ch := h.bus.Subscribe(events.EventPriceUpdate)
	defer h.bus.Unsubscribe(ch)
	relay(r.Context(), conn, ch, h.logger)
}

func relay(ctx context.Context, conn *websocket.Conn, ch <-chan events.Event, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed, closing stream")
				return
			}
		}
	}
}

func parseSymbols(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindInsufficientFunds, apperr.KindInsufficientShares:
		status = http.StatusUnprocessableEntity
	case apperr.KindMarketClosed:
		status = http.StatusServiceUnavailable
	case apperr.KindDeadlineExceeded:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
