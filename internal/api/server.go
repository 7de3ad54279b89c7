package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/yanun0323/errors"
	"go.uber.org/zap"

	"fatfinger/internal/alert"
	"fatfinger/internal/model"
	"fatfinger/internal/order"
	"fatfinger/pkg/exception"
)

const (
	defaultRecent   = 50
	shutdownTimeout = 5 * time.Second
)

// AlertFeed is the read side of the alert bus.
type AlertFeed interface {
	Subscribe(typ alert.Type, handler alert.Handler) (func(), error)
	Recent(n int, types ...alert.Type) []alert.Alert
}

// OrderBook exposes the order manager views.
type OrderBook interface {
	Orders() []model.Order
	History() []model.Order
	Positions() []model.Position
	ClosedPositions() []model.Position
	Stats() order.Stats
}

// Controller exposes the driver.
type Controller interface {
	Candidates() []model.Candidate
	Stop()
	Stopped() bool
}

// Config describes the listener.
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// Server serves the alert feed and read-only views over HTTP.
type Server struct {
	cfg      Config
	feed     AlertFeed
	book     OrderBook
	ctl      Controller
	gatherer prometheus.Gatherer
	log      *zap.Logger
	hub      *Hub
	upgrader websocket.Upgrader
	router   *mux.Router
}

// NewServer wires the routes. A nil gatherer serves the default registry.
func NewServer(cfg Config, feed AlertFeed, book OrderBook, ctl Controller, gatherer prometheus.Gatherer, log *zap.Logger) (*Server, error) {
	if feed == nil || book == nil || ctl == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "alert feed, order book and controller are required")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "api"))

	s := &Server{
		cfg:      cfg,
		feed:     feed,
		book:     book,
		ctl:      ctl,
		gatherer: gatherer,
		log:      log,
		hub:      NewHub(log),
		upgrader: newUpgrader(cfg.AllowedOrigins),
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleOrders).Methods(http.MethodGet)
	api.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	api.HandleFunc("/candidates", s.handleCandidates).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// Handler returns the router behind CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start runs the websocket hub and forwards every alert to it until ctx is
// done.
func (s *Server) Start(ctx context.Context) error {
	unsubscribe, err := s.feed.Subscribe(alert.Wildcard, func(a alert.Alert) {
		msg, err := sonic.ConfigFastest.Marshal(a)
		if err != nil {
			s.log.Warn("encode alert", zap.Uint64("seq", a.Seq), zap.Error(err))
			return
		}
		s.hub.Broadcast(msg)
	})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	go s.hub.Run(ctx)
	return nil
}

// Run starts the hub and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "api listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "api shutdown")
	}
	return nil
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n := defaultRecent
	if raw := q.Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			respondError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = v
	}

	var types []alert.Type
	for _, raw := range q["type"] {
		t, err := alert.ParseType(raw)
		if err != nil || t == alert.Wildcard {
			respondError(w, http.StatusBadRequest, "unknown alert type "+strconv.Quote(raw))
			return
		}
		types = append(types, t)
	}

	respondJSON(w, http.StatusOK, s.feed.Recent(n, types...))
}

type ordersResponse struct {
	Active  []model.Order `json:"active"`
	History []model.Order `json:"history"`
}

func (s *Server) handleOrders(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, ordersResponse{
		Active:  s.book.Orders(),
		History: s.book.History(),
	})
}

type positionsResponse struct {
	Open   []model.Position `json:"open"`
	Closed []model.Position `json:"closed"`
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, positionsResponse{
		Open:   s.book.Positions(),
		Closed: s.book.ClosedPositions(),
	})
}

func (s *Server) handleCandidates(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.ctl.Candidates())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.book.Stats())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.ctl.Stop()
	s.log.Warn("stop requested over api")
	respondJSON(w, http.StatusAccepted, map[string]bool{"stopped": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"stopped":   s.ctl.Stopped(),
		"wsClients": s.hub.Clients(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("ws upgrade", zap.Error(err))
		return
	}
	s.hub.serve(conn)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.ConfigFastest.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
