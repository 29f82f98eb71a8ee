package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/matchgate/pkg/app/core"
	"github.com/uhyunpark/matchgate/pkg/app/core/market"
	"github.com/uhyunpark/matchgate/pkg/app/exchange"
	"github.com/uhyunpark/matchgate/pkg/metrics"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 1000
	maxBodyBytes      = 1 << 16
)

type Config struct {
	Token       string   // bearer token for /api/*; empty disables the check
	CORSOrigins []string // allowed browser origins
	RateLimit   float64  // requests per second per client; 0 disables limiting
	RateBurst   int
}

// Server handles REST API and WebSocket connections
type Server struct {
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics

	app     *exchange.App
	cfg     Config
	router  *mux.Router
	limiter *clientLimiter

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewServer creates a new API server
func NewServer(app *exchange.App, cfg Config) *Server {
	s := &Server{
		Logger:  zap.NewNop().Sugar(),
		app:     app,
		cfg:     cfg,
		router:  mux.NewRouter(),
		clients: make(map[*Client]struct{}),
	}
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.NotFoundHandler = http.HandlerFunc(handleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)
	s.router.Use(s.instrument)

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.NotFoundHandler = s.router.NotFoundHandler
	api.MethodNotAllowedHandler = s.router.MethodNotAllowedHandler
	api.Use(s.throttle, s.authorize)

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods(http.MethodGet)
	api.HandleFunc("/market_data", s.handleMarketData).Methods(http.MethodGet)

	// Order endpoints
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)

	// Legacy paths kept for existing clients
	legacy := s.router.NewRoute().Subrouter()
	legacy.MethodNotAllowedHandler = s.router.MethodNotAllowedHandler
	legacy.Use(s.throttle)
	legacy.HandleFunc("/place_order/", s.handlePlaceOrder).Methods(http.MethodPost)
	legacy.HandleFunc("/market_data/", s.handleMarketData).Methods(http.MethodGet)

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully and
// closes open WebSocket connections.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Infow("api_server_starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.Logger.Infow("api_server_stopped")
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.app.ListMarkets()

	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = marketInfo(m)
	}

	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, mux.Vars(r)["symbol"])
	if !ok {
		return
	}
	respondJSON(w, marketInfo(m))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, mux.Vars(r)["symbol"])
	if !ok {
		return
	}
	snaps, err := s.app.MarketData([]string{m.Symbol})
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, orderbookSnapshot(m, snaps[0]))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, mux.Vars(r)["symbol"])
	if !ok {
		return
	}

	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, string(core.ReasonInvalidRequest), "limit must be a positive integer")
			return
		}
		limit = min(n, maxTradeLimit)
	}

	trades, err := s.app.RecentTrades(r.Context(), m.Symbol, limit)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, tradeInfos(m, trades))
}

// handleMarketData returns one sequenced snapshot per requested symbol. With
// no symbols parameter every listed market is returned.
func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	for _, v := range r.URL.Query()["symbols"] {
		for _, sym := range strings.Split(v, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				symbols = append(symbols, sym)
			}
		}
	}

	snaps, err := s.app.MarketData(symbols)
	if err != nil {
		if errors.Is(err, core.ErrUnknownSymbol) {
			respondError(w, http.StatusNotFound, string(core.ReasonUnknownSymbol), err.Error())
			return
		}
		s.respondFailure(w, err)
		return
	}

	response := make([]OrderbookSnapshot, 0, len(snaps))
	for _, snap := range snaps {
		m, err := s.app.GetMarket(snap.Symbol)
		if err != nil {
			s.respondFailure(w, err)
			return
		}
		response = append(response, orderbookSnapshot(m, snap))
	}
	respondJSON(w, response)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	out, err := s.app.PlaceOrder(r.Context(), exchange.OrderRequest{
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Price:          req.Price,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.respondFailure(w, err)
		return
	}

	respondJSON(w, PlaceOrderResponse{
		OrderID: out.Order.ID,
		Status:  out.Status,
		Reason:  string(out.Reason),
		Message: out.Detail,
		Trades:  tradeInfos(out.Market, out.Trades),
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	o, err := s.app.CancelOrder(r.Context(), req.OrderID)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondOrder(w, o)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.app.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondOrder(w, o)
}

func (s *Server) respondOrder(w http.ResponseWriter, o core.Order) {
	m, err := s.app.GetMarket(o.Symbol)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, orderInfo(m, o))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{"status": "ok", "markets": len(s.app.ListMarkets())})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.Metrics.Handler().ServeHTTP(w, r)
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, string(core.ReasonNotFound), "no route for "+r.URL.Path)
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, "InvalidMethod", r.Method+" is not allowed on "+r.URL.Path)
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) lookupMarket(w http.ResponseWriter, symbol string) (*market.Market, bool) {
	m, err := s.app.GetMarket(symbol)
	if err != nil {
		respondError(w, http.StatusNotFound, string(core.ReasonUnknownSymbol), err.Error())
		return nil, false
	}
	return m, true
}

// decodeBody parses exactly one JSON object with known fields, answering
// InvalidRequest on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		respondError(w, http.StatusUnsupportedMediaType, string(core.ReasonInvalidRequest), "content type must be application/json")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, string(core.ReasonInvalidRequest), "invalid JSON body: "+err.Error())
		return false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, string(core.ReasonInvalidRequest), "invalid JSON body: trailing data after object")
		return false
	}
	return true
}

// statusFor maps a rejection to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAlreadyFilled):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	switch core.ClassOf(err) {
	case core.ClassValidation:
		return http.StatusBadRequest
	case core.ClassEngine:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	reason := core.ReasonOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.Logger.Errorw("request_failed", "reason", reason, "err", err)
		message = "internal error"
	}
	respondError(w, status, string(reason), message)
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
