package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperclob/pkg/app/core/account"
	"github.com/uhyunpark/hyperclob/pkg/app/core/clob"
	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
	"github.com/uhyunpark/hyperclob/pkg/app/core/market"
	"github.com/uhyunpark/hyperclob/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperclob/pkg/app/exchange"
)

const (
	maxTxBytes        = 64 << 10
	defaultEventLimit = 50
	maxEventLimit     = 500
	priceDecimals     = 8
)

// Backend is what the server reads and submits to. *exchange.App implements it.
type Backend interface {
	Markets() []market.Config
	Market(name string) (*clob.Market, error)
	LedgerEntry(name string, owner common.Address) (account.Entry, error)
	RecentEvents(name string, limit int) ([]events.Event, error)
	Nonce(addr common.Address) uint64
	PushTx(raw []byte) (mempool.TxType, error)
	Pending() int
	Height() uint64
	StateHash() [32]byte
}

var _ Backend = (*exchange.App)(nil)

// Server handles REST API and WebSocket connections
type Server struct {
	app    Backend
	router *mux.Router
	hub    *Hub
	logger *zap.SugaredLogger
}

func NewServer(app Backend, logger *zap.SugaredLogger) *Server {
	s := &Server{
		app:    app,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{name}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{name}/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/markets/{name}/events", s.handleGetEvents).Methods("GET")

	api.HandleFunc("/ledger/{name}/{address}", s.handleGetLedger).Methods("GET")

	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves HTTP and WebSocket traffic on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Infow("api_server_listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Hub exposes the WebSocket hub so the node can run it without Start.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	configs := s.app.Markets()
	response := make([]MarketInfo, len(configs))
	for i, c := range configs {
		response[i] = marketInfo(c)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, ok := s.market(w, r)
	if !ok {
		return
	}
	info := marketInfo(m.Config)
	info.BidCount = m.Bids.OrderCount
	info.AskCount = m.Asks.OrderCount
	info.PendingEvents = m.Events.Unconsumed
	info.TotalEvents = m.Events.TotalEvents
	respondJSON(w, info)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	m, ok := s.market(w, r)
	if !ok {
		return
	}
	respondJSON(w, s.snapshot(m))
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, maxEventLimit)
	}

	evs, err := s.app.RecentEvents(name, limit)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, eventInfos(evs))
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["address"]) {
		respondError(w, http.StatusBadRequest, "invalid address", vars["address"])
		return
	}
	owner := common.HexToAddress(vars["address"])

	e, err := s.app.LedgerEntry(vars["name"], owner)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, LedgerInfo{
		Market:      vars["name"],
		Owner:       owner.Hex(),
		Location:    e.Location.Hex(),
		BaseAmount:  e.BaseAmount,
		QuoteAmount: e.QuoteAmount,
		Nonce:       s.app.Nonce(owner),
	})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ChainStatus{
		Height:      s.app.Height(),
		StateHash:   common.Hash(s.app.StateHash()).Hex(),
		MempoolSize: s.app.Pending(),
		Markets:     len(s.app.Markets()),
	})
}

// handleSubmitTx queues a signed transaction. Acceptance only means the tx
// is well formed; it is verified and applied in the next batch.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxTxBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "")
		return
	}

	bucket, err := s.app.PushTx(body)
	if err != nil {
		if errors.Is(err, mempool.ErrMempoolFull) {
			respondError(w, http.StatusServiceUnavailable, "mempool full", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return
	}

	id := w.Header().Get("X-Request-ID")
	s.logger.Infow("tx_submitted", "request_id", id, "bucket", bucket.String(), "bytes", len(body))
	respondStatus(w, http.StatusAccepted, SubmitTxResponse{Status: "queued", RequestID: id, Bucket: bucket.String()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from the batch loop)
// ==============================

// PublishEvents pushes a market's new events to events:{market} subscribers.
// It does not call back into the backend.
func (s *Server) PublishEvents(name string, evs []events.Event) {
	s.hub.BroadcastToChannel("events:"+name, EventsUpdate{
		Type:   "events",
		Market: name,
		Events: eventInfos(evs),
	})
}

// PublishBooks pushes a snapshot of every market to book:{market} subscribers.
func (s *Server) PublishBooks() {
	for _, c := range s.app.Markets() {
		channel := "book:" + c.Name
		if s.hub.Subscribers(channel) == 0 {
			continue
		}
		m, err := s.app.Market(c.Name)
		if err != nil {
			continue
		}
		s.hub.BroadcastToChannel(channel, BookUpdate{Type: "book", BookSnapshot: s.snapshot(m)})
	}
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) market(w http.ResponseWriter, r *http.Request) (*clob.Market, bool) {
	m, err := s.app.Market(mux.Vars(r)["name"])
	if err != nil {
		s.respondAppError(w, err)
		return nil, false
	}
	return m, true
}

func (s *Server) snapshot(m *clob.Market) BookSnapshot {
	return BookSnapshot{
		Market:    m.Config.Name,
		Bids:      bookOrders(&m.Bids),
		Asks:      bookOrders(&m.Asks),
		Height:    s.app.Height(),
		Timestamp: time.Now().UnixMilli(),
	}
}

func (s *Server) respondAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exchange.ErrUnknownMarket), errors.Is(err, market.ErrMarketNotFound):
		respondError(w, http.StatusNotFound, "market not found", err.Error())
	case errors.Is(err, account.ErrEntryNotFound):
		respondError(w, http.StatusNotFound, "ledger entry not found", err.Error())
	default:
		s.logger.Errorw("api_backend_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func marketInfo(c market.Config) MarketInfo {
	return MarketInfo{
		Name:                   c.Name,
		ID:                     c.ID.Hex(),
		Authority:              c.Authority.Hex(),
		Vault:                  c.Vault.Hex(),
		BaseAsset:              c.BaseAsset.Hex(),
		QuoteAsset:             c.QuoteAsset.Hex(),
		BaseLotSize:            c.BaseLotSize,
		MinBaseAmount:          c.MinBaseAmount,
		MinQuoteAmount:         c.MinQuoteAmount,
		ConsumeEventsAuthority: c.ConsumeEventsAuthority.Hex(),
		TotalOrders:            c.TotalOrders,
	}
}

func bookOrders(b *orderbook.BookSide) []BookOrder {
	live := b.Live()
	out := make([]BookOrder, len(live))
	for i, o := range live {
		out[i] = BookOrder{
			OrderID:     o.OrderID,
			Owner:       o.Owner.Hex(),
			BaseAmount:  o.BaseAmount,
			QuoteAmount: o.QuoteAmount,
			Price:       price(o.QuoteAmount, o.BaseAmount),
		}
	}
	return out
}

func eventInfos(evs []events.Event) []EventInfo {
	out := make([]EventInfo, len(evs))
	for i, ev := range evs {
		out[i] = EventInfo{
			ID:          ev.ID,
			OrderID:     ev.OrderID,
			Kind:        ev.Kind.String(),
			Side:        ev.Side.String(),
			Maker:       ev.Maker.Hex(),
			BaseAmount:  ev.BaseAmount,
			QuoteAmount: ev.QuoteAmount,
			Price:       price(ev.QuoteAmount, ev.BaseAmount),
		}
	}
	return out
}

// price renders quote/base for display. Matching never uses it.
func price(quote, base uint64) string {
	if base == 0 {
		return "0"
	}
	q := decimal.NewFromBigInt(new(big.Int).SetUint64(quote), 0)
	b := decimal.NewFromBigInt(new(big.Int).SetUint64(base), 0)
	return q.DivRound(b, priceDecimals).String()
}

func respondJSON(w http.ResponseWriter, data any) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondStatus(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}
