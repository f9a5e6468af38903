package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/updownbot/pkg/audit"
	"github.com/uhyunpark/updownbot/pkg/coordinator"
	"github.com/uhyunpark/updownbot/pkg/orders"
	"github.com/uhyunpark/updownbot/pkg/rules"
	"github.com/uhyunpark/updownbot/pkg/stream"
)

const (
	defaultDecisionLimit = 50
	maxDecisionLimit     = 500
)

// Backend is the read-only view of the agent the API serves
type Backend interface {
	Stats() (coordinator.Stats, error)
	Orders() ([]orders.Record, error)
	Order(assetID string) (*orders.Record, error)
	Instructions() []rules.Instruction
}

// DecisionSource returns recent audit records, newest first
type DecisionSource interface {
	Recent(limit int) ([]audit.Record, error)
}

type Options struct {
	Mode           string
	Wallet         string
	AllowedOrigins []string
	// Feed reports the stream status; nil reports "unknown"
	Feed func() stream.Status
}

// Server serves agent state over REST and streams decisions over WebSocket.
// It is also an audit.Sink: every emitted record is broadcast on the
// "decisions" channel.
type Server struct {
	backend   Backend
	decisions DecisionSource
	opts      Options
	router    *mux.Router
	hub       *Hub
	logger    *zap.SugaredLogger
	started   time.Time
}

func NewServer(backend Backend, decisions DecisionSource, opts Options, logger *zap.SugaredLogger) *Server {
	s := &Server{
		backend:   backend,
		decisions: decisions,
		opts:      opts,
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		logger:    logger,
		started:   time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{asset}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/decisions", s.handleGetDecisions).Methods("GET")
	api.HandleFunc("/instructions", s.handleGetInstructions).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is done
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Emit broadcasts an audit record to WebSocket subscribers
func (s *Server) Emit(rec audit.Record) {
	s.hub.BroadcastToChannel(ChannelDecisions, DecisionUpdate{Type: "decision", Decision: rec})
}

// BroadcastFeed announces a stream status change
func (s *Server) BroadcastFeed(status stream.Status) {
	s.hub.BroadcastToChannel(ChannelFeed, FeedUpdate{
		Type:      "feed",
		Status:    string(status),
		Timestamp: time.Now().UnixMilli(),
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.backend.Stats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read state", err.Error())
		return
	}

	feed := "unknown"
	if s.opts.Feed != nil {
		feed = string(s.opts.Feed())
	}

	respondJSON(w, AgentStatus{
		Mode:      s.opts.Mode,
		Feed:      feed,
		Wallet:    s.opts.Wallet,
		Uptime:    int64(time.Since(s.started).Seconds()),
		Pipeline:  stats,
		Timestamp: time.Now().UnixMilli(),
	})
}

// GET /api/v1/orders?status=placed
func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	recs, err := s.backend.Orders()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read orders", err.Error())
		return
	}

	filter := orders.Status(r.URL.Query().Get("status"))
	if filter != "" && !filter.Valid() {
		respondError(w, http.StatusBadRequest, "invalid status", string(filter))
		return
	}

	response := make([]OrderInfo, 0, len(recs))
	for _, rec := range recs {
		if filter != "" && rec.Status != filter {
			continue
		}
		response = append(response, orderInfo(rec))
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]

	rec, err := s.backend.Order(asset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read order", err.Error())
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "order not found", asset)
		return
	}
	respondJSON(w, orderInfo(*rec))
}

// GET /api/v1/decisions?limit=50
func (s *Server) handleGetDecisions(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		respondJSON(w, []audit.Record{})
		return
	}

	limit := defaultDecisionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = min(n, maxDecisionLimit)
	}

	recs, err := s.decisions.Recent(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read decisions", err.Error())
		return
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	respondJSON(w, recs)
}

func (s *Server) handleGetInstructions(w http.ResponseWriter, r *http.Request) {
	instr := s.backend.Instructions()
	response := make([]InstructionInfo, len(instr))
	for i, in := range instr {
		response[i] = InstructionInfo{
			Title:             in.Title,
			MatchSlug:         in.MatchSlug,
			OrderSize:         in.OrderSize,
			BuyPriceThreshold: in.BuyPriceThreshold,
			MinutesOffset:     in.MinutesOffset,
			CurrentHourOnly:   in.Flags.CurrentHourOnly,
			Disabled:          in.Flags.Disabled,
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

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

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var _ audit.Sink = (*Server)(nil)
