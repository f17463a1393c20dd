// Package httpapi serves the thin read-only HTTP surface: health, Prometheus
// metrics, and shared-key-guarded rate queries.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"somwatcher/internal/storage"
)

const apiKeyHeader = "X-Api-Key"

// Options configure the HTTP server.
type Options struct {
	ListenAddr string
	SharedKey  string
}

// Server wraps an http.Server with the service routes.
type Server struct {
	httpServer *http.Server
	store      storage.RateStore
	sharedKey  string
	logger     zerolog.Logger
}

// New builds the server. The shared key guards /api routes only; health and
// metrics stay open for probes and scrapers.
func New(opts Options, store storage.RateStore, logger zerolog.Logger) *Server {
	server := &Server{
		store:     store,
		sharedKey: opts.SharedKey,
		logger:    logger.With().Str("component", "http").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/rates", server.withKey(server.handleRates))
	mux.HandleFunc("/api/history", server.withKey(server.handleHistory))

	server.httpServer = &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server
}

// Handler exposes the routing table.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		supplied := r.Header.Get(apiKeyHeader)
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.sharedKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

type rateResponse struct {
	BankCode     string `json:"bank_code"`
	CurrencyCode string `json:"currency_code"`
	CurrencyName string `json:"currency_name,omitempty"`
	OfficialRate string `json:"official_rate,omitempty"`
	BuyRate      string `json:"buy_rate,omitempty"`
	SellRate     string `json:"sell_rate,omitempty"`
	Nominal      int    `json:"nominal"`
	Diff         string `json:"diff,omitempty"`
	FetchedAt    string `json:"fetched_at"`
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bank := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("bank")))
	currency := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))

	quotes, err := s.store.QueryCurrent(r.Context(), bank, currency)
	if err != nil {
		s.logger.Error().Err(err).Msg("rates query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	out := make([]rateResponse, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, rateResponse{
			BankCode:     q.BankCode,
			CurrencyCode: q.CurrencyCode,
			CurrencyName: q.CurrencyName,
			OfficialRate: decimalString(q.OfficialRate),
			BuyRate:      decimalString(q.BuyRate),
			SellRate:     decimalString(q.SellRate),
			Nominal:      q.Nominal,
			Diff:         decimalString(q.Diff),
			FetchedAt:    q.FetchedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, out)
}

type historyResponse struct {
	BankCode     string `json:"bank_code"`
	CurrencyCode string `json:"currency_code"`
	OfficialRate string `json:"official_rate,omitempty"`
	BuyRate      string `json:"buy_rate,omitempty"`
	SellRate     string `json:"sell_rate,omitempty"`
	RecordedAt   string `json:"recorded_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	bank := strings.ToLower(strings.TrimSpace(q.Get("bank")))
	currency := strings.ToUpper(strings.TrimSpace(q.Get("currency")))
	if bank == "" || currency == "" {
		http.Error(w, "bank and currency are required", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	from, err := parseTimeParam(q.Get("from"), now.AddDate(0, 0, -7))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := parseTimeParam(q.Get("to"), now)
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}

	points, err := s.store.ListHistory(r.Context(), bank, currency, from, to)
	if err != nil {
		s.logger.Error().Err(err).Msg("history query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	out := make([]historyResponse, 0, len(points))
	for _, p := range points {
		out = append(out, historyResponse{
			BankCode:     p.BankCode,
			CurrencyCode: p.CurrencyCode,
			OfficialRate: decimalString(p.OfficialRate),
			BuyRate:      decimalString(p.BuyRate),
			SellRate:     decimalString(p.SellRate),
			RecordedAt:   p.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, out)
}

func parseTimeParam(raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func decimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
