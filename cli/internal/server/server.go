// Package server exposes an Engine over HTTP: chains go in as text, SQL and results come out
// as JSON.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/microtan/shaolinq/internal/debug"
	"github.com/microtan/shaolinq/query"
	"github.com/microtan/shaolinq/query/compiler"
	"github.com/microtan/shaolinq/query/executor"
	"github.com/microtan/shaolinq/query/sqlgen"
)

// Handler serves the query API.
type Handler struct {
	engine *query.Engine
	// db is nil when the server only compiles
	db *sql.DB
}

// NewHandler creates a handler. db may be nil, in which case /query answers 503.
func NewHandler(engine *query.Engine, db *sql.DB) *Handler {
	return &Handler{engine: engine, db: db}
}

// ChainRequest carries a chain in its textual form.
type ChainRequest struct {
	Chain string `json:"chain"`
}

// SQLResponse is the parameterized SQL of a chain with its arguments and inlined form.
type SQLResponse struct {
	SQL     string `json:"sql"`
	Args    []any  `json:"args"`
	Inline  string `json:"inline"`
	Dialect string `json:"dialect"`
}

// QueryResponse carries the materialized result of a chain.
type QueryResponse struct {
	Result any `json:"result"`
}

// CacheStats reports both compilation cache tiers.
type CacheStats struct {
	Shapes        any `json:"shapes"`
	Materializers any `json:"materializers"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// Router returns the routes with request logging and panic recovery.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the health check and the /api routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/sql", h.SQL)
		r.Post("/explain", h.Explain)
		r.Post("/query", h.Query)
		r.Get("/stats", h.Stats)
	})
}

// SQL translates a chain without running it.
func (h *Handler) SQL(w http.ResponseWriter, r *http.Request) {
	chain, ok := h.chain(w, r)
	if !ok {
		return
	}
	c, err := h.engine.Prepare(chain)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	inline, err := h.engine.Text(chain)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	args := c.Args
	if args == nil {
		args = []any{}
	}
	writeJSON(w, http.StatusOK, SQLResponse{SQL: c.SQL, Args: args, Inline: inline, Dialect: h.engine.Dialect().Key()})
}

// Explain reports every compilation stage of a chain.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	chain, ok := h.chain(w, r)
	if !ok {
		return
	}
	ex, err := h.engine.Explain(chain)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// Query runs a chain against the configured database.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no database configured"))
		return
	}
	chain, ok := h.chain(w, r)
	if !ok {
		return
	}
	v, err := h.engine.Query(r.Context(), h.db, chain)
	if err != nil {
		var execErr *executor.ExecutionError
		if errors.As(err, &execErr) {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Result: v})
}

// Stats reports the cache statistics.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	shapes, materializers := h.engine.Stats()
	writeJSON(w, http.StatusOK, CacheStats{Shapes: shapes, Materializers: materializers})
}

func (h *Handler) chain(w http.ResponseWriter, r *http.Request) (*query.Chain, bool) {
	var req ChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	chain, err := query.ParseChain(req.Chain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	return chain, true
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		debug.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	debug.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		debug.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		debug.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, statusCode int, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var stage *compiler.StageError
	if errors.As(err, &stage) {
		resp.Stage = stage.Stage
	}
	var format *sqlgen.FormattingError
	if errors.As(err, &format) {
		statusCode = http.StatusNotImplemented
	}
	writeJSON(w, statusCode, resp)
}
