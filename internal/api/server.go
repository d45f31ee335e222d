// Package api serves the entity table, named views, refresh status and
// metrics over HTTP for the dashboard.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/monitoring"
	"github.com/sells-group/market-cli/internal/table"
)

// StatusSource reports per-source refresh health. *scheduler.Group implements it.
type StatusSource interface {
	Statuses() []monitoring.SourceHealth
}

// Options configures a Server.
type Options struct {
	Table       *table.Table
	Status      StatusSource
	Views       map[string]table.Query
	Metrics     *monitoring.Metrics
	CORSOrigins []string
}

// Server is the read-only HTTP API.
type Server struct {
	table   *table.Table
	status  StatusSource
	views   map[string]table.Query
	metrics *monitoring.Metrics
	origins []string
}

// NewServer creates the API server.
func NewServer(opts Options) (*Server, error) {
	if opts.Table == nil {
		return nil, eris.New("api: table is required")
	}
	views := opts.Views
	if views == nil {
		views = map[string]table.Query{DefaultViewName: DefaultView()}
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		table:   opts.Table,
		status:  opts.Status,
		views:   views,
		metrics: opts.Metrics,
		origins: origins,
	}, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/miners", s.handleMiners)
	r.Get("/miners/{id}", s.handleMiner)
	r.Get("/views", s.handleViewList)
	r.Get("/views/{name}", s.handleView)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rows": s.table.Len()})
}

type rowsResponse struct {
	View    string   `json:"view,omitempty"`
	Columns []string `json:"columns,omitempty"`
	Count   int      `json:"count"`
	Rows    any      `json:"rows"`
}

func (s *Server) handleMiners(w http.ResponseWriter, r *http.Request) {
	q, err := ParseQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeRows(w, "", q)
}

func (s *Server) handleMiner(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, ok := s.table.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, eris.Errorf("miner %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleViewList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.views)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	q, ok := s.views[name]
	if !ok {
		writeError(w, http.StatusNotFound, eris.Errorf("view %s not found", name))
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, eris.Errorf("invalid limit %q", v))
			return
		}
		q.Limit = n
	}
	s.writeRows(w, name, q)
}

func (s *Server) writeRows(w http.ResponseWriter, view string, q table.Query) {
	rows, err := s.table.Snapshot(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp := rowsResponse{View: view, Columns: q.Columns, Count: len(rows), Rows: rows}
	if len(q.Columns) > 0 {
		projected, err := Project(rows, q.Columns)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp.Rows = projected
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var sources []monitoring.SourceHealth
	if s.status != nil {
		sources = s.status.Statuses()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":    s.table.Len(),
		"sources": sources,
	})
}

// ParseQuery reads filter=col,op,value (repeatable), sort=col[,dir]
// (repeatable), columns=a,b and limit=n.
func ParseQuery(v map[string][]string) (table.Query, error) {
	var q table.Query
	for _, raw := range v["filter"] {
		parts := strings.SplitN(raw, ",", 3)
		if len(parts) < 2 {
			return q, eris.Errorf("invalid filter %q", raw)
		}
		op, err := table.ParseOp(parts[1])
		if err != nil {
			return q, err
		}
		f := table.Filter{Column: strings.TrimSpace(parts[0]), Op: op}
		if op != table.OpIsNull && op != table.OpNotNull {
			if len(parts) < 3 {
				return q, eris.Errorf("filter %q needs a value", raw)
			}
			f.Value = parts[2]
		}
		q.Filters = append(q.Filters, f)
	}
	for _, raw := range v["sort"] {
		col, dir, _ := strings.Cut(raw, ",")
		desc, err := table.ParseSortDir(dir)
		if err != nil {
			return q, err
		}
		q.Sort = append(q.Sort, table.SortKey{Column: strings.TrimSpace(col), Desc: desc})
	}
	if cols := v["columns"]; len(cols) > 0 && cols[0] != "" {
		q.Columns = strings.Split(cols[0], ",")
	}
	if lim := v["limit"]; len(lim) > 0 && lim[0] != "" {
		n, err := strconv.Atoi(lim[0])
		if err != nil || n < 0 {
			return q, eris.Errorf("invalid limit %q", lim[0])
		}
		q.Limit = n
	}
	return q, nil
}

// Project flattens rows to the named columns. Null values stay null.
func Project(rows []model.Miner, columns []string) ([]map[string]any, error) {
	cols := make([]table.Column, len(columns))
	for i, name := range columns {
		c, err := table.Lookup(name)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	out := make([]map[string]any, len(rows))
	for i := range rows {
		rec := make(map[string]any, len(cols))
		for _, c := range cols {
			rec[c.Name] = c.Value(&rows[i])
		}
		out[i] = rec
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
