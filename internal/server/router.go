package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/urbanclear/bringup/internal/lifecycle"
	"github.com/urbanclear/bringup/internal/metrics"
	"github.com/urbanclear/bringup/internal/process"
	"github.com/urbanclear/bringup/internal/report"
)

// StatusSource exposes the live run state.
type StatusSource interface {
	Status() lifecycle.Status
}

// SummarySource exposes the last ready summary, if any.
type SummarySource interface {
	Last() (report.Summary, bool)
}

// Router provides read-only HTTP handlers describing the current run.
// Endpoints:
//
//	GET {basePath}/status    run state, pid and last error
//	GET {basePath}/summary   probe results and access links (404 before ready)
//	GET {basePath}/stats     live resource usage of the child (404 without a child)
//	GET {basePath}/healthz   200 when ready, 503 otherwise
//	GET {basePath}/metrics   Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	status   StatusSource
	summary  SummarySource
	basePath string
	stats    func(pid int) (process.Stats, error)
}

func NewRouter(status StatusSource, summary SummarySource, basePath string) *Router {
	return &Router{
		status:   status,
		summary:  summary,
		basePath: sanitizeBase(basePath),
		stats:    process.ReadStats,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/summary", r.handleSummary)
	group.GET("/stats", r.handleStats)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.status.Status())
}

func (r *Router) handleSummary(c *gin.Context) {
	if r.summary == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no summary yet"})
		return
	}
	s, ok := r.summary.Last()
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no summary yet"})
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (r *Router) handleStats(c *gin.Context) {
	st := r.status.Status()
	if st.PID <= 0 || st.State.Terminal() {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no running child"})
		return
	}
	stats, err := r.stats(st.PID)
	if err != nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, stats)
}

func (r *Router) handleHealthz(c *gin.Context) {
	st := r.status.Status()
	code := http.StatusServiceUnavailable
	if st.State == lifecycle.StateReady {
		code = http.StatusOK
	}
	writeJSON(c, code, gin.H{"state": st.State})
}

// Server is a standalone HTTP server bound to a listener.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Serve binds addr and serves h in the background. Bind errors are returned
// immediately.
func Serve(addr string, h http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln: ln,
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return s, nil
}

// Addr is the bound address, useful when addr had port 0.
func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }
