// Package server is the HTTP transport: JSON endpoints over the service, a
// health check and prometheus metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/clip-memory/internal/memory"
	"github.com/rcliao/clip-memory/internal/metrics"
	"github.com/rcliao/clip-memory/internal/model"
	"github.com/rcliao/clip-memory/internal/pipeline"
	"github.com/rcliao/clip-memory/internal/ratelimit"
	"github.com/rcliao/clip-memory/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Service is what the HTTP handlers need.
type Service interface {
	Process(ctx context.Context, userID int64, url string, sink pipeline.Sink) *pipeline.Result
	Ask(ctx context.Context, userID int64, query string) (string, []model.ScoredEntry, error)
	Memory() *memory.Store
	Limiter() *ratelimit.Limiter
	Metrics() *metrics.Metrics
}

// Server serves the HTTP API.
type Server struct {
	svc    Service
	log    logrus.FieldLogger
	engine *gin.Engine
}

// New builds the router.
func New(svc Service, log logrus.FieldLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{svc: svc, log: log.WithField("component", "http"), engine: gin.New()}
	s.engine.Use(recovery(s.log), requestLogger(s.log))

	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(svc.Metrics().Registry, promhttp.HandlerOpts{})))

	v1 := s.engine.Group("/v1")
	v1.POST("/process", s.process)
	v1.POST("/search", s.search)
	v1.POST("/ask", s.ask)
	v1.GET("/users/:id/memories", s.listMemories)
	v1.GET("/users/:id/memories/:entry", s.getMemory)
	v1.DELETE("/users/:id/memories", s.clearMemories)
	v1.GET("/users/:id/stats", s.stats)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Request contexts
// derive from ctx, so cancelling it also cancels in-flight runs; Serve
// returns only after their handlers have finished and cleaned up.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var inflight sync.WaitGroup
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inflight.Add(1)
		defer inflight.Done()
		s.engine.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	inflight.Wait()
	if shutdownErr != nil {
		return shutdownErr
	}
	return <-errCh
}

type processRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	URL    string `json:"url" binding:"required"`
}

type processResponse struct {
	*pipeline.Result
	Progress []string        `json:"progress"`
	Messages []string        `json:"messages"`
	Files    []deliveredFile `json:"files"`
}

func (s *Server) process(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sink := &collectSink{}
	res := s.svc.Process(c.Request.Context(), req.UserID, strings.TrimSpace(req.URL), sink)
	if res.Err != nil {
		c.Error(res.Err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	c.JSON(statusFor(res.Kind), processResponse{
		Result:   res,
		Progress: nonNil(sink.progress),
		Messages: nonNil(sink.messages),
		Files:    sink.files,
	})
}

func statusFor(k pipeline.Kind) int {
	switch k {
	case pipeline.KindNone:
		return http.StatusOK
	case pipeline.KindInvalidURL:
		return http.StatusBadRequest
	case pipeline.KindRateLimited:
		return http.StatusTooManyRequests
	case pipeline.KindDurationExceeded, pipeline.KindFileTooLarge, pipeline.KindNoMedia, pipeline.KindNoText:
		return http.StatusUnprocessableEntity
	case pipeline.KindTranscription, pipeline.KindEmptyAnalysis, pipeline.KindAnalysisFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type queryRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Query  string `json:"query" binding:"required"`
	Limit  int    `json:"limit"`
}

func (s *Server) search(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results := s.svc.Memory().Search(c.Request.Context(), req.UserID, req.Query, req.Limit)
	if results == nil {
		results = []model.ScoredEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) ask(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	answer, hits, err := s.svc.Ask(c.Request.Context(), req.UserID, req.Query)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not answer from memory"})
		return
	}
	if hits == nil {
		hits = []model.ScoredEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer, "hits": hits})
}

func (s *Server) listMemories(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	entries, err := s.svc.Memory().GetAll(c.Request.Context(), userID)
	if err != nil {
		s.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": entries})
}

func (s *Server) getMemory(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("entry"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory id"})
		return
	}
	e, err := s.svc.Memory().Get(c.Request.Context(), userID, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "memory not found"})
		return
	}
	if err != nil {
		s.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) clearMemories(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	n, err := s.svc.Memory().Clear(c.Request.Context(), userID)
	if err != nil {
		s.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) stats(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	st, err := s.svc.Memory().Stats(c.Request.Context(), userID)
	if err != nil {
		s.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memory": st, "rate_limit": s.svc.Limiter().Stats(userID)})
}

func (s *Server) internal(c *gin.Context, err error) {
	c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func userParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
