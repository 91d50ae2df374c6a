// Package api serves the read-only operations API: current positions,
// recent risk assessments, recent strategy decisions, and a websocket feed
// of position updates. The pipeline itself is bus-driven; nothing here
// mutates state.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	queryTimeout = 3 * time.Second
)

// Store is the read-only database surface the API needs.
type Store interface {
	GetOpenPositions(ctx context.Context, exchange string) ([]db.Position, error)
	RecentRiskAssessments(ctx context.Context, limit int) ([]db.RiskAssessmentRecord, error)
	RecentStrategyDecisions(ctx context.Context, limit int) ([]db.StrategyDecisionRecord, error)
}

// Server is the ops API HTTP server.
type Server struct {
	cfg      config.APIConfig
	exchange string
	store    Store
	hub      *Hub

	engine *gin.Engine
	srv    *http.Server
}

// NewServer builds the router. The hub may be nil when the websocket feed
// is not wired.
func NewServer(cfg config.APIConfig, exchange string, store Store, hub *Hub) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())
	engine.Use(requestMetrics())

	s := &Server{
		cfg:      cfg,
		exchange: exchange,
		store:    store,
		hub:      hub,
		engine:   engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)

	v1 := s.engine.Group("/api/v1")
	v1.GET("/positions", s.handlePositions)
	v1.GET("/assessments", s.handleAssessments)
	v1.GET("/decisions", s.handleDecisions)

	if s.hub != nil {
		s.engine.GET("/ws/positions", s.hub.ServeWS)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Ops API listening")
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Ops API server error")
		}
	}()
	return nil
}

// Shutdown stops the server and closes all websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{"status": "ok"}
	if s.hub != nil {
		health["ws_clients"] = s.hub.ClientCount()
	}
	c.JSON(http.StatusOK, health)
}

func (s *Server) handlePositions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	positions, err := s.store.GetOpenPositions(ctx, s.exchange)
	if err != nil {
		log.Error().Err(err).Msg("Positions query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (s *Server) handleAssessments(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	assessments, err := s.store.RecentRiskAssessments(ctx, listLimit(c))
	if err != nil {
		log.Error().Err(err).Msg("Assessments query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessments": assessments, "count": len(assessments)})
}

func (s *Server) handleDecisions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	decisions, err := s.store.RecentStrategyDecisions(ctx, listLimit(c))
	if err != nil {
		log.Error().Err(err).Msg("Decisions query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions, "count": len(decisions)})
}

// listLimit parses the limit query parameter with bounds.
func listLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// requestMetrics records one metrics sample per request using the route
// template so path cardinality stays bounded.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordAPIRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			float64(time.Since(start).Milliseconds()),
		)
	}
}
