// Package http is the gin delivery surface: chat streaming, session and
// transcript CRUD, artifacts, agents, proposals and bids, plus the
// websocket event feed.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rfpez/rfpez/internal/app/broadcast"
	"github.com/rfpez/rfpez/internal/config"
	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/logging"
	"github.com/rfpez/rfpez/internal/procurement"
)

// Deps carries everything the router serves.
type Deps struct {
	Chat        ChatService
	Broadcaster *broadcast.Broadcaster
	Sessions    chat.SessionStore
	Messages    chat.MessageStore
	Artifacts   chat.ArtifactStore
	Agents      chat.AgentDirectory
	Proposals   procurement.ProposalStore
	Bids        procurement.BidStore
	Logger      logging.Logger
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	logger     logging.Logger
	startTime  time.Time
}

func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		engine:    engine,
		logger:    logging.OrNop(deps.Logger),
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.setupRoutes(deps)
	return s
}

func (s *Server) setupRoutes(deps Deps) {
	chatHandler := NewChatHandler(deps.Chat, deps.Broadcaster)
	sessionHandler := NewSessionHandler(deps.Sessions, deps.Messages)
	artifactHandler := NewArtifactHandler(deps.Artifacts)
	agentHandler := NewAgentHandler(deps.Agents, deps.Sessions)
	procurementHandler := NewProcurementHandler(deps.Proposals, deps.Bids)
	eventsHandler := NewEventsHandler(deps.Broadcaster)

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")

	sessions := api.Group("/sessions")
	{
		sessions.POST("", sessionHandler.Create)
		sessions.GET("", sessionHandler.List)
		sessions.GET("/:id", sessionHandler.Get)
		sessions.DELETE("/:id", sessionHandler.Delete)
		sessions.GET("/:id/messages", sessionHandler.Messages)

		sessions.POST("/:id/messages", chatHandler.SendMessage)
		sessions.POST("/:id/cancel", chatHandler.Cancel)
		sessions.GET("/:id/status", chatHandler.Status)
		sessions.GET("/:id/events", eventsHandler.Stream)

		sessions.GET("/:id/artifacts", artifactHandler.ListBySession)
		sessions.GET("/:id/agent", agentHandler.Active)
		sessions.PUT("/:id/agent", agentHandler.SetActive)
	}

	api.GET("/agents", agentHandler.List)
	api.GET("/artifacts/:id", artifactHandler.Get)

	proposals := api.Group("/proposals")
	{
		proposals.POST("", procurementHandler.CreateProposal)
		proposals.GET("", procurementHandler.ListProposals)
		proposals.GET("/:id", procurementHandler.GetProposal)
		proposals.PUT("/:id", procurementHandler.UpdateProposal)
		proposals.DELETE("/:id", procurementHandler.DeleteProposal)
		proposals.GET("/:id/bids", procurementHandler.ListBids)
		proposals.POST("/:id/bids", procurementHandler.CreateBid)
	}

	bids := api.Group("/bids")
	{
		bids.GET("/:id", procurementHandler.GetBid)
		bids.PUT("/:id", procurementHandler.UpdateBid)
		bids.DELETE("/:id", procurementHandler.DeleteBid)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	respondOK(c, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks serving requests until Shutdown or a listen failure.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
