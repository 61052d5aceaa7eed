package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/triagebot/internal/intent"
	"github.com/xaenox/triagebot/internal/report"
	"go.uber.org/zap"
)

// Server exposes the summary request API over HTTP. It runs beside the
// gateway loop and never touches the ingestion path.
type Server struct {
	engine  *gin.Engine
	router  *intent.Router
	reports *report.Builder
	logger  *zap.Logger
}

func New(router *intent.Router, reports *report.Builder, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		engine:  engine,
		router:  router,
		reports: reports,
		logger:  logger,
	}

	engine.GET("/healthz", s.health)
	v1 := engine.Group("/v1")
	v1.POST("/summary", s.summary)
	v1.POST("/query", s.query)

	return s
}

// Run blocks serving HTTP on addr.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type summaryRequest struct {
	ContactID int64  `json:"contact_id"`
	Query     string `json:"query"`
}

type summaryResponse struct {
	From       time.Time         `json:"from"`
	To         time.Time         `json:"to"`
	Report     string            `json:"report"`
	Aggregates report.Aggregates `json:"aggregates"`
}

func (s *Server) summary(c *gin.Context) {
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	tf := s.router.ExtractTimeframe(c.Request.Context(), req.Query)
	from, to, err := intent.DateRange(tf, time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not resolve a time range from the query"})
		return
	}

	rep, err := s.reports.Build(c.Request.Context(), from, to)
	if err != nil {
		s.logger.Error("summary build failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "summary unavailable"})
		return
	}

	c.JSON(http.StatusOK, summaryResponse{
		From:       rep.From,
		To:         rep.To,
		Report:     rep.Text,
		Aggregates: rep.Aggregates,
	})
}

type queryRequest struct {
	ContactID int64  `json:"contact_id"`
	Text      string `json:"text" binding:"required"`
}

func (s *Server) query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result := s.router.Route(c.Request.Context(), req.Text, req.ContactID)
	c.JSON(http.StatusOK, result)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
