// Package server exposes the e-invoicing engine over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rezonia/einvoicing/internal/fiscal"
	"github.com/rezonia/einvoicing/internal/jurisdiction"
	"github.com/rezonia/einvoicing/internal/logger"
	"github.com/rezonia/einvoicing/internal/model"
	"github.com/rezonia/einvoicing/internal/processor"
)

// maxBodyBytes bounds request bodies, hybrid PDFs included
const maxBodyBytes = 10 << 20

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool

	// SendTimeout bounds one send request, retries included
	SendTimeout    time.Duration
	AllowedOrigins []string
	// RateLimit is the sustained requests per second per client; 0 disables limiting
	RateLimit float64
	RateBurst int
}

// Server represents the HTTP API server
type Server struct {
	config   *Config
	router   *gin.Engine
	pipeline *processor.Pipeline
	fiscal   *fiscal.Table
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

// Option configures the server
type Option func(*Server)

// WithGatherer sets the registry served on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithFiscal sets the fiscal reference data
func WithFiscal(t *fiscal.Table) Option {
	return func(s *Server) {
		s.fiscal = t
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a new API server
func NewServer(config *Config, pipeline *processor.Pipeline, opts ...Option) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:   config,
		pipeline: pipeline,
		fiscal:   fiscal.Default(),
		gatherer: prometheus.DefaultGatherer,
		logger:   logger.WithComponent("server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestLogger(s.logger), corsMiddleware(config.AllowedOrigins))
	if config.RateLimit > 0 {
		router.Use(newRateLimiter(config.RateLimit, config.RateBurst).middleware())
	}
	s.router = router

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/countries", s.handleCountries)
		v1.GET("/countries/:code", s.handleCountry)

		v1.POST("/invoices/validate", s.handleValidate)
		v1.POST("/invoices/generate", s.handleGenerate)
		v1.POST("/invoices/send", s.handleSend)
		v1.GET("/invoices/:id/status", s.handleStatus)

		v1.POST("/documents/inspect", s.handleInspect)
		v1.POST("/documents/verify", s.handleVerify)
	}
}

// Run starts the HTTP server and shuts it down gracefully when ctx ends
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.config.Address).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCountries(c *gin.Context) {
	supported := make(map[model.Country]bool)
	for _, code := range s.pipeline.Countries() {
		supported[code] = true
	}

	summaries := s.fiscal.Countries()
	out := CountriesResponse{Countries: make([]CountryResponse, 0, len(summaries))}
	for _, sum := range summaries {
		out.Countries = append(out.Countries, CountryResponse{
			CountrySummary: sum,
			EInvoicing:     supported[model.Country(sum.Code)],
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCountry(c *gin.Context) {
	cfg, err := s.fiscal.Config(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: model.ErrorCode(err)})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// readBody reads a non-empty request body, answering 400 otherwise
func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body", Details: err.Error()})
		return nil, false
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty request body"})
		return nil, false
	}
	return body, true
}

func (s *Server) readInvoice(c *gin.Context) (*processor.InvoiceRequest, bool) {
	body, ok := readBody(c)
	if !ok {
		return nil, false
	}
	req, err := processor.DecodeRequest(body)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if req.TenantID == "" {
		req.TenantID = c.GetHeader(TenantHeader)
	}
	return req, true
}

func writeError(c *gin.Context, err error) {
	code := model.ErrorCode(err)
	c.JSON(httpStatus(code), ErrorResponse{Error: err.Error(), Code: code})
}

func (s *Server) handleValidate(c *gin.Context) {
	req, ok := s.readInvoice(c)
	if !ok {
		return
	}

	res, err := s.pipeline.Validate(req)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if !res.Valid {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, ValidationResponse{
		Valid:    res.Valid,
		Errors:   res.Messages,
		Warnings: res.Warnings,
	})
}

func (s *Server) handleGenerate(c *gin.Context) {
	req, ok := s.readInvoice(c)
	if !ok {
		return
	}

	doc, err := s.pipeline.Generate(req, processor.GenerateOptions{})
	if err != nil {
		writeError(c, err)
		return
	}

	if c.Query("download") != "" {
		c.Header("Content-Disposition", `attachment; filename="`+doc.FileName+`"`)
		c.Data(http.StatusOK, doc.MediaType, doc.Content)
		return
	}
	c.JSON(http.StatusOK, DocumentResponse{
		Country:   doc.Country,
		Profile:   doc.Profile,
		Format:    doc.Format,
		MediaType: doc.MediaType,
		FileName:  doc.FileName,
		Hash:      doc.Hash(),
		Content:   doc.Content,
	})
}

func (s *Server) handleSend(c *gin.Context) {
	req, ok := s.readInvoice(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if s.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.SendTimeout)
		defer cancel()
	}

	var opts []jurisdiction.SendOption
	if c.Query("resend") == "true" {
		opts = append(opts, jurisdiction.WithResend())
	}

	res := s.pipeline.Send(ctx, req, opts...)
	status := http.StatusOK
	if !res.Success {
		status = httpStatus(res.ErrorCode)
	}
	c.JSON(status, res)
}

func (s *Server) handleStatus(c *gin.Context) {
	country := c.Query("country")
	if country == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "country query parameter is required"})
		return
	}

	id := c.Param("id")
	st, err := s.pipeline.Status(c.Request.Context(), country, id)
	if err != nil {
		writeError(c, err)
		return
	}
	code, _ := model.ParseCountry(country)
	c.JSON(http.StatusOK, StatusResponse{InvoiceID: id, Country: code, Status: st})
}

func (s *Server) handleInspect(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	inv, err := s.pipeline.Inspect(c.Request.Context(), body)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: model.ErrorCode(err)})
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) handleVerify(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	result, err := s.pipeline.Verify(ctx, body)
	switch {
	case errors.Is(err, processor.ErrVerificationDisabled):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		return
	case err != nil && result == nil:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unsupported file format for signature verification", Details: err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}

	if result.Valid {
		c.JSON(http.StatusOK, result)
	} else {
		c.JSON(http.StatusUnprocessableEntity, result)
	}
}
