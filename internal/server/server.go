// =============================================================================
// SEPA XML Converter - HTTP Front-End
// =============================================================================
//
// This module exposes the converter over HTTP for browser front-ends.
//
// ROUTES:
//   POST /api/v1/preview   multipart "file", optional "sheet" and "rows"
//   POST /api/v1/convert   multipart "file", optional "sheet", "separator"
//                          and "sequenceType"; "?format=xml" returns the
//                          document as a download instead of JSON
//   GET  /healthz
//   GET  /metrics          Prometheus exposition
//
// STATUS CODES:
//   422  rows failed validation, body {"errors": [...]}
//   400  the upload cannot be used (missing, unreadable, unknown sheet)
//   500  the creditor configuration is incomplete, or an internal failure
//
// =============================================================================

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ydmw74/sepa-xml-converter/internal/config"
	"github.com/ydmw74/sepa-xml-converter/internal/converter"
	"github.com/ydmw74/sepa-xml-converter/internal/logger"
	"github.com/ydmw74/sepa-xml-converter/internal/metrics"
	"github.com/ydmw74/sepa-xml-converter/internal/validation"
)

// RequestIDHeader carries the id assigned to every request.
const RequestIDHeader = "X-Request-ID"

// Server serves the conversion API.
type Server struct {
	conv    *converter.Converter
	cfg     config.ServerConfig
	metrics *metrics.Registry
	log     zerolog.Logger
}

// New creates a server. reg may be nil, in which case /metrics is not
// registered.
func New(conv *converter.Converter, cfg config.ServerConfig, reg *metrics.Registry, log zerolog.Logger) *Server {
	return &Server{conv: conv, cfg: cfg, metrics: reg, log: log}
}

// Router builds the gin engine with all middleware and routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(s.log), gin.Recovery(), cors.New(s.corsConfig()))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := r.Group("/api/v1", s.limitUpload())
	v1.POST("/preview", s.handlePreview)
	v1.POST("/convert", s.handleConvert)

	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{RequestIDHeader, "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}

	for _, origin := range s.cfg.AllowedOrigins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = s.cfg.AllowedOrigins
	return cfg
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("address", s.cfg.Address).Msg("starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// RequestLogger assigns a request id, puts a request-scoped logger into the
// request context and logs every completed request.
func RequestLogger(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()

		requestLogger := base.With().
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()

		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), requestLogger))

		c.Next()

		requestLogger.Info().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request completed")
	}
}

// limitUpload caps the request body at max_upload_mb.
func (s *Server) limitUpload() gin.HandlerFunc {
	limit := s.cfg.MaxUploadMB << 20
	return func(c *gin.Context) {
		if limit > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

type convertResponse struct {
	XML              string   `json:"xml"`
	TransactionCount int      `json:"transactionCount"`
	TotalAmount      string   `json:"totalAmount"`
	MessageID        string   `json:"messageId"`
	Sheet            string   `json:"sheet"`
	Separator        string   `json:"separator"`
	Warnings         []string `json:"warnings"`
}

func (s *Server) handleConvert(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file upload: " + err.Error()})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload: " + err.Error()})
		return
	}
	defer file.Close()

	result, err := s.conv.ConvertReader(c.Request.Context(), file, header.Filename, converter.Options{
		Sheet:        c.PostForm("sheet"),
		Separator:    c.PostForm("separator"),
		SequenceType: c.PostForm("sequenceType"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if c.Query("format") == "xml" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.MessageID+".xml"))
		c.Data(http.StatusOK, "application/xml; charset=utf-8", result.XML)
		return
	}

	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	c.JSON(http.StatusOK, convertResponse{
		XML:              string(result.XML),
		TransactionCount: result.TransactionCount,
		TotalAmount:      result.TotalAmount,
		MessageID:        result.MessageID,
		Sheet:            result.Sheet,
		Separator:        result.Separator,
		Warnings:         warnings,
	})
}

func (s *Server) handlePreview(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file upload: " + err.Error()})
		return
	}

	rows := 0
	if raw := c.PostForm("rows"); raw != "" {
		rows, err = strconv.Atoi(raw)
		if err != nil || rows < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid rows %q", raw)})
			return
		}
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload: " + err.Error()})
		return
	}
	defer file.Close()

	preview, err := s.conv.Preview(file, header.Filename, c.PostForm("sheet"), rows)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, preview)
}

// writeError maps a conversion error to a status code and body.
func writeError(c *gin.Context, err error) {
	log := logger.FromContext(c.Request.Context())

	switch converter.Classify(err) {
	case converter.KindValidation:
		var validationErr *validation.Error
		errors.As(err, &validationErr)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": validationErr.Messages()})
	case converter.KindInput:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case converter.KindConfig:
		log.Error().Err(err).Msg("conversion rejected by configuration")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("conversion failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
