package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"github.com/menta2k/image-narrator/internal/utils"
	"github.com/menta2k/image-narrator/pkg/client"
	"github.com/menta2k/image-narrator/pkg/history"
	"github.com/menta2k/image-narrator/pkg/orchestrator"
	"github.com/menta2k/image-narrator/pkg/processing"
	"github.com/menta2k/image-narrator/pkg/source"
	"github.com/menta2k/image-narrator/pkg/types"
)

const (
	EndPointHealth   = "/healthz"
	EndPointDescribe = "/v1/describe"
	EndPointHistory  = "/v1/history"

	// DefaultMaxUploadBytes bounds multipart uploads
	DefaultMaxUploadBytes = 20 << 20
)

// Describer runs one request for an uploaded image
type Describer interface {
	TriggerWith(ctx context.Context, mode source.Mode, src source.Source) (orchestrator.Outcome, error)
	Backend() string
	State() orchestrator.State
}

// HistoryReader lists recent requests
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// DescribeResponse is the body of POST /v1/describe
type DescribeResponse struct {
	RequestID   string                `json:"request_id"`
	Kind        string                `json:"kind"`
	Description string                `json:"description,omitempty"`
	Image       *types.Image          `json:"image,omitempty"`
	Analysis    *types.AnalysisResult `json:"analysis,omitempty"`
	OCR         *types.OcrResult      `json:"ocr,omitempty"`
	ErrorKind   string                `json:"error_kind,omitempty"`
	Error       string                `json:"error,omitempty"`
}

type Server struct {
	describer Describer
	history   HistoryReader
	maxBytes  int64
	processor *processing.Processor
}

// New creates the HTTP API. history may be nil.
func New(d Describer, h HistoryReader, maxUploadBytes int64) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{
		describer: d,
		history:   h,
		maxBytes:  maxUploadBytes,
		processor: processing.NewProcessor(),
	}
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET(EndPointHealth, s.Health)
	router.POST(EndPointDescribe, s.Describe)
	router.GET(EndPointHistory, s.History)
	return router
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("shutting down http server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "image-narrator",
		"backend": s.describer.Backend(),
		"state":   s.describer.State().String(),
	})
}

// Describe analyzes the multipart "image" field
func (s *Server) Describe(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"image\" is required"})
		return
	}
	defer file.Close()

	if !utils.IsImageFile(header.Filename) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported file type", "allowed": utils.AllowedExtensions()})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.maxBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}
	if int64(len(data)) > s.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}

	img, err := s.processor.FromBytes(header.Filename, data)
	if err != nil {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
		return
	}
	if want := utils.ContentTypeForFile(header.Filename); want != img.ContentType {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "file content is " + img.ContentType + ", extension implies " + want})
		return
	}

	outcome, err := s.describer.TriggerWith(c.Request.Context(), source.FilePicker, source.Static{Image: img})
	if errors.Is(err, orchestrator.ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": "a request is already in progress"})
		return
	}
	if err != nil {
		log.WithError(err).Error("describe failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status, body := describeResponse(outcome)
	c.JSON(status, body)
}

func describeResponse(outcome orchestrator.Outcome) (int, DescribeResponse) {
	resp := DescribeResponse{RequestID: outcome.ID(), Kind: outcome.Kind()}
	switch o := outcome.(type) {
	case *orchestrator.Success:
		resp.Description = o.Description
		resp.Image = o.Image
		resp.Analysis = o.Analysis
		resp.OCR = o.OCR
	case *orchestrator.AnalysisFailed:
		if o.Reason == nil {
			return http.StatusBadGateway, resp
		}
		resp.ErrorKind = o.Reason.Kind.String()
		resp.Error = o.Reason.Error()
		// the image itself was refused, locally or by the service
		if o.Reason.Kind == client.Unsupported {
			return http.StatusUnprocessableEntity, resp
		}
		return http.StatusBadGateway, resp
	}
	return http.StatusOK, resp
}

// History lists recent requests, ?limit=N
func (s *Server) History(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}

	limit := history.DefaultLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		log.WithError(err).Error("history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("http request")
	}
}
