// Package ocr is the request orchestrator: it validates input, selects
// the output level, drives the gateway and extractor, records usage,
// and shapes the response. Internal failures never escape as errors;
// they are translated into the error-code taxonomy in the body.
package ocr

import (
	"context"
	"encoding/base64"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/seisei/ocr-central/internal/auth"
	"github.com/seisei/ocr-central/internal/cache"
	"github.com/seisei/ocr-central/internal/extract"
	"github.com/seisei/ocr-central/internal/gateway"
	"github.com/seisei/ocr-central/internal/ledger"
)

// Version is reported by the health endpoint.
const Version = "2.0.2"

type Gateway interface {
	Extract(ctx context.Context, imageB64, mimeType string, level gateway.Level) (string, error)
}

// ResultCache is satisfied by *cache.ResultCache; a nil cache disables
// the memoization path.
type ResultCache interface {
	Get(ctx context.Context, key string) (*cache.Entry, bool)
	Put(ctx context.Context, key string, entry *cache.Entry)
}

type Request struct {
	ImageData   string `json:"image_data"`
	MimeType    string `json:"mime_type"`
	OutputLevel string `json:"output_level"`
	TenantID    string `json:"tenant_id"`

	// Deprecated: fast/full selector kept for backward compatibility.
	PromptVersion string `json:"prompt_version,omitempty"`
}

type Response struct {
	Success          bool             `json:"success"`
	Extracted        map[string]any   `json:"extracted,omitempty"`
	RawResponse      string           `json:"raw_response,omitempty"`
	ErrorCode        string           `json:"error_code,omitempty"`
	Usage            *ledger.Snapshot `json:"usage,omitempty"`
	OutputLevel      string           `json:"output_level"`
	ProcessingTimeMs int              `json:"processing_time_ms"`
}

type Service struct {
	gw            Gateway
	store         ledger.Store       // nil when the ledger store is down (degraded mode)
	results       ResultCache        // nil disables result memoization
	freeQuota     int
	pricePerImage float64
	logger        *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

func NewService(gw Gateway, store ledger.Store, results ResultCache, freeQuota int, pricePerImage float64, logger *zap.Logger, tracer trace.Tracer) *Service {
	return &Service{
		gw:            gw,
		store:         store,
		results:       results,
		freeQuota:     freeQuota,
		pricePerImage: pricePerImage,
		logger:        logger,
		tracer:        tracer,
		now:           time.Now,
	}
}

// resolveLevel is the single translation point for the deprecated
// prompt_version selector. An explicit output_level always wins; the
// legacy field only applies when the new one is absent.
func (s *Service) resolveLevel(req *Request) gateway.Level {
	if req.PromptVersion != "" {
		s.logger.Warn("deprecated prompt_version supplied, use output_level",
			zap.String("prompt_version", req.PromptVersion),
			zap.String("output_level", req.OutputLevel))
	}

	if lvl, ok := gateway.ParseLevel(req.OutputLevel); ok {
		return lvl
	}

	switch req.PromptVersion {
	case "fast":
		return gateway.LevelSummary
	case "full":
		return gateway.LevelAccounting
	}
	return gateway.LevelSummary
}

// Process handles one OCR request end to end. It always returns a
// well-formed response and records exactly one request-log entry.
func (s *Service) Process(ctx context.Context, req *Request) *Response {
	start := s.now()

	level := s.resolveLevel(req)
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = "default"
	}

	ctx, span := s.tracer.Start(ctx, "ocr.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("request_id", auth.GetRequestID(ctx)),
		attribute.String("output_level", string(level)),
	)

	imageBytes, err := base64.StdEncoding.DecodeString(req.ImageData)
	if err != nil {
		s.logger.Warn("malformed base64 image data",
			zap.String("tenant_id", tenantID), zap.Error(err))
		return s.fail(ctx, tenantID, level, gateway.CodeProcessingFailed, 0, start)
	}
	fileSize := len(imageBytes)

	cacheKey := cache.Key(req.ImageData, string(level))
	if s.results != nil {
		if entry, ok := s.results.Get(ctx, cacheKey); ok {
			elapsed := s.elapsedMs(start)
			s.logRequest(ctx, tenantID, true, "", elapsed, fileSize, level)
			return &Response{
				Success:          true,
				Extracted:        entry.Extracted,
				RawResponse:      entry.RawResponse,
				Usage:            s.usageSnapshot(ctx, tenantID),
				OutputLevel:      string(level),
				ProcessingTimeMs: elapsed,
			}
		}
	}

	rawText, err := s.gw.Extract(ctx, req.ImageData, mimeType, level)
	if err != nil {
		code := gateway.CodeOf(err)
		s.logger.Warn("ocr extraction failed",
			zap.String("tenant_id", tenantID),
			zap.String("error_code", string(code)),
			zap.Error(err))
		return s.fail(ctx, tenantID, level, code, fileSize, start)
	}

	extracted := extract.FromText(rawText)
	elapsed := s.elapsedMs(start)

	s.logger.Info("ocr completed",
		zap.String("tenant_id", tenantID),
		zap.String("output_level", string(level)),
		zap.Int("processing_time_ms", elapsed))

	if s.results != nil {
		s.results.Put(ctx, cacheKey, &cache.Entry{Extracted: extracted, RawResponse: rawText})
	}
	s.logRequest(ctx, tenantID, true, "", elapsed, fileSize, level)

	return &Response{
		Success:          true,
		Extracted:        extracted,
		RawResponse:      rawText,
		Usage:            s.recordUsage(ctx, tenantID),
		OutputLevel:      string(level),
		ProcessingTimeMs: elapsed,
	}
}

func (s *Service) fail(ctx context.Context, tenantID string, level gateway.Level, code gateway.ErrorCode, fileSize int, start time.Time) *Response {
	elapsed := s.elapsedMs(start)
	s.logRequest(ctx, tenantID, false, string(code), elapsed, fileSize, level)
	return &Response{
		Success:          false,
		ErrorCode:        string(code),
		OutputLevel:      string(level),
		ProcessingTimeMs: elapsed,
	}
}

func (s *Service) elapsedMs(start time.Time) int {
	return int(s.now().Sub(start).Milliseconds())
}

// logRequest is best effort: the audit trail never fails a request.
func (s *Service) logRequest(ctx context.Context, tenantID string, success bool, errorCode string, elapsedMs, fileSize int, level gateway.Level) {
	if s.store == nil {
		return
	}
	entry := &ledger.RequestLogEntry{
		TenantID:         tenantID,
		Success:          success,
		ErrorCode:        errorCode,
		ProcessingTimeMs: elapsedMs,
		FileSizeBytes:    fileSize,
		OutputLevel:      string(level),
	}
	if err := s.store.LogRequest(ctx, entry); err != nil {
		s.logger.Error("request log write failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// recordUsage runs the atomic monthly upsert. Ledger failure is logged
// and swallowed: the extraction is the primary deliverable and is
// still returned, only without a usage snapshot.
func (s *Service) recordUsage(ctx context.Context, tenantID string) *ledger.Snapshot {
	if s.store == nil {
		s.logger.Warn("ledger store unavailable, usage not recorded",
			zap.String("tenant_id", tenantID))
		return nil
	}
	snap, err := s.store.RecordSuccess(ctx, tenantID, ledger.MonthOf(s.now()), s.pricePerImage, s.freeQuota)
	if err != nil {
		s.logger.Error("usage update failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
		return nil
	}
	return snap
}

// usageSnapshot reads the current counters without mutating them; used
// on cache hits, which are not billed as new images.
func (s *Service) usageSnapshot(ctx context.Context, tenantID string) *ledger.Snapshot {
	if s.store == nil {
		return nil
	}
	snap, err := s.store.Get(ctx, tenantID, ledger.MonthOf(s.now()), s.freeQuota)
	if err != nil {
		s.logger.Error("usage read failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
		return nil
	}
	return snap
}
