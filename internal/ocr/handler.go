package ocr

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/seisei/ocr-central/internal/gateway"
	"github.com/seisei/ocr-central/internal/ledger"
	"github.com/seisei/ocr-central/pkg/ratelimit"
)

// Handler exposes the HTTP surface. The process endpoint answers 200
// for every well-formed body, success or not; 5xx is reserved for
// ledger-store unavailability on the usage read endpoints.
type Handler struct {
	svc           *Service
	store         ledger.Store // nil: usage endpoints answer 503
	limiter       *ratelimit.Limiter
	freeQuota     int
	pricePerImage float64
	logger        *zap.Logger
	now           func() time.Time
}

func NewHandler(svc *Service, store ledger.Store, limiter *ratelimit.Limiter, freeQuota int, pricePerImage float64, logger *zap.Logger) *Handler {
	return &Handler{
		svc:           svc,
		store:         store,
		limiter:       limiter,
		freeQuota:     freeQuota,
		pricePerImage: pricePerImage,
		logger:        logger,
		now:           time.Now,
	}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	levels := make([]string, 0, 2)
	for _, l := range gateway.Levels() {
		levels = append(levels, string(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"version":       Version,
		"output_levels": levels,
		"timestamp":     h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.OutputLevel != "" {
		if _, ok := gateway.ParseLevel(req.OutputLevel); !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "output_level must be 'summary' or 'accounting'"})
			return
		}
	}
	if req.PromptVersion != "" && req.PromptVersion != "fast" && req.PromptVersion != "full" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt_version must be 'fast' or 'full'"})
		return
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = "default"
	}

	allowed, err := h.limiter.Allow(r.Context(), tenantID)
	if err != nil {
		h.logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
	} else if !allowed {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.svc.Process(r.Context(), &req))
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ledger store unavailable"})
		return
	}

	tenantID := chi.URLParam(r, "tenantID")
	yearMonth := r.URL.Query().Get("year_month")
	if yearMonth == "" {
		yearMonth = ledger.MonthOf(h.now())
	}

	snap, err := h.store.Get(r.Context(), tenantID, yearMonth, h.freeQuota)
	if err != nil {
		h.logger.Error("usage read failed", zap.String("tenant_id", tenantID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ledger store unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) HandleUsageList(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ledger store unavailable"})
		return
	}

	yearMonth := r.URL.Query().Get("year_month")
	if yearMonth == "" {
		yearMonth = ledger.MonthOf(h.now())
	}

	snaps, err := h.store.ListMonth(r.Context(), yearMonth, h.freeQuota)
	if err != nil {
		h.logger.Error("usage list failed", zap.String("year_month", yearMonth), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ledger store unavailable"})
		return
	}
	if snaps == nil {
		snaps = []*ledger.Snapshot{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"year_month":      yearMonth,
		"free_quota":      h.freeQuota,
		"price_per_image": h.pricePerImage,
		"tenants":         snaps,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
