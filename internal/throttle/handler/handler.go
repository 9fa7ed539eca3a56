package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	slmodels "throttleguard/internal/securitylog/models"
	"throttleguard/internal/throttle/models"
	dErrors "throttleguard/pkg/domain-errors"
	"throttleguard/pkg/platform/httputil"
	"throttleguard/pkg/platform/privacy"
	"throttleguard/pkg/requestcontext"
)

// SecurityLog is the read/maintenance side of the security event log.
type SecurityLog interface {
	Report(ctx context.Context, window time.Duration, topN int) (slmodels.Report, error)
	Prune(ctx context.Context, olderThanDays int) (slmodels.PruneResult, error)
}

// Throttle exposes tracker state to operators.
type Throttle interface {
	Stats(ctx context.Context) models.Stats
	ResetClient(ctx context.Context, clientIP string) models.ResetResult
}

const maxReportTop = 100

type Handler struct {
	securityLog SecurityLog
	throttle    Throttle
	logger      *slog.Logger
}

func New(securityLog SecurityLog, throttle Throttle, logger *slog.Logger) *Handler {
	return &Handler{
		securityLog: securityLog,
		throttle:    throttle,
		logger:      logger,
	}
}

// RegisterAdmin mounts the operator endpoints. Callers wrap r with admin auth.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/security/report", h.HandleReport)
	r.Post("/admin/security/prune", h.HandlePrune)
	r.Get("/admin/throttle/stats", h.HandleStats)
	r.Post("/admin/throttle/reset", h.HandleReset)
}

// HandleReport implements GET /admin/security/report?hours=24&top=10.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	hours, err := positiveQueryInt(r, "hours", 24, 24*365)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	top, err := positiveQueryInt(r, "top", 10, maxReportTop)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	report, err := h.securityLog.Report(ctx, time.Duration(hours)*time.Hour, top)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to build security report",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "security report generated",
		"hours", hours,
		"total_events", report.TotalEvents,
		"admin", requestcontext.AdminSubject(ctx),
		"request_id", requestID,
	)
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandlePrune implements POST /admin/security/prune.
// Input: { "olderThanDays": 30 }
func (h *Handler) HandlePrune(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndValidate[PruneRequest](ctx, w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.securityLog.Prune(ctx, *req.OlderThanDays)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to prune security log",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "security log pruned by admin",
		"older_than_days", *req.OlderThanDays,
		"removed", result.RemovedCount,
		"admin", requestcontext.AdminSubject(ctx),
		"request_id", requestID,
	)
	httputil.WriteJSON(w, http.StatusOK, &PruneResponse{
		RemovedCount:   result.RemovedCount,
		RemainingCount: result.RemainingCount,
	})
}

// HandleStats implements GET /admin/throttle/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.throttle.Stats(r.Context()))
}

// HandleReset implements POST /admin/throttle/reset.
// Input: { "clientIp": "203.0.113.7" }
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeAndValidate[ResetRequest](ctx, w, r, h.logger)
	if !ok {
		return
	}

	result := h.throttle.ResetClient(ctx, req.ClientIP)
	h.logger.InfoContext(ctx, "throttle state reset by admin",
		"ip", privacy.AnonymizeIP(req.ClientIP),
		"admin", requestcontext.AdminSubject(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func positiveQueryInt(r *http.Request, name string, fallback, ceiling int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, dErrors.New(dErrors.CodeValidation, name+" must be a positive integer")
	}
	return min(v, ceiling), nil
}
