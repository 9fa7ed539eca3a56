package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "throttleguard/pkg/domain-errors"
	"throttleguard/pkg/validation"
)

// MaxAdminBodyBytes caps admin request bodies.
const MaxAdminBodyBytes = 64 * 1024

// DecodeAndValidate decodes a bounded JSON body into T and runs struct validation.
// On failure it writes the error response and returns nil, false.
//
// Usage:
//
//	req, ok := httputil.DecodeAndValidate[models.PruneRequest](ctx, w, r, h.logger)
//	if !ok {
//	    return
//	}
func DecodeAndValidate[T any](ctx context.Context, w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxAdminBodyBytes)

	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body", "error", err)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}
	if err := validation.Validate(&req); err != nil {
		logger.WarnContext(ctx, "invalid request", "error", err)
		WriteError(w, err)
		return nil, false
	}
	return &req, true
}
