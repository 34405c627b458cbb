package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/idempotency"
	"github.com/tableorder/api/internal/middleware"
	"github.com/tableorder/api/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode JSON response", zap.Error(err))
	}
}

// writeRaw writes an already encoded JSON body, e.g. a replayed response.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
	w.Write([]byte("\n")) //nolint:errcheck
}

// errorStatus maps an error class to the HTTP status and body code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict, "conflict"
	case errors.Is(err, idempotency.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrNotEligible):
		return http.StatusUnprocessableEntity, "not_eligible"
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrDownstreamDegraded):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError answers with {"error", "code"}. Server errors are logged and
// never echoed to the client.
func writeError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		logger.Error(op, zap.Error(err))
		msg = "internal server error"
	case http.StatusServiceUnavailable:
		logger.Warn(op, zap.Error(err))
		msg = "service temporarily unavailable"
	case http.StatusForbidden:
		msg = "forbidden"
	}
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// isUniqueViolation reports a PostgreSQL unique constraint violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg, "code": "validation"})
}

// pathUUID parses a chi URL parameter, answering 400 when it is not a uuid.
func pathUUID(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		badRequest(w, "invalid "+label+" ID")
		return uuid.Nil, false
	}
	return id, true
}

// actor builds the service actor from the authenticated claims.
func actor(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return service.Actor{}, false
	}
	return service.Actor{UserID: claims.UserID, Role: claims.Role}, true
}
