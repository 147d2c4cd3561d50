package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// maxBodyBytes bounds request bodies; a signed transaction is well under 2 KiB.
const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorResponse is the JSON error body. Engine rejections fill Code, Name and
// Kind.
type errorResponse struct {
	Error string           `json:"error"`
	Code  uint32           `json:"code,omitempty"`
	Name  string           `json:"name,omitempty"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// sentinelStatus maps infrastructure errors to HTTP statuses and stable
// names. Order matters only where errors could wrap each other.
var sentinelStatus = []struct {
	err    error
	status int
	name   string
	kind   domain.ErrorKind
}{
	{domain.ErrNotFound, http.StatusNotFound, "NotFound", domain.KindResource},
	{domain.ErrAccountClosed, http.StatusGone, "AccountClosed", domain.KindState},
	{domain.ErrDuplicateTransaction, http.StatusConflict, "DuplicateTransaction", domain.KindState},
	{domain.ErrAlreadyExists, http.StatusConflict, "AlreadyExists", domain.KindState},
	{domain.ErrAccountTypeMismatch, http.StatusConflict, "AccountTypeMismatch", domain.KindState},
	{domain.ErrAccountNotEmpty, http.StatusConflict, "AccountNotEmpty", domain.KindState},
	{domain.ErrMissingSignature, http.StatusForbidden, "MissingSignature", domain.KindAuthorization},
	{domain.ErrInvalidSignature, http.StatusBadRequest, "InvalidSignature", domain.KindValidation},
	{domain.ErrInvalidInstruction, http.StatusBadRequest, "InvalidInstruction", domain.KindValidation},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "InsufficientBalance", domain.KindResource},
	{domain.ErrArithmeticOverflow, http.StatusUnprocessableEntity, "ArithmeticOverflow", domain.KindResource},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RateLimited", domain.KindResource},
}

// escrowStatus maps an engine error kind to an HTTP status.
func escrowStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindState:
		return http.StatusConflict
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindResource:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// writeDomainError maps err to a 4xx response when it is a known rejection
// and to a logged 500 otherwise.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	if ee, ok := domain.AsEscrowError(err); ok {
		writeJSON(w, escrowStatus(ee.Kind), errorResponse{
			Error: ee.Message,
			Code:  ee.Code,
			Name:  ee.Name,
			Kind:  ee.Kind,
		})
		return
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			writeJSON(w, s.status, errorResponse{Error: err.Error(), Name: s.name, Kind: s.kind})
			return
		}
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since and until bound the
// audit log.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
	if t, ok := parseTime(q.Get("since")); ok {
		opts.Since = &t
	}
	if t, ok := parseTime(q.Get("until")); ok {
		opts.Until = &t
	}
	return opts
}

// parseTime accepts RFC 3339 timestamps or unix seconds.
func parseTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}

// pathUint parses a named uint64 path parameter.
func pathUint(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(r.PathValue(name), 10, 64)
}
