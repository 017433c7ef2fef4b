package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/rop-settlement/internal/domain/auth"
	"github.com/xenking/rop-settlement/internal/domain/settlement"
)

// RequestError reports a malformed or invalid request body.
type RequestError struct {
	Msg string
	Err error
}

func (e *RequestError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *RequestError) Unwrap() error { return e.Err }

func badRequest(msg string, err error) error {
	return &RequestError{Msg: msg, Err: err}
}

// mapError converts domain errors to an HTTP status and client message.
func mapError(err error) (int, string) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, reqErr.Error()
	}
	if errors.Is(err, settlement.ErrRefundIDRequired) || errors.Is(err, settlement.ErrInvalidRefundAmount) {
		return http.StatusBadRequest, err.Error()
	}
	if errors.Is(err, auth.ErrUnauthenticated) {
		return http.StatusUnauthorized, "unauthorized"
	}
	if errors.Is(err, auth.ErrForbidden) {
		return http.StatusForbidden, "forbidden"
	}

	var nfErr *settlement.NotFoundError
	if errors.As(err, &nfErr) {
		return http.StatusNotFound, nfErr.Error()
	}
	if errors.Is(err, settlement.ErrOrderBusy) {
		return http.StatusConflict, err.Error()
	}
	var cfgErr *settlement.ConfigurationError
	if errors.As(err, &cfgErr) {
		return http.StatusUnprocessableEntity, cfgErr.Error()
	}
	var niErr *settlement.NotImplementedError
	if errors.As(err, &niErr) {
		return http.StatusNotImplemented, niErr.Error()
	}

	return http.StatusInternalServerError, "internal error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)
	lg := zctx.From(r.Context())
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		lg.Error("Settlement request failed", zap.Error(err))
	} else {
		lg.Debug("Settlement request rejected", zap.Int("status", status), zap.Error(err))
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeJSON(w, status, e.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
