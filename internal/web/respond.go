package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"go.uber.org/zap"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	var (
		vErr  *domain.ValidationError
		exErr *domain.ExchangeError
		tErr  *domain.TimeoutError
		cErr  *domain.ConsistencyError
	)
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrNoPosition):
		return http.StatusNotFound, "no_position"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrInstrumentNotFound):
		return http.StatusNotFound, "instrument_not_found"
	case errors.As(err, &cErr):
		return http.StatusConflict, "consistency"
	case errors.As(err, &tErr):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &exErr):
		return http.StatusBadGateway, string(exErr.Kind)
	}
	return http.StatusInternalServerError, ""
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Warn("Request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("body", "%v", err)
	}
	return nil
}
