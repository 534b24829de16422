// Package httpserver exposes the relay and signing operations over HTTP
// for the surrounding application, together with health, drain and
// debugging endpoints.
package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oblink/outbound-relay/api"
	"github.com/oblink/outbound-relay/certstore"
	"github.com/oblink/outbound-relay/relay"
	"github.com/oblink/outbound-relay/signer"
)

// maxBodySize is the maximum allowed request body size (10MB).
const maxBodySize = 10 * 1024 * 1024

// Handler processes relay and signing API requests.
type Handler struct {
	relay  *relay.Relay
	signer *signer.Service
	log    *slog.Logger
}

// NewHandler creates a handler around the relay and signing services.
func NewHandler(relay *relay.Relay, signer *signer.Service, log *slog.Logger) *Handler {
	return &Handler{relay: relay, signer: signer, log: log}
}

// HandleRelay processes one relay call.
//
// URL format: POST /api/relay?follow_redirects=<bool>
// Request body: api.RelayRequest JSON
// Response: api.RelayResult JSON
func (h *Handler) HandleRelay(w http.ResponseWriter, r *http.Request) {
	var req api.RelayRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, &api.RequestError{StatusCode: http.StatusBadRequest, Err: err})
		return
	}

	followRedirects := true
	if raw := r.URL.Query().Get("follow_redirects"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, &api.RequestError{
				StatusCode: http.StatusBadRequest,
				Err:        errors.New("follow_redirects must be a boolean"),
			})
			return
		}
		followRedirects = parsed
	}

	result, err := h.relay.Do(r.Context(), &req, followRedirects)
	if err != nil {
		h.writeError(w, mapError(err))
		return
	}
	h.writeJSON(w, result)
}

// HandleSign processes one signing call.
//
// URL format: POST /api/sign
// Request body: api.SignRequest JSON
// Response: api.SignResponse JSON
func (h *Handler) HandleSign(w http.ResponseWriter, r *http.Request) {
	var req api.SignRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, &api.RequestError{StatusCode: http.StatusBadRequest, Err: err})
		return
	}

	signature, err := h.signer.Sign(signer.Request{
		Data:            []byte(req.Data),
		KeyPath:         req.KeyPath,
		HashAlgorithm:   req.HashAlgorithm,
		CryptoAlgorithm: req.CryptoAlgorithm,
	})
	if err != nil {
		h.writeError(w, mapError(err))
		return
	}
	h.writeJSON(w, &api.SignResponse{Signature: signature})
}

func (h *Handler) decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return &api.RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &api.RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var reqErr *api.RequestError
	if errors.As(err, &reqErr) {
		status = reqErr.StatusCode
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "status", status, "err", err)
	} else {
		h.log.Debug("Request rejected", "status", status, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&api.ErrorResponse{Error: api.SanitizeMessage(err.Error())})
}

// mapError attaches the HTTP status implied by the error taxonomy:
// security-boundary violations, configuration mistakes and unsupported
// algorithm selections are the caller's fault; certificate material
// problems are ours; timeouts map to gateway timeout.
func mapError(err error) error {
	switch {
	case errors.Is(err, certstore.ErrPathEscape),
		errors.Is(err, certstore.ErrUnsupportedKeyType),
		errors.Is(err, relay.ErrHeaderInjection),
		errors.Is(err, relay.ErrConfiguration),
		errors.Is(err, signer.ErrUnsupportedAlgorithm):
		return &api.RequestError{StatusCode: http.StatusBadRequest, Err: err}
	case errors.Is(err, relay.ErrTimeout):
		return &api.RequestError{StatusCode: http.StatusGatewayTimeout, Err: err}
	default:
		return &api.RequestError{StatusCode: http.StatusInternalServerError, Err: err}
	}
}
