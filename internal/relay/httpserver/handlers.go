package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/relay/provhub"
	"github.com/dmitrijs2005/devlink/internal/relay/services"
	"github.com/dmitrijs2005/devlink/internal/relayapi"
)

func (s *Server) newLinkToken(w http.ResponseWriter, r *http.Request) {
	var req relayapi.LinkTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Number == "" {
		s.writeError(w, r, common.ErrorBadRequest)
		return
	}

	token, accessToken, err := s.linking.NewLinkToken(r.Context(), req.Number, req.ACI)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, r, &relayapi.LinkTokenResponse{
		TokenID:          token.ID,
		VerificationCode: token.Code,
		AccessToken:      accessToken,
	})
}

func (s *Server) linkDevice(w http.ResponseWriter, r *http.Request) {
	var req relayapi.LinkDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LinkToken == "" || req.Number == "" {
		s.writeError(w, r, common.ErrorBadRequest)
		return
	}

	resp, err := s.linking.LinkDevice(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, resp)
}

func (s *Server) submitEnvelope(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	var req relayapi.SubmitEnvelopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Body) == 0 {
		s.writeError(w, r, common.ErrorBadRequest)
		return
	}

	if err := s.hub.Deliver(channelID, req.Body); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) waitForLinkedDevice(w http.ResponseWriter, r *http.Request) {
	if deviceFromContext(r.Context()).ID != primaryDeviceID {
		s.writeError(w, r, common.ErrorUnauthorized)
		return
	}

	tokenID := chi.URLParam(r, "tokenID")
	device, err := s.linking.WaitForLinkedDevice(r.Context(), tokenID, s.waitWindow(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, device)
}

func (s *Server) reportTransferArchive(w http.ResponseWriter, r *http.Request) {
	if deviceFromContext(r.Context()).ID != primaryDeviceID {
		s.writeError(w, r, common.ErrorUnauthorized)
		return
	}

	var req relayapi.ReportTransferArchiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, common.ErrorBadRequest)
		return
	}

	if err := s.linking.ReportArchive(r.Context(), &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) waitForTransferArchive(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())
	if device.ID == primaryDeviceID {
		s.writeError(w, r, common.ErrorUnauthorized)
		return
	}

	archive, err := s.linking.WaitForArchive(r.Context(), device.ID, s.waitWindow(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, archive)
}

func (s *Server) uploadForm(w http.ResponseWriter, r *http.Request) {
	form, err := s.archive.UploadForm(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, form)
}

func (s *Server) readURL(w http.ResponseWriter, r *http.Request) {
	cdn, err := strconv.ParseInt(r.URL.Query().Get("cdn"), 10, 32)
	key := r.URL.Query().Get("key")
	if err != nil || key == "" {
		s.writeError(w, r, common.ErrorBadRequest)
		return
	}

	u, err := s.archive.ReadURL(r.Context(), int32(cdn), key)
	if err != nil {
		s.writeError(w, r, common.ErrorBadRequest)
		return
	}
	s.writeJSON(w, r, &relayapi.ReadURLResponse{URL: u})
}

// waitWindow reads the long-poll window from the timeout query parameter
// (seconds). The service clamps it to the configured maximum.
func (s *Server) waitWindow(r *http.Request) time.Duration {
	secs, err := strconv.Atoi(r.URL.Query().Get("timeout"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error(r.Context(), "writing response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrWaitTimeout):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, common.ErrorBadRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, common.ErrorUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, common.ErrorDeviceLimit):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, common.ErrorRateLimited):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, common.ErrorNotFound), errors.Is(err, provhub.ErrChannelNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case r.Context().Err() != nil:
		// client went away mid-poll; nothing useful to write
	default:
		s.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
