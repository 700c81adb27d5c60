package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fwojciec/docchat"
	"github.com/fwojciec/docchat/api"
	"github.com/fwojciec/docchat/sse"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files := s.listFiles()
	out := make([]api.WireFile, len(files))
	for i, f := range files {
		out[i] = api.WireFile{ID: f.ID, Name: f.Name, CreatedAt: f.CreatedAt, MessageCount: f.MessageCount}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.pollStatus(chi.URLParam(r, "fileID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.StatusResponse{Status: status})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := docchat.DefaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	msgs, next, err := s.page(chi.URLParam(r, "fileID"), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := api.MessagesResponse{Messages: make([]api.WireMessage, len(msgs)), NextCursor: next}
	for i, m := range msgs {
		resp.Messages[i] = api.FromMessage(m)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req api.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := docchat.ValidateSendRequest(docchat.SendRequest{FileID: req.FileID, Message: req.Message}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ask(req.FileID, req.Message); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	text := s.answer(req.Message)
	sw := sse.NewWriter(w)
	ctx := r.Context()
	for i, word := range strings.SplitAfter(text, " ") {
		if s.wordDelay > 0 {
			select {
			case <-time.After(s.wordDelay):
			case <-ctx.Done():
				s.logger.Info().Str("file_id", req.FileID).Msg("client left before the answer finished")
				return
			}
		}
		if err := sw.TextDelta(word); err != nil {
			s.logger.Warn().Err(err).Str("file_id", req.FileID).Msg("stream write failed")
			return
		}
		if s.malformedEvery > 0 && (i+1)%s.malformedEvery == 0 {
			_ = sw.Raw("{malformed")
		}
	}
	s.answered(req.FileID, text)
	_ = sw.Finish()
	_ = sw.Done()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var qe *docchat.QuotaError
	switch {
	case errors.As(err, &qe):
		s.logger.Info().Str("path", r.URL.Path).Msg("quota exhausted")
		s.writeJSON(w, http.StatusPaymentRequired, api.QuotaResponse{Message: qe.Message, ResetAt: qe.ResetAt})
	case errors.Is(err, errFileNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, errUnknownCursor):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, docchat.ErrDocumentNotReady):
		http.Error(w, "document is not ready", http.StatusConflict)
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
