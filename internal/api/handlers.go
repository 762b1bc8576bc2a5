// Package api exposes session control and live events over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lexiqai/voice-live/internal/session"
	"github.com/lexiqai/voice-live/internal/transcript"
	"github.com/rs/zerolog"
)

// Controller is the session surface the API drives
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() session.State
	SessionID() string
	Transcript() []transcript.Entry
	LastError() *session.Error
	Pending(speaker transcript.Speaker) string
}

// Status is the body returned by every session endpoint
type Status struct {
	State      string             `json:"state"`
	SessionID  string             `json:"session_id,omitempty"`
	Transcript []transcript.Entry `json:"transcript"`
	Pending    *PendingText       `json:"pending,omitempty"`
	Error      *ErrorBody         `json:"error,omitempty"`
}

// PendingText is the partial text of the current turn
type PendingText struct {
	User      string `json:"user,omitempty"`
	Assistant string `json:"assistant,omitempty"`
}

// ErrorBody describes the error that ended the last session
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Handler serves the control endpoints
type Handler struct {
	ctrl   Controller
	hub    *Hub
	logger zerolog.Logger
}

// NewHandler creates a handler for ctrl and registers its event hub as a listener
func NewHandler(ctrl *session.Controller, logger zerolog.Logger) *Handler {
	h := newHandler(ctrl, logger)
	ctrl.AddListener(h.hub)
	return h
}

func newHandler(ctrl Controller, logger zerolog.Logger) *Handler {
	return &Handler{
		ctrl:   ctrl,
		hub:    NewHub(ctrl, logger),
		logger: logger,
	}
}

// Hub returns the event hub
func (h *Handler) Hub() *Hub {
	return h.hub
}

// Register adds the session routes to mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/session/start", h.handleStart)
	mux.HandleFunc("/session/stop", h.handleStop)
	mux.HandleFunc("/session", h.handleStatus)
	mux.HandleFunc("/session/events", h.hub.ServeWS)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.ctrl.Start(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Session start failed")
		var sessErr *session.Error
		status := http.StatusInternalServerError
		if errors.As(err, &sessErr) && sessErr.Kind == session.AcquisitionFailure {
			status = http.StatusBadGateway
		}
		h.writeStatus(w, status)
		return
	}

	h.writeStatus(w, http.StatusOK)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.ctrl.Stop(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Session stop failed")
	}
	h.writeStatus(w, http.StatusOK)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeStatus(w, http.StatusOK)
}

func (h *Handler) status() Status {
	st := Status{
		State:      h.ctrl.State().String(),
		SessionID:  h.ctrl.SessionID(),
		Transcript: h.ctrl.Transcript(),
	}

	pending := PendingText{
		User:      h.ctrl.Pending(transcript.SpeakerUser),
		Assistant: h.ctrl.Pending(transcript.SpeakerAssistant),
	}
	if pending.User != "" || pending.Assistant != "" {
		st.Pending = &pending
	}

	if err := h.ctrl.LastError(); err != nil {
		st.Error = &ErrorBody{Kind: err.Kind.String(), Message: err.UserMessage()}
	}
	return st
}

func (h *Handler) writeStatus(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(h.status()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to write status")
	}
}
