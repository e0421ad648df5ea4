// Package api exposes the conversation session over an OpenAI-style REST
// surface and over MCP, for clients other than the built-in TUI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/solace/internal/chat"
	"github.com/kalambet/solace/internal/engine"
	"github.com/kalambet/solace/internal/provision"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ModelProvisioner is the slice of the provisioner the API needs.
type ModelProvisioner interface {
	EnsureModel(ctx context.Context) (engine.Handle, error)
	Status() provision.Status
}

// NewHandler returns the REST API handler backed by the given session and
// provisioner.
func NewHandler(sess *chat.Session, prov ModelProvisioner) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/v1/state", handleState(sess))
	r.Post("/v1/chat", handleChat(sess))
	r.Post("/v1/clear", handleClear(sess))
	r.Get("/v1/model", handleModel(prov))
	r.Post("/v1/provision", handleProvision(prov))
	r.Get("/v1/suggestions", handleSuggestions)

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleState(sess *chat.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sess.State())
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func handleChat(sess *chat.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := sess.Send(r.Context(), req.Message); err != nil {
			switch {
			case errors.Is(err, chat.ErrEmptyInput):
				httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required and must not be empty")
			case errors.Is(err, chat.ErrBusy):
				httpError(w, http.StatusConflict, "busy_error", "a reply is already in progress")
			case errors.Is(err, chat.ErrNotProvisioned):
				httpError(w, http.StatusServiceUnavailable, "model_error", "model not available: %v", err)
			default:
				httpError(w, http.StatusBadGateway, "api_error", "completion failed: %v", err)
			}
			return
		}

		st := sess.State()
		var reply string
		for i := len(st.Transcript) - 1; i >= 0; i-- {
			if st.Transcript[i].Role == chat.RoleAssistant {
				reply = st.Transcript[i].Content
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{Reply: reply})
	}
}

func handleClear(sess *chat.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess.Clear()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"cleared"}`))
	}
}

func handleModel(prov ModelProvisioner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(prov.Status())
	}
}

// handleProvision kicks off model provisioning without waiting for the
// download to finish. Clients poll /v1/model for progress.
func handleProvision(prov ModelProvisioner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go func() {
			if _, err := prov.EnsureModel(context.Background()); err != nil {
				slog.Error("background provisioning failed", "error", err)
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(prov.Status())
	}
}

func handleSuggestions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"suggestions": chat.QuickReplies})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
