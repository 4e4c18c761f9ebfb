package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"calendar-watcher/security"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type consentClient interface {
	AuthURL(ctx context.Context) (string, string, error)
	Exchange(ctx context.Context, state, code string) error
	Status(ctx context.Context) string
	Revoke(ctx context.Context) error
}

// GoogleAuthHandler runs the one-time consent flow that mints the calendar
// refresh token.
type GoogleAuthHandler struct {
	client     consentClient
	adminToken string
	l          *zap.SugaredLogger
}

// NewGoogleAuthHandler creates a new Google auth handler. A non-empty
// adminToken guards every route except the provider callback.
func NewGoogleAuthHandler(client consentClient, adminToken string, l *zap.SugaredLogger) *GoogleAuthHandler {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &GoogleAuthHandler{client: client, adminToken: adminToken, l: l}
}

// AuthResponse represents an authentication response
type AuthResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// CallbackResponse represents OAuth callback response
type CallbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Service string `json:"service,omitempty"`
}

// StatusResponse represents service status response
type StatusResponse struct {
	Services map[string]string `json:"services"`
}

// RegisterRoutes registers Google authentication routes
func (h *GoogleAuthHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/google", requireAdmin(h.adminToken, h.StartAuth)).Methods("POST")
	// the callback is reached by the browser redirect and is bound by state
	router.HandleFunc("/auth/google/callback", h.HandleCallback).Methods("GET")
	router.HandleFunc("/auth/status", requireAdmin(h.adminToken, h.GetStatus)).Methods("GET")
	router.HandleFunc("/auth/revoke", requireAdmin(h.adminToken, h.RevokeAccess)).Methods("DELETE")
}

// StartAuth returns a consent URL for the calendar scopes
func (h *GoogleAuthHandler) StartAuth(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := h.client.AuthURL(r.Context())
	if err != nil {
		h.l.Errorf("Failed to generate auth URL: %v", err)
		http.Error(w, "Failed to generate authentication URL", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{AuthURL: authURL, State: state})
}

// HandleCallback handles OAuth callback from Google
func (h *GoogleAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	errorParam := r.URL.Query().Get("error")

	if errorParam != "" {
		h.l.Warnf("OAuth error: %s", errorParam)
		http.Error(w, fmt.Sprintf("OAuth failed: %s", errorParam), http.StatusBadRequest)
		return
	}
	if code == "" {
		http.Error(w, "Authorization code is required", http.StatusBadRequest)
		return
	}
	if state == "" {
		http.Error(w, "State parameter is required", http.StatusBadRequest)
		return
	}

	if err := h.client.Exchange(r.Context(), state, code); err != nil {
		if errors.Is(err, security.ErrInvalidState) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.l.Errorf("Failed to exchange code for token: %v", err)
		http.Error(w, "Failed to exchange authorization code for token", http.StatusInternalServerError)
		return
	}

	h.l.Infof("Successfully authenticated for %s", security.ServiceCalendar)
	writeJSON(w, http.StatusOK, CallbackResponse{
		Success: true,
		Message: fmt.Sprintf("Successfully authenticated for %s", security.ServiceCalendar),
		Service: security.ServiceCalendar,
	})
}

// GetStatus returns the state of the calendar credential
func (h *GoogleAuthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Services: map[string]string{security.ServiceCalendar: h.client.Status(r.Context())},
	})
}

// RevokeAccess forgets the stored calendar credential
func (h *GoogleAuthHandler) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	err := h.client.Revoke(r.Context())

	response := map[string]interface{}{
		"success": err == nil,
		"service": security.ServiceCalendar,
	}
	if err != nil {
		response["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, response)
}
