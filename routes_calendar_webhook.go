package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"calendar-watcher/watch"
	"calendar-watcher/watcher"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// calendarService is the part of watcher.Service the routes drive.
type calendarService interface {
	Initialize(ctx context.Context) (watcher.InitResult, error)
	HandlePush(ctx context.Context, h watch.PushHeaders) (watcher.PushOutcome, error)
	Tick(ctx context.Context) (watch.Channel, error)
	Status(ctx context.Context) (watcher.Status, error)
}

// CalendarHandler serves the calendar trigger endpoints
type CalendarHandler struct {
	svc        calendarService
	adminToken string
	l          *zap.SugaredLogger
}

// NewCalendarHandler creates a new calendar handler. A non-empty adminToken
// guards every route except the push webhook.
func NewCalendarHandler(svc calendarService, adminToken string, l *zap.SugaredLogger) *CalendarHandler {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &CalendarHandler{svc: svc, adminToken: adminToken, l: l}
}

// RegisterRoutes registers calendar routes
func (h *CalendarHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/calendar/init", requireAdmin(h.adminToken, h.handleInit)).Methods("POST")
	r.HandleFunc("/calendar/webhook/notification", h.handleWebhookNotification).Methods("POST")
	r.HandleFunc("/calendar/tick", requireAdmin(h.adminToken, h.handleTick)).Methods("POST")
	r.HandleFunc("/calendar/status", requireAdmin(h.adminToken, h.handleStatus)).Methods("GET")
}

// ChannelResponse describes the active watch channel
type ChannelResponse struct {
	ChannelID  string     `json:"channel_id"`
	ResourceID string     `json:"resource_id"`
	Expiration *time.Time `json:"expiration,omitempty"`
	WebhookURL string     `json:"webhook_url"`
	Status     string     `json:"status"`
	Events     *int       `json:"events,omitempty"`
}

func channelResponse(ch watch.Channel, status string) ChannelResponse {
	return ChannelResponse{
		ChannelID:  ch.ChannelID,
		ResourceID: ch.ResourceID,
		Expiration: ch.Expiration,
		WebhookURL: ch.Address,
		Status:     status,
	}
}

// handleInit registers the channel and seeds the snapshot
func (h *CalendarHandler) handleInit(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Initialize(r.Context())
	if err != nil {
		h.l.Errorf("Calendar init failed: %v", err)
		http.Error(w, fmt.Sprintf("Failed to initialize calendar: %v", err), http.StatusInternalServerError)
		return
	}
	resp := channelResponse(res.Channel, "initialized")
	resp.Events = &res.Events
	writeJSON(w, http.StatusOK, resp)
}

// handleWebhookNotification acknowledges a Google Calendar push. Anything the
// provider should not retry is answered with 200.
func (h *CalendarHandler) handleWebhookNotification(w http.ResponseWriter, r *http.Request) {
	headers := watch.HeadersFromRequest(r)
	if headers.ChannelID == "" || headers.ResourceID == "" || headers.ResourceState == "" {
		http.Error(w, "Missing required Google headers", http.StatusBadRequest)
		return
	}

	h.l.Debugf("Calendar webhook notification: ChannelID=%s, ResourceID=%s, ResourceState=%s, MessageNumber=%s",
		headers.ChannelID, headers.ResourceID, headers.ResourceState, headers.MessageNumber)

	out, err := h.svc.HandlePush(r.Context(), headers)
	if err != nil {
		h.l.Errorf("Calendar webhook handling failed for channel %s: %v", headers.ChannelID, err)
	} else if out.Started {
		h.l.Infof("Calendar change on channel %s, sync started", headers.ChannelID)
	}
	w.WriteHeader(http.StatusOK)
}

// handleTick renews the channel when it is close to expiry
func (h *CalendarHandler) handleTick(w http.ResponseWriter, r *http.Request) {
	ch, err := h.svc.Tick(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to renew channel: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, channelResponse(ch, "active"))
}

func (h *CalendarHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read status: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
