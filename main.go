package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calendar-watcher/calsync"
	"calendar-watcher/config"
	"calendar-watcher/gcal"
	"calendar-watcher/logger"
	"calendar-watcher/notify"
	"calendar-watcher/security"
	"calendar-watcher/store"
	"calendar-watcher/streams"
	"calendar-watcher/watch"
	"calendar-watcher/watcher"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	Service string `json:"service"`
}

const VERSION = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	l, err := logger.New(logger.Config{Level: cfg.Logger.Level, Encoding: cfg.Logger.Encoding})
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	os.Exit(finish(l, run(cfg, l)))
}

// finish logs err, flushes l and returns the process exit code.
func finish(l *zap.SugaredLogger, err error) int {
	code := 0
	if err != nil {
		l.Errorf("calendar-watcher: %v", err)
		code = 1
	}
	_ = l.Sync()
	return code
}

func run(cfg *config.Config, l *zap.SugaredLogger) error {
	ctx := context.Background()
	l.Infof("Starting calendar-watcher v%s", VERSION)

	redisClient, err := store.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	l.Info("Connected to Redis")

	if cfg.Google.RefreshToken == "" {
		l.Warn("google.refresh_token is empty, complete POST /auth/google before calling /calendar/init")
	}
	tokenStore := security.NewTokenStore(redisClient, security.Credentials{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RefreshToken: cfg.Google.RefreshToken,
		RedirectURL:  cfg.Google.RedirectURL,
		Timeout:      cfg.HTTPTimeout,
	}, l)
	googleClient := security.NewGoogleServiceClient(tokenStore, cfg.HTTPTimeout)

	calendarService, err := gcal.NewService(ctx, googleClient.HTTPClient(ctx))
	if err != nil {
		return fmt.Errorf("create calendar service: %w", err)
	}
	provider := gcal.New(calendarService, cfg.Calendar.ID)

	offset, err := calsync.ParseOffset(cfg.Calendar.UTCOffset)
	if err != nil {
		return err
	}
	policy := calsync.NewPolicy(offset, time.Duration(cfg.Calendar.HorizonDays)*24*time.Hour)

	state := store.New(redisClient, cfg.Calendar.ID)
	channels := watch.NewManager(watch.Config{
		CalendarID:   cfg.Calendar.ID,
		Address:      cfg.Watch.CallbackURL,
		Token:        cfg.Watch.ChannelToken,
		SafetyMargin: cfg.Watch.SafetyMargin,
	}, provider, state, l)

	var sink notify.Sink
	if cfg.Notify.WebhookURL != "" {
		sink = notify.NewWebhook(cfg.Notify.WebhookURL, cfg.HTTPTimeout, cfg.Notify.RatePerSec)
	} else {
		l.Warn("notify.webhook_url is empty, reports go to the log")
		sink = notify.NewLogSink(l)
	}

	svc := watcher.New(watcher.Config{
		CalendarID:  cfg.Calendar.ID,
		Policy:      policy,
		MaxChunk:    cfg.Notify.MaxChunk,
		SyncTimeout: cfg.SyncTimeout,
	}, provider, channels, state, sink, streams.NewRunLog(redisClient, 0), l)

	renewer, err := NewChannelRenewer(cfg.Watch.RenewSchedule, svc, cfg.HTTPTimeout, l)
	if err != nil {
		return err
	}
	renewer.Start()

	if cfg.HTTPServer.AdminToken == "" {
		l.Warn("http_server.admin_token and watch.channel_token are empty, operator endpoints are unauthenticated")
	}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthHandler).Methods("GET")
	NewGoogleAuthHandler(googleClient, cfg.HTTPServer.AdminToken, l).RegisterRoutes(r)
	NewCalendarHandler(svc, cfg.HTTPServer.AdminToken, l).RegisterRoutes(r)

	srv := &http.Server{
		Handler:      r,
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.HTTPServer.Port),
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  30 * time.Second,
	}

	l.Infof("calendar-watcher v%s listening on %s (calendar=%s)", VERSION, srv.Addr, cfg.Calendar.ID)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		renewer.Stop()
		return fmt.Errorf("server failed: %w", err)
	}
	l.Info("Shutting down server...")

	renewer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Warnf("Server forced to shutdown: %v", err)
	}

	// detached syncs carry their own deadline
	svc.Wait()
	l.Info("Server exited")
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	json.NewEncoder(w).Encode(HealthResponse{
		OK:      true,
		Version: VERSION,
		Service: "calendar-watcher",
	})
}
