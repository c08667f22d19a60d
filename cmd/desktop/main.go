// Package main provides the Delilog desktop sidecar: a localhost HTTP
// server that owns the local store, the sync queue, and the sync engine.
// Desktop UI clients talk to it over REST and receive sync events over
// WebSocket.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/antsline/delilog-core/cmd/desktop/handlers"
	"github.com/antsline/delilog-core/internal/config"
	"github.com/antsline/delilog-core/internal/db"
	"github.com/antsline/delilog-core/internal/logging"
	"github.com/antsline/delilog-core/internal/services"
	"github.com/antsline/delilog-core/internal/session"
	syncpkg "github.com/antsline/delilog-core/internal/sync"
	"github.com/antsline/delilog-core/internal/sync/conflict"
	"github.com/antsline/delilog-core/internal/sync/network"
	"github.com/antsline/delilog-core/internal/sync/queue"
	"github.com/antsline/delilog-core/internal/sync/rest"
	"github.com/antsline/delilog-core/internal/sync/scheduler"
	"github.com/antsline/delilog-core/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logging.Init(os.Stdout, logging.LogLevel(cfg.LogLevel))

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logging.Error("Failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		logging.Error("Failed to initialize migrations", err, nil)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		logging.Error("Failed to run migrations", err, nil)
		os.Exit(1)
	}

	repo := db.NewRepository(database.DB)

	q, err := queue.New(repo, queue.Config{
		MaxSize:    cfg.QueueMaxSize,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		logging.Error("Failed to restore sync queue", err, nil)
		os.Exit(1)
	}

	monitor := network.NewMonitor(cfg.ReconnectDebounce)
	defer monitor.Close()

	remote := rest.NewClient(&rest.Config{
		BaseURL: cfg.RemoteBaseURL,
		APIKey:  cfg.RemoteAPIKey,
		Timeout: cfg.RemoteTimeout,
	})

	resolver := conflict.NewResolver(conflict.ResolutionStrategyLastWriteWins)
	engine := syncpkg.NewEngine(repo, q, remote, resolver, monitor)
	engine.SetCallTimeout(cfg.RemoteTimeout)

	hub := NewWSHub()
	engine.SetEventHandler(hub)

	monitor.Subscribe(func(status network.Status) {
		if status == network.StatusOnline {
			telemetry.NetworkOnline.Set(1)
		} else {
			telemetry.NetworkOnline.Set(0)
		}
		hub.BroadcastNetworkChanged(status)
	})
	telemetry.NetworkOnline.Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Health probe: the host shell reports connectivity via POST
	// /api/network, but a periodic ping catches silent recovery when no
	// report arrives.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, probeCancel := context.WithTimeout(ctx, 3*time.Second)
				err := remote.Ping(probeCtx)
				probeCancel()
				if err == nil {
					monitor.SetStatus(network.StatusOnline)
				} else {
					monitor.SetStatus(network.StatusOffline)
				}
			}
		}
	}()

	schedConfig := scheduler.DefaultConfig()
	schedConfig.ForegroundInterval = cfg.ForegroundInterval
	schedConfig.BackgroundInterval = cfg.BackgroundInterval
	sched := scheduler.NewScheduler(engine, monitor, schedConfig)
	sched.Start(ctx)
	defer sched.Stop()

	// The desktop sidecar uses the SQL-view session lookup; the Go-side
	// scan is kept for embedded builds without the view migration. When
	// the remote store can answer active-session queries the view acts
	// as the offline fallback.
	strategy := session.SelectStrategy(remote, session.NewViewBacked(database.DB))
	sessions := session.NewResolver(strategy)
	service := services.NewCheckinService(repo, q, sessions, engine, sched)

	checkinHandler := handlers.NewCheckinHandler(service)
	syncHandler := handlers.NewSyncHandler(service, sched, monitor)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/checkins/before", checkinHandler.CreateBefore)
	mux.HandleFunc("POST /api/checkins/after", checkinHandler.CreateAfter)
	mux.HandleFunc("GET /api/checkins", checkinHandler.List)
	mux.HandleFunc("GET /api/checkins/{id}", checkinHandler.Get)
	mux.HandleFunc("PATCH /api/checkins/{id}", checkinHandler.Update)
	mux.HandleFunc("DELETE /api/checkins/{id}", checkinHandler.Delete)
	mux.HandleFunc("GET /api/sessions/active", checkinHandler.ActiveSession)
	mux.HandleFunc("GET /api/sessions", checkinHandler.Sessions)
	mux.HandleFunc("POST /api/vehicles", checkinHandler.SaveVehicle)
	mux.HandleFunc("PUT /api/vehicles/{id}", checkinHandler.SaveVehicle)
	mux.HandleFunc("GET /api/vehicles", checkinHandler.ListVehicles)
	mux.HandleFunc("PUT /api/profile", checkinHandler.SaveProfile)
	mux.HandleFunc("GET /api/sync/status", syncHandler.GetStatus)
	mux.HandleFunc("POST /api/sync/now", syncHandler.SyncNow)
	mux.HandleFunc("POST /api/sync/retry", syncHandler.RetryFailed)
	mux.HandleFunc("GET /api/sync/failed", syncHandler.ListFailed)
	mux.HandleFunc("GET /api/sync/conflicts", syncHandler.ListConflicts)
	mux.HandleFunc("POST /api/network", syncHandler.SetNetwork)
	mux.HandleFunc("POST /api/app/state", syncHandler.SetAppState)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"delilog-desktop"}`))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/ws", HandleWebSocket(hub))

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		logging.Info("Shutting down", nil)
		server.Shutdown(context.Background())
	}()

	logging.Info("Delilog desktop sidecar listening",
		map[string]interface{}{"addr": cfg.ListenAddr, "data_dir": cfg.DataDir})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("Server exited", err, nil)
		os.Exit(1)
	}
}
