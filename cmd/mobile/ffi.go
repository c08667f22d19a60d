// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libdelilog.so (Android) / delilog.framework (iOS).
// All exported functions use the C calling convention; the app shell
// calls them over Dart/JS FFI and owns freeing every returned string.
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"unsafe"

	"github.com/antsline/delilog-core/internal/config"
	"github.com/antsline/delilog-core/internal/db"
	"github.com/antsline/delilog-core/internal/logging"
	"github.com/antsline/delilog-core/internal/models"
	"github.com/antsline/delilog-core/internal/services"
	"github.com/antsline/delilog-core/internal/session"
	syncpkg "github.com/antsline/delilog-core/internal/sync"
	"github.com/antsline/delilog-core/internal/sync/conflict"
	"github.com/antsline/delilog-core/internal/sync/network"
	"github.com/antsline/delilog-core/internal/sync/queue"
	"github.com/antsline/delilog-core/internal/sync/rest"
	"github.com/antsline/delilog-core/internal/sync/scheduler"
)

var (
	initOnce sync.Once
	initErr  error

	database *db.DB
	service  *services.CheckinService
	sched    *scheduler.Scheduler
	monitor  *network.Monitor
	cancel   context.CancelFunc
)

func initialize(dataDir string) error {
	cfg := config.Load()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	logging.Init(os.Stdout, logging.LogLevel(cfg.LogLevel))

	var err error
	database, err = db.Open(cfg.DataDir)
	if err != nil {
		return err
	}

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		return err
	}

	repo := db.NewRepository(database.DB)
	q, err := queue.New(repo, queue.Config{
		MaxSize:    cfg.QueueMaxSize,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return err
	}

	monitor = network.NewMonitor(cfg.ReconnectDebounce)

	remote := rest.NewClient(&rest.Config{
		BaseURL: cfg.RemoteBaseURL,
		APIKey:  cfg.RemoteAPIKey,
		Timeout: cfg.RemoteTimeout,
	})

	engine := syncpkg.NewEngine(repo, q, remote,
		conflict.NewResolver(conflict.ResolutionStrategyLastWriteWins), monitor)
	engine.SetCallTimeout(cfg.RemoteTimeout)

	schedConfig := scheduler.DefaultConfig()
	schedConfig.ForegroundInterval = cfg.ForegroundInterval
	schedConfig.BackgroundInterval = cfg.BackgroundInterval
	sched = scheduler.NewScheduler(engine, monitor, schedConfig)

	var ctx context.Context
	ctx, cancel = context.WithCancel(context.Background())
	sched.Start(ctx)

	strategy := session.SelectStrategy(remote, session.NewScanBacked(repo))
	sessions := session.NewResolver(strategy)
	service = services.NewCheckinService(repo, q, sessions, engine, sched)
	return nil
}

// cResult marshals a value (or an error) into a JSON C string the
// caller must free via FreeCString.
func cResult(value interface{}, err error) *C.char {
	if err != nil {
		body, _ := json.Marshal(map[string]string{"error": err.Error()})
		return C.CString(string(body))
	}
	body, marshalErr := json.Marshal(value)
	if marshalErr != nil {
		return C.CString(`{"error":"encoding failed"}`)
	}
	return C.CString(string(body))
}

func notReady() *C.char {
	return C.CString(`{"error":"core not initialized"}`)
}

// DelilogInit opens the local store and starts the sync scheduler.
// dataDir may be empty to use the configured default.
//
//export DelilogInit
func DelilogInit(dataDir *C.char) *C.char {
	dir := C.GoString(dataDir)
	initOnce.Do(func() { initErr = initialize(dir) })
	if initErr != nil {
		return cResult(nil, initErr)
	}
	return C.CString(`{"status":"ok"}`)
}

// DelilogShutdown stops the scheduler and closes the store.
//
//export DelilogShutdown
func DelilogShutdown() {
	if cancel != nil {
		cancel()
	}
	if sched != nil {
		sched.Stop()
	}
	if monitor != nil {
		monitor.Close()
	}
	if database != nil {
		database.Close()
	}
}

// CreateBeforeCheckin records a before-work check-in from a JSON body.
//
//export CreateBeforeCheckin
func CreateBeforeCheckin(body *C.char) *C.char {
	if service == nil {
		return notReady()
	}
	var input services.BeforeCheckinInput
	if err := json.Unmarshal([]byte(C.GoString(body)), &input); err != nil {
		return cResult(nil, err)
	}
	return cResult(service.CreateBeforeCheckin(input))
}

// CreateAfterCheckin records an after-work check-in from a JSON body.
//
//export CreateAfterCheckin
func CreateAfterCheckin(body *C.char) *C.char {
	if service == nil {
		return notReady()
	}
	var input services.AfterCheckinInput
	if err := json.Unmarshal([]byte(C.GoString(body)), &input); err != nil {
		return cResult(nil, err)
	}
	return cResult(service.CreateAfterCheckin(input))
}

// ListCheckins returns a user's check-ins as JSON.
//
//export ListCheckins
func ListCheckins(userID *C.char) *C.char {
	if service == nil {
		return notReady()
	}
	return cResult(service.ListCheckins(C.GoString(userID)))
}

// DeleteCheckin removes a check-in and queues the remote deletion.
//
//export DeleteCheckin
func DeleteCheckin(localID *C.char) *C.char {
	if service == nil {
		return notReady()
	}
	if err := service.DeleteCheckin(models.UUID(C.GoString(localID))); err != nil {
		return cResult(nil, err)
	}
	return C.CString(`{"status":"deleted"}`)
}

// GetActiveSession returns the open work session for (user, vehicle),
// if any. vehicleID may be empty to match any vehicle.
//
//export GetActiveSession
func GetActiveSession(userID, vehicleID *C.char) *C.char {
	if service == nil {
		return notReady()
	}
	return cResult(service.ActiveSession(C.GoString(userID), C.GoString(vehicleID)))
}

// GetSyncStatus returns the sync health snapshot as JSON.
//
//export GetSyncStatus
func GetSyncStatus() *C.char {
	if service == nil {
		return notReady()
	}
	return cResult(service.GetSyncStatus(), nil)
}

// TriggerSync requests an immediate sync cycle.
//
//export TriggerSync
func TriggerSync() {
	if sched != nil {
		sched.TriggerSync()
	}
}

// RetryFailedSync re-arms permanently failed operations.
//
//export RetryFailedSync
func RetryFailedSync() *C.char {
	if service == nil {
		return notReady()
	}
	count, err := service.RetryFailed()
	if err != nil {
		return cResult(nil, err)
	}
	return cResult(map[string]int{"retried": count}, nil)
}

// SetNetworkStatus feeds the host platform's connectivity signal in.
// online is 0 for offline, anything else for online.
//
//export SetNetworkStatus
func SetNetworkStatus(online C.int) {
	if monitor == nil {
		return
	}
	if online == 0 {
		monitor.SetStatus(network.StatusOffline)
	} else {
		monitor.SetStatus(network.StatusOnline)
	}
}

// SetAppForeground switches the sync cadence. foreground is 0 for
// background, anything else for foreground.
//
//export SetAppForeground
func SetAppForeground(foreground C.int) {
	if sched != nil {
		sched.SetForeground(foreground != 0)
	}
}

// FreeCString releases a string returned by any export.
//
//export FreeCString
func FreeCString(str *C.char) {
	C.free(unsafe.Pointer(str))
}

func main() {}
