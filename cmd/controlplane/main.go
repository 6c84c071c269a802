// Command controlplane is the work order execution control plane's process
// entrypoint: it wires persistence, admission, the orchestrator's external
// collaborators, and the HTTP/WebSocket transport together and serves them
// until signaled to stop. Config is entirely environment-variable driven,
// following the teacher's main.go os.Getenv + fmt.Sscanf pattern.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/workbenchhq/controlplane/internal/autoprocessor"
	"github.com/workbenchhq/controlplane/internal/events"
	"github.com/workbenchhq/controlplane/internal/orchestrator"
	"github.com/workbenchhq/controlplane/internal/persistence"
	"github.com/workbenchhq/controlplane/internal/profile"
	"github.com/workbenchhq/controlplane/internal/queuefacade"
	"github.com/workbenchhq/controlplane/internal/queuemanager"
	"github.com/workbenchhq/controlplane/internal/resource"
	"github.com/workbenchhq/controlplane/internal/retry"
	"github.com/workbenchhq/controlplane/internal/scheduler"
	"github.com/workbenchhq/controlplane/internal/service"
	"github.com/workbenchhq/controlplane/internal/strategy"
	"github.com/workbenchhq/controlplane/internal/workorder"
	"github.com/workbenchhq/controlplane/pkg/agentrunner"
	"github.com/workbenchhq/controlplane/pkg/verification"
	"github.com/workbenchhq/controlplane/pkg/workspace"
	"github.com/workbenchhq/controlplane/transport/httpapi"
	"github.com/workbenchhq/controlplane/transport/wsgateway"
)

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n == 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var f float64
	if _, err := fmt.Sscanf(v, "%f", &f); err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	persist, closeStore := buildPersistence(ctx, dataDir)
	if closeStore != nil {
		defer closeStore()
	}

	profileDir := os.Getenv("PROFILE_DIR")
	if profileDir == "" {
		profileDir = dataDir + "/profiles"
	}
	profileStore, err := profile.NewStore(profileDir)
	if err != nil {
		log.Fatalf("controlplane: profile store: %v", err)
	}

	maxSlots := envInt("MAX_CONCURRENT_SLOTS", 4)
	monitorCfg := resource.DefaultConfig(maxSlots)
	monitorCfg.SubmissionRatePerSec = envFloat("SUBMISSION_RATE_PER_SEC", 5)
	monitorCfg.SubmissionBurst = envInt("SUBMISSION_BURST", 10)
	monitor := resource.NewMonitor(monitorCfg)
	monitor.Start()
	defer monitor.Stop()

	broadcaster := events.NewBroadcaster(envInt("EVENT_BUFFER_SIZE", 64))

	legacy := queuemanager.NewManager(queuemanager.Config{
		MaxWorkers:   maxSlots,
		MaxQueueSize: envInt("LEGACY_MAX_QUEUE_DEPTH", 1000),
	})

	schedCfg := scheduler.DefaultConfig()
	schedCfg.MaxQueueDepth = envInt("MAX_QUEUE_DEPTH", 1000)
	if os.Getenv("SCHEDULER_MODE") == "priority" {
		schedCfg.Mode = scheduler.ModePriority
	}
	sched := scheduler.NewScheduler(schedCfg, monitor)

	facadeCfg := queuefacade.Config{
		UseNewQueueSystem: envBool("QUEUE_USE_NEW_SYSTEM", false),
		ShadowMode:        envBool("QUEUE_SHADOW_MODE", false),
		RolloutPercent:    envInt("QUEUE_ROLLOUT_PERCENT", 0),
	}
	facade := queuefacade.New(facadeCfg, legacyAsSystem(legacy), sched)

	registry := strategy.NewRegistry(nil)

	var agent orchestrator.AgentRunner = &agentrunner.NoopRunner{Model: os.Getenv("AGENT_MODEL")}
	if cmd := os.Getenv("AGENT_COMMAND"); cmd != "" {
		agent = &agentrunner.CommandRunner{Command: cmd, Timeout: 5 * time.Minute}
	}

	var verifier orchestrator.VerificationRunner = &verification.NoopRunner{}
	if cmd := os.Getenv("VERIFY_COMMAND"); cmd != "" {
		verifier = &verification.CommandRunner{Levels: []verification.Level{{Name: "L0", Command: cmd}}}
	}

	var wsStore orchestrator.WorkspaceStore
	if os.Getenv("WORKSPACE_USE_GIT") == "true" {
		wsStore = workspace.NewGitWorkspace(os.Getenv("WORKSPACE_DIR"))
	} else {
		wsStore = workspace.NewLocalDirWorkspace(os.Getenv("WORKSPACE_DIR"))
	}

	retryMgr := retry.NewManager(retry.DefaultConfig(), func(workOrderID string, attempt int) {
		log.Printf("controlplane: retry attempt %d scheduled for %s", attempt, workOrderID)
	})

	svc := service.New(service.Deps{
		Persist:   persist,
		Monitor:   monitor,
		Sched:     sched,
		Legacy:    legacy,
		Facade:    facade,
		Broadcast: broadcaster,
		Registry:  registry,
		Profiles:  profileStore,
		RetryMgr:  retryMgr,
		Agent:     agent,
		Verifier:  verifier,
		WSStore:   wsStore,
		DefaultStrategy: service.DefaultStrategy{
			Mode: strategy.Mode(envOr("DEFAULT_STRATEGY_MODE", "fixed")),
			Config: map[string]any{
				"maxIterations": envInt("DEFAULT_MAX_ITERATIONS", 10),
			},
		},
	})
	svc.Start(ctx)
	defer svc.Stop()

	if envBool("AUTO_PROCESSOR_ENABLED", false) {
		apCfg := autoprocessor.DefaultConfig()
		apCfg.PollInterval = time.Duration(envInt("AUTO_PROCESSOR_POLL_MS", 2000)) * time.Millisecond
		apCfg.StaggerDelay = time.Duration(envInt("AUTO_PROCESSOR_STAGGER_MS", 0)) * time.Millisecond
		apCfg.MinAvailableMemoryFrac = envFloat("AUTO_PROCESSOR_MIN_AVAILABLE_MEMORY_FRAC", 0)
		ap := autoprocessor.New(apCfg, monitor, svc.ListQueued, svc.StartIfQueued)
		ap.Start(ctx)
		defer ap.Stop()
		log.Println("controlplane: auto-processor enabled")
	}

	requireAuth := os.Getenv("JWT_SECRET") != ""
	router := httpapi.NewRouter(httpapi.Options{
		Service:        svc,
		Store:          persist,
		Facade:         facade,
		Broadcast:      broadcaster,
		Monitor:        monitor,
		RequireAuth:    requireAuth,
		AllowedOrigins: []string{"*"},
	})

	gateway := wsgateway.New(broadcaster, requireAuth)
	go gateway.Run(ctx)

	mux := chi.NewRouter()
	mux.Mount("/", router)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws", gateway)

	addr := ":" + envOr("PORT", "8080")
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("Work Order Control Plane listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("controlplane: listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("controlplane: shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("controlplane: graceful shutdown error: %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// buildPersistence selects a durable backend based on PERSISTENCE_BACKEND
// (file|redis|postgres), defaulting to the file backend so the process has
// no external dependency out of the box.
func buildPersistence(ctx context.Context, dataDir string) (persistence.Store, func()) {
	switch os.Getenv("PERSISTENCE_BACKEND") {
	case "redis":
		addr := envOr("REDIS_ADDR", "localhost:6379")
		client := redis.NewClient(&redis.Options{Addr: addr})
		log.Printf("controlplane: using redis persistence backend at %s", addr)
		return persistence.NewRedisBackend(client), func() { _ = client.Close() }
	case "postgres":
		connString := os.Getenv("POSTGRES_URL")
		backend, err := persistence.NewPostgresBackend(ctx, connString)
		if err != nil {
			log.Fatalf("controlplane: postgres backend: %v", err)
		}
		if err := backend.EnsureSchema(ctx); err != nil {
			log.Fatalf("controlplane: postgres schema: %v", err)
		}
		log.Println("controlplane: using postgres persistence backend")
		return backend, backend.Close
	default:
		backend, err := persistence.NewFileBackend(dataDir)
		if err != nil {
			log.Fatalf("controlplane: file backend: %v", err)
		}
		log.Printf("controlplane: using file persistence backend at %s", dataDir)
		return backend, nil
	}
}

// legacyAsSystem adapts queuemanager.Manager (whose Position returns raw
// ints) to queuefacade.System, matching the facade's own NewLegacyAdapter
// shape.
func legacyAsSystem(legacy *queuemanager.Manager) queuefacade.System {
	return queuefacade.NewLegacyAdapter(legacy.Enqueue, func(id string) (workorder.QueuePosition, bool) {
		position, ahead, ok := legacy.Position(id)
		if !ok {
			return workorder.QueuePosition{}, false
		}
		return workorder.QueuePosition{
			Position: position,
			Ahead:    ahead,
			State:    workorder.QueuePositionWaiting,
		}, true
	})
}
