package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/honux/lolbuff/internal/db/mongodb"
	"github.com/honux/lolbuff/internal/db/redis"
	"github.com/honux/lolbuff/internal/dispatcher/audit"
	"github.com/honux/lolbuff/internal/dispatcher/ingress"
	"github.com/honux/lolbuff/internal/dispatcher/ops"
	"github.com/honux/lolbuff/internal/dispatcher/presence"
	"github.com/honux/lolbuff/internal/dispatcher/registry"
	"github.com/honux/lolbuff/internal/dispatcherconfig"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg, err := dispatcherconfig.Load()
	if err != nil {
		sugar.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pairs := make([]registry.Credential, len(cfg.Credential.Pairs))
	for i, p := range cfg.Credential.Pairs {
		pairs[i] = registry.Credential{Username: p.Username, Password: p.Password}
	}
	credentials := registry.NewCredentialPool(pairs)
	workers := registry.NewWorkerRegistry()
	tasks := registry.NewTaskRegistry(time.Duration(cfg.Dispatch.TaskDeadlineMs)*time.Millisecond, sugar)

	auditLog, mongoClient := setupAudit(ctx, cfg, sugar)
	mirror, redisClient := setupPresence(ctx, cfg, sugar)

	opsServer := ops.New(tasks, workers, cfg.JWT.Secret, sugar).WithComponents(mongoClient, redisClient)

	tasks.OnOutcome = func(taskID uint32, dest, op, outcome string) {
		auditLog.Record(audit.Entry{TaskID: taskID, Destination: dest, Operation: op, Outcome: audit.Outcome(outcome)})
		opsServer.OnTaskOutcome(taskID, dest, op, outcome)
	}

	listeners := &ingress.Listeners{Tasks: tasks, Workers: workers, Credential: credentials, Presence: mirror, Log: sugar}

	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.APIHost, cfg.Server.APIPort)
	apiLn, err := net.Listen("tcp", apiAddr)
	if err != nil {
		sugar.Fatalf("Failed to listen on API address %s: %v", apiAddr, err)
	}
	go func() {
		if err := listeners.ServeAPI(apiLn); err != nil {
			sugar.Errorw("API listener stopped", "error", err)
		}
	}()
	sugar.Infof("API listener started on %s", apiAddr)

	workerAddr := fmt.Sprintf("%s:%d", cfg.Server.WorkerHost, cfg.Server.WorkerPort)
	workerLn, err := net.Listen("tcp", workerAddr)
	if err != nil {
		sugar.Fatalf("Failed to listen on worker address %s: %v", workerAddr, err)
	}
	go func() {
		if err := listeners.ServeWorkers(workerLn); err != nil {
			sugar.Errorw("worker listener stopped", "error", err)
		}
	}()
	sugar.Infof("Worker listener started on %s", workerAddr)

	opsAddr := fmt.Sprintf("%s:%d", cfg.Ops.Host, cfg.Ops.Port)
	opsHTTP := &http.Server{Addr: opsAddr, Handler: opsServer.Handler()}
	go func() {
		if err := opsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Errorw("ops server stopped", "error", err)
		}
	}()
	sugar.Infof("Ops server started on %s", opsAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("Shutting down dispatcher...")
	_ = apiLn.Close()
	_ = workerLn.Close()
	if err := opsHTTP.Shutdown(ctx); err != nil {
		sugar.Errorw("ops server forced to shutdown", "error", err)
	}
	sugar.Info("Dispatcher exited properly")
}

// setupAudit connects the optional Mongo-backed audit trail; a disabled
// or unreachable configuration degrades to a nil *audit.Log, which
// Record treats as a no-op. The circuit-breaker client is also handed
// back so the ops health surface can report on it independently of
// whether the audit log itself is enabled.
func setupAudit(ctx context.Context, cfg *dispatcherconfig.Config, log *zap.SugaredLogger) (*audit.Log, *mongodb.CircuitBreakerClient) {
	if !cfg.MongoDB.Enabled {
		return nil, nil
	}
	client, err := mongodb.CreateClient(ctx, cfg.MongoDB.URI, log)
	if err != nil {
		log.Warnw("audit log disabled: failed to connect to MongoDB", "error", err)
		return nil, nil
	}
	return audit.NewLog(client, cfg.MongoDB.Database, cfg.MongoDB.AuditColl, log), client
}

// setupPresence connects the optional Redis-backed roster mirror; a
// disabled or unreachable configuration degrades to a nil
// *presence.Mirror. The circuit-breaker client is also handed back for
// the ops health surface.
func setupPresence(ctx context.Context, cfg *dispatcherconfig.Config, log *zap.SugaredLogger) (*presence.Mirror, *redis.CircuitBreakerClient) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	breakerClient, err := redis.CreateClient(ctx, cfg.Redis.URI, log)
	if err != nil {
		log.Warnw("presence mirror disabled: failed to connect to Redis", "error", err)
		return nil, nil
	}
	raw, err := redis.Connect(ctx, cfg.Redis.URI, log)
	if err != nil {
		log.Warnw("presence mirror disabled: failed to open raw Redis client", "error", err)
		return nil, breakerClient
	}
	return presence.NewMirror(breakerClient, raw, log), breakerClient
}
