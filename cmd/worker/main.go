package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/honux/lolbuff/internal/worker/dispatchlink"
	"github.com/honux/lolbuff/internal/worker/session"
	"github.com/honux/lolbuff/internal/workerconfig"
)

// Worker processes do not retry internally: any terminal error (upstream
// handshake/login failure, a dead supervisor probe, a dispatcher-issued
// kill/force-reconnect record) exits the process and leaves restarting
// it to an external supervisor.
func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg, err := workerconfig.Load()
	if err != nil {
		sugar.Fatalf("Failed to load configuration: %v", err)
	}

	link, cred, err := dispatchlink.Dial(cfg.Dispatcher.Address, sugar)
	if err != nil {
		sugar.Fatalf("Failed to connect to dispatcher at %s: %v", cfg.Dispatcher.Address, err)
	}
	defer link.Close()
	sugar.Infow("Connected to dispatcher", "address", cfg.Dispatcher.Address, "username", cred.Username)

	s := session.New(cfg, cred, link, sugar)

	if err := s.Run(context.Background()); err != nil {
		var wrongVersion *session.ErrWrongClientVersion
		if errors.As(err, &wrongVersion) {
			sugar.Infow("Upstream rejected client version", "expected", wrongVersion.CorrectVersion)
			return
		}
		sugar.Fatalw("Session ended", "error", err)
	}

	sugar.Info("Worker exited properly")
}
