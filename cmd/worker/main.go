package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/craftfast/sandbox-backend/config"
	"github.com/craftfast/sandbox-backend/internal/bootstrap"
	"github.com/craftfast/sandbox-backend/internal/db"
	"github.com/craftfast/sandbox-backend/internal/sandbox/backup"
	cronjob "github.com/craftfast/sandbox-backend/internal/sandbox/cron"
	"github.com/craftfast/sandbox-backend/internal/sandbox/lock"
	"github.com/craftfast/sandbox-backend/internal/sandbox/provider"
	"github.com/craftfast/sandbox-backend/internal/sandbox/repository"
	"github.com/craftfast/sandbox-backend/internal/sandbox/secrets"
	"github.com/craftfast/sandbox-backend/internal/sandbox/service"
)

// The worker runs the periodic sandbox sweeps (idle-pause, health)
// separately from the API process so a slow sweep never competes with
// request handling.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	rdb, err := bootstrap.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("open redis: %v", err)
	}
	defer rdb.Close()

	store, err := backup.NewStore(ctx, cfg.Backup)
	if err != nil {
		log.Fatalf("open backup store: %v", err)
	}

	repo := repository.NewProjectRepo(database.Pool)

	writer := backup.NewWriter(store, repo, cfg.Backup)
	writer.Start()
	defer writer.Close()

	cipher, err := secrets.New(cfg.Secrets.Key)
	if err != nil {
		log.Fatalf("init secrets cipher: %v", err)
	}

	providerAPI := service.NewProviderAPI(provider.NewClient(cfg.Provider))
	restorer := service.NewRestorer(providerAPI, repo, store, cfg.Provider.Template)
	prober := service.NewProber(cipher, cfg.Sandbox)
	cache := service.NewStatusCache(rdb, cfg.Sandbox.StatusCacheTTL)
	locker := lock.NewLocker(rdb)

	manager := service.NewManager(providerAPI, repo, locker, writer, restorer, prober, cache, cfg.Sandbox, cfg.Provider.Template)
	health := service.NewHealthMonitor(providerAPI, repo, store, manager)

	scheduler := cronjob.NewScheduler(repo, manager, health, cfg.Sandbox.IdlePauseThreshold)
	scheduler.Start()
	defer scheduler.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("worker shutting down")
}
