// Command seed-results writes sample game results to the configured entity store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"defeatthememe-backend/internal/app"
	"defeatthememe-backend/internal/config"
	"defeatthememe-backend/internal/logger"
	"defeatthememe-backend/internal/services"
)

func init() {
	logger.Init()
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config.yaml")
	flag.Parse()

	log := logger.Component("seed-results")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.NewEntityStore(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to create entity store")
	}
	defer store.Close()
	if err := store.Connect(ctx); err != nil {
		log.WithError(err).Fatal("Failed to connect to entity store")
	}

	svc := services.NewGameResultService(store, nil, nil, cfg.GolemDB.BTL, log)
	saved, err := svc.SeedSampleData(ctx)
	for _, r := range saved {
		fmt.Printf("%s  player=%s  kills=%d  score=%d\n", r.EntityKey, r.PlayerAddress, r.TotalKills, r.Score)
	}
	if err != nil {
		log.WithError(err).Fatal("Seeding stopped early")
	}
	log.Infof("🎮 Created %d sample game results", len(saved))
}
