package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"defeatthememe-backend/internal/app"
	"defeatthememe-backend/internal/config"
	"defeatthememe-backend/internal/logger"

	"github.com/gin-gonic/gin"
)

func init() {
	logger.Init()
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config.yaml (default: config.local.yaml or config.yaml)")
	flag.Parse()

	log := logger.Component("server")
	log.Info("🎮 Starting DefeatTheMeme backend...")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	config.AppConfig = cfg
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := app.NewServiceContainer(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize services")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           container.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("🌐 HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server start error")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("⚠️  HTTP shutdown did not complete cleanly")
	}
	container.Close(shutdownCtx)

	log.Info("Done.")
}
