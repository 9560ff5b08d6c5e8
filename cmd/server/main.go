package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/support-pilot/internal/app"
	"github.com/suPer8Hu/support-pilot/internal/config"
	"github.com/suPer8Hu/support-pilot/internal/httpapi"
	"github.com/suPer8Hu/support-pilot/internal/httpapi/handlers"
	"github.com/suPer8Hu/support-pilot/internal/logger"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.LogMode == "prod" || cfg.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal("startup failed", "err", err)
	}
	defer a.Close()

	var queue handlers.InboundQueue
	if a.Publisher != nil {
		queue = a.Publisher
	}
	h := handlers.NewHandler(cfg, a.Service, a.Policies, queue, log.With("component", "http"))
	r := httpapi.NewRouter(h, log, a.Registry)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server started", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen failed", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "err", err)
	}
}
