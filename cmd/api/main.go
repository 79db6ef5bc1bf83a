package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"certwatch/internal/api"
	"certwatch/internal/conf"
	"certwatch/internal/database"
	"certwatch/internal/prober"
	"certwatch/internal/repository"
	"certwatch/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := conf.LoadConfig("")
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logrus.SetLevel(level)
	}

	mongoClient, err := database.Connect(cfg.MongoDB)
	if err != nil {
		logrus.Fatalf("database error: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())

	db := mongoClient.Database(cfg.MongoDB.Database)

	// Repo -> scheduler -> handler
	registry := repository.NewMongoDomainRegistry(db)
	records := repository.NewMongoRecordStore(db)

	certProber := prober.New(cfg.Scan.ProbeTimeout)

	sched := scheduler.New(registry, records, certProber, scheduler.SystemClock, scheduler.Config{
		Schedule:        cfg.Scan.Schedule,
		Concurrency:     cfg.Scan.Concurrency,
		ProbesPerSecond: cfg.Scan.ProbesPerSecond,
		SweepTimeout:    cfg.Scan.SweepTimeout,
	})
	if err := sched.Start(); err != nil {
		logrus.Fatalf("scheduler error: %v", err)
	}
	defer sched.Stop()

	handler := api.NewCertHandler(registry, records, sched, scheduler.SystemClock)

	r := gin.Default()
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	handler.RegisterRoutes(r.Group("/api/v1"))

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logrus.Infof("server starting on %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server startup failed: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("server shutdown: %v", err)
	}
}
