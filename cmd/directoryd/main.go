package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"keymesh/internal/directory"
)

func main() {
	_ = godotenv.Load()

	logger := logrus.New()
	if level, err := logrus.ParseLevel(os.Getenv("DIRECTORYD_LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}

	listen := os.Getenv("DIRECTORYD_LISTEN")
	if listen == "" {
		listen = ":8420"
	}

	var storage directory.Storage
	if addr := os.Getenv("DIRECTORYD_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("DIRECTORYD_REDIS_PASSWORD"),
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Fatal("redis unreachable")
		}
		storage = directory.NewRedisStorage(client)
		logger.WithField("addr", addr).Info("using redis storage")
	} else {
		storage = directory.NewMemoryStorage()
		logger.Warn("using in-memory storage; state is lost on exit")
	}

	srv := &http.Server{
		Addr:         listen,
		Handler:      directory.NewServer(storage, logger).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithField("listen", listen).Info("directory listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown incomplete")
	}
}
