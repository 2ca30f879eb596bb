package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/anthrotech-dev/partners"
	"github.com/anthrotech-dev/partners/auth"
	"github.com/anthrotech-dev/partners/config"
	"github.com/anthrotech-dev/partners/logging"
	"github.com/anthrotech-dev/partners/server"
)

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, _, err := partners.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	if err := partners.Migrate(ctx, db); err != nil {
		log.Fatal("failed to migrate", zap.Error(err))
	}

	srv := server.New(db, auth.NewUsers(db, cfg.AnonymousUserID), log)
	e := srv.Echo(cfg.CORSOrigins...)

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdown); err != nil {
			log.Error("shutdown", zap.Error(err))
		}
	}()

	log.Info("listening", zap.String("addr", cfg.Addr))
	if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server stopped", zap.Error(err))
	}
}
