package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/prediction-tournament/internal/bootstrap"
	httptransport "github.com/richardliu001/prediction-tournament/internal/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. config, logger, postgres, redis, kafka
	deps, err := bootstrap.Open(ctx, bootstrap.ConfigPath(), true)
	if err != nil {
		panic(err)
	}
	defer deps.Close()
	log := deps.Log

	// 2. services
	wallet, funding, tournament := deps.Services()

	// 3. gin router
	router := httptransport.NewRouter(httptransport.Services{
		Wallet:     wallet,
		Funding:    funding,
		Tournament: tournament,
	}, deps.Config.RateLimit, log)

	// 4. serve
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	log.Infow("tournament server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("listen: %v", err)
	}
	log.Info("tournament server stopped")
}
