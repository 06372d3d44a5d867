package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"crucible/internal/component"
	"crucible/internal/config"
	"crucible/internal/language"
	"crucible/internal/logger"
	"crucible/internal/scheduler"
	"crucible/internal/tracing"
	"crucible/internal/web"
)

func main() {
	godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())

	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	masterCfg, err := config.GetMasterConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger.Init(cfg.SERVICE_NAME)

	if cfg.TRACE_URL != "" {
		tp, err := tracing.Init(ctx, cfg.SERVICE_NAME, cfg.TRACE_URL)
		if err != nil {
			log.Fatalf("error initialising trace: %v", err)
		}
		defer tp.Shutdown(ctx)
	}

	st, err := component.GetStore(ctx, cfg.STORE_TYPE)
	if err != nil {
		log.Fatalf("store initialization error: %v", err)
	}

	q, err := component.GetQueue(cfg.QUEUE_TYPE)
	if err != nil {
		log.Fatalf("queue initialization error: %v", err)
	}

	blob, err := component.GetStorage(cfg.STORAGE_TYPE)
	if err != nil {
		log.Fatalf("storage initialization error: %v", err)
	}

	c, err := component.GetCache(ctx)
	if err != nil {
		log.Fatalf("cache initialization error: %v", err)
	}

	registry := scheduler.NewRegistry()
	sched := scheduler.NewScheduler(st, q, registry,
		masterCfg.MAX_ATTEMPTS,
		time.Duration(masterCfg.ACK_TIMEOUT_MS)*time.Millisecond,
		time.Duration(masterCfg.HEARTBEAT_GRACE_MS)*time.Millisecond,
	)
	go sched.Run(ctx)

	server := web.NewServer(st, q, blob, c, registry, sched, language.NewRegistry(),
		masterCfg.SUBMIT_RATE, masterCfg.SUBMIT_BURST)

	srv := &http.Server{
		Addr:              ":" + masterCfg.PORT,
		Handler:           otelhttp.NewHandler(server.Router(), "master"),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Log.Info().Str("port", masterCfg.PORT).Msg("master listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Log.Info().Msg("trying to shutdown master gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}

	shutdownCtx, shutdownCancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup

	shutdown := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(shutdownCtx)
		}()
	}
	shutdown(st.ShutDown)
	shutdown(q.ShutDown)
	shutdown(blob.ShutDown)

	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info().Msg("master shutdown gracefully.")
	case <-shutdownCtx.Done():
		logger.Log.Info().Msg("master graceful shutdown timedout..")
	}
}
