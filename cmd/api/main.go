package main

import (
    "context"
    "errors"
    "flag"
    "log"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "amburoute/internal/api"
    "amburoute/internal/buildinfo"
    "amburoute/internal/config"
)

func main() {
    cfgPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config (optional)")
    flag.Parse()

    cfg, err := config.Load(*cfgPath)
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }
    srvDeps, err := api.NewServer(cfg)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }

    srv := &http.Server{
        Addr:              cfg.Server.Addr,
        Handler:           srvDeps.Routes(),
        ReadHeaderTimeout: 5 * time.Second,
    }

    // Start webhook worker
    worker := srvDeps.NewWebhookWorker()
    worker.Start()

    go func() {
        log.Printf("API %s listening on %s", buildinfo.Version, cfg.Server.Addr)
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Fatalf("server error: %v", err)
        }
    }()

    stop := make(chan os.Signal, 1)
    signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
    <-stop
    log.Printf("shutting down")
    ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    if err := srv.Shutdown(ctx); err != nil {
        log.Printf("shutdown: %v", err)
    }
    // async runs emit their terminal webhooks before the worker's last pass
    srvDeps.Wait()
    worker.Shutdown()
    if err := srvDeps.Close(); err != nil {
        log.Printf("close store: %v", err)
    }
}
