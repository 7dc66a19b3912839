package main

import (
    "context"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.uber.org/zap"

    "eosbridge/pkg/client"
    "eosbridge/pkg/config"
    "eosbridge/pkg/gateway"
    "eosbridge/pkg/observability"
    "eosbridge/pkg/transport"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
        return 1
    }

    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
        return 1
    }
    defer func() { _ = logger.Sync() }()

    zap.L().Info("eosbridge started", zap.String("app", cfg.AppName))
    zap.L().Info("effective configuration", zap.Any("config", cfg))

    reg := prometheus.NewRegistry()
    gw, err := gateway.New(gateway.Options{
        Transport:   cfg.Transport(),
        LogIncoming: cfg.Log.Incoming,
        LogOutgoing: cfg.Log.Outgoing,
        Registry:    reg,
    })
    if err != nil {
        zap.L().Error("failed to build gateway", zap.Error(err))
        return 1
    }
    defer gw.Close()

    unsubStatus := gw.OnStatus(func(st transport.Status) {
        zap.L().Info("transport status",
            zap.String("transport", st.Kind.String()),
            zap.String("state", st.State.String()),
            zap.Int("failures", st.ConsecutiveFailures))
    })
    defer unsubStatus()

    if cfg.Metrics.Enabled {
        mux := http.NewServeMux()
        mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
        srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
        go func() {
            zap.L().Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Listen))
            if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
                zap.L().Error("metrics endpoint failed", zap.Error(err))
            }
        }()
        defer func() { _ = srv.Close() }()
    }

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    rpcTimeout := time.Duration(cfg.RPC.TimeoutMS) * time.Millisecond
    c := client.New(gw, rpcTimeout)
    res := c.Connect(ctx, client.ConnectOptions{
        ClientID:           cfg.RPC.ClientID,
        PreferredProtocols: cfg.RPC.PreferredProtocols,
    })
    zap.L().Info("console handshake",
        zap.String("status", string(res.Status)),
        zap.String("version", res.Version),
        zap.Strings("protocols", res.AvailableProtocols),
        zap.String("selected", res.SelectedProtocol),
        zap.String("protocol_status", string(res.ProtocolStatus)))

    // Keepalive pings double as a reachability report in the logs.
    go func() {
        t := time.NewTicker(30 * time.Second)
        defer t.Stop()
        for {
            select {
            case <-ctx.Done():
                return
            case <-t.C:
                pr := c.Ping(ctx, client.PingOptions{Echo: cfg.AppName})
                if pr.Status != client.StatusOK {
                    zap.L().Warn("console unreachable", zap.String("status", string(pr.Status)))
                    continue
                }
                zap.L().Debug("console ping", zap.Int64p("roundtrip_ms", pr.RoundtripMs))
            }
        }
    }()

    zap.L().Info("bridge is running; press Ctrl+C to exit")
    sig := make(chan os.Signal, 1)
    signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
    <-sig
    zap.L().Info("shutting down")
    return 0
}
