package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zonearena/config"
	"zonearena/server"
)

// ZoneArena 入口：加载配置，启动 HTTP + WebSocket 服务与比赛管理器
func main() {
	var (
		cfgPath string
		envFile string
		addr    string
		logPath string
		level   string
	)
	flag.StringVar(&cfgPath, "config", "", "match config file (TOML); defaults to $ARENA_CONFIG")
	flag.StringVar(&envFile, "env", ".env", "dotenv file with ARENA_* overrides")
	flag.StringVar(&addr, "addr", "", "listen address, overrides the config file")
	flag.StringVar(&logPath, "log", "", "log file, overrides the config file")
	flag.StringVar(&level, "level", "", "log level, overrides the config file")
	flag.Parse()

	cfg, err := config.FromEnv(cfgPath, envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if logPath != "" {
		cfg.Log.Path = logPath
	}
	if level != "" {
		cfg.Log.Level = level
	}
	opts, err := cfg.Options()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// zap 日志写入滚动文件
	if err := server.InitLogger(cfg.Log.Path, cfg.Log.Level); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := server.NewManager(ctx, opts)
	// 预创建一局，客户端不带 match 参数时加入它
	if _, err := mgr.Create(); err != nil {
		server.Log.Fatalf("create match: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", mgr.HandleWS)
	mux.HandleFunc("/admin/config", mgr.HandleAdminConfig)
	mux.HandleFunc("/admin/match", mgr.HandleAdminMatch)
	mux.HandleFunc("/admin/schema", config.HandleSchema)
	mux.Handle("/admin/log", server.LogLevel)
	mux.HandleFunc("/metrics", mgr.HandleMetrics)
	mux.HandleFunc("/matches", mgr.HandleMatches)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		server.Log.Infof("ZoneArena listening on %s (%d ticks/s, %d zones)", cfg.Addr, opts.TickRate, len(opts.Map.Zones))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	<-ctx.Done()
	server.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		server.Log.Warnf("http shutdown: %v", err)
	}
	mgr.Shutdown()
}
