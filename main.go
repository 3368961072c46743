package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"picopark/server"
)

// Picopark 入口：启动 HTTP + WebSocket 服务，房间注册表与快照广播
func main() {
	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: load .env: %v\n", err)
	}

	cmd := &cli.Command{
		Name:  "picopark",
		Usage: "room and session sync server for co-op platformer clients",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", Sources: cli.EnvVars("PICOPARK_CONFIG")},
			&cli.StringFlag{Name: "addr", Usage: "listen address, e.g. :8765", Sources: cli.EnvVars("PICOPARK_ADDR")},
			&cli.StringFlag{Name: "static-dir", Usage: "serve web client from this directory", Sources: cli.EnvVars("PICOPARK_STATIC_DIR")},
			&cli.StringFlag{Name: "public-url", Usage: "base URL encoded in join QR codes", Sources: cli.EnvVars("PICOPARK_PUBLIC_URL")},
			&cli.IntFlag{Name: "tick-rate", Usage: "snapshot broadcasts per second", Sources: cli.EnvVars("PICOPARK_TICK_RATE")},
			&cli.StringFlag{Name: "room-id-style", Usage: "token or word", Sources: cli.EnvVars("PICOPARK_ROOM_ID_STYLE")},
			&cli.BoolFlag{Name: "allow-late-join", Usage: "allow joining rooms whose game has started", Sources: cli.EnvVars("PICOPARK_ALLOW_LATE_JOIN")},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Sources: cli.EnvVars("PICOPARK_LOG_LEVEL")},
			&cli.StringFlag{Name: "log-file", Usage: "log file path, empty for stdout only", Sources: cli.EnvVars("PICOPARK_LOG_FILE")},
			&cli.BoolFlag{Name: "log-stdout", Usage: "also log to stdout", Sources: cli.EnvVars("PICOPARK_LOG_STDOUT")},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig 默认值 → YAML → 命令行/环境变量
func loadConfig(cmd *cli.Command) (server.Config, error) {
	cfg, err := server.LoadConfig(cmd.String("config"))
	if err != nil {
		return cfg, err
	}
	if cmd.IsSet("addr") {
		cfg.Addr = cmd.String("addr")
	}
	if cmd.IsSet("static-dir") {
		cfg.StaticDir = cmd.String("static-dir")
	}
	if cmd.IsSet("public-url") {
		cfg.PublicURL = cmd.String("public-url")
	}
	if cmd.IsSet("tick-rate") {
		cfg.TickRate = int(cmd.Int("tick-rate"))
	}
	if cmd.IsSet("room-id-style") {
		cfg.RoomIDStyle = cmd.String("room-id-style")
	}
	if cmd.IsSet("allow-late-join") {
		cfg.RejectJoinAfterStart = !cmd.Bool("allow-late-join")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-file") {
		cfg.Log.File = cmd.String("log-file")
	}
	if cmd.IsSet("log-stdout") {
		cfg.Log.Stdout = cmd.Bool("log-stdout")
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := server.InitLogger(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer server.SyncLogger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := &server.Metrics{}
	reg := server.NewRegistry(cfg, stats)
	sched := server.NewScheduler(reg, cfg, stats)
	go sched.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", server.NewWSHandler(cfg, reg, stats))
	server.NewAdmin(cfg, reg, sched, stats).Register(mux)
	if cfg.StaticDir != "" {
		// 前后端分离：将 / 映射到静态资源目录
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		server.Log.Infow("picopark listening", "addr", cfg.Addr, "tick_rate", cfg.TickRate, "max_players", cfg.MaxPlayers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	// 优雅退出：停止接收新连接，通知所有房间关闭
	server.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		server.Log.Warnw("http shutdown", "error", err)
	}
	reg.Shutdown()
	return nil
}
