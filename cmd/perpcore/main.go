package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest"

	"perpcore/internal/cli"
	"perpcore/internal/config"
	"perpcore/internal/handler"
	"perpcore/internal/svc"
)

const (
	restoreTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

var configFile = flag.String("f", "etc/perpcore.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	logx.MustSetup(cfg.Log)
	if cfg.Env != "prod" {
		logx.DisableStat()
	}
	cli.LogConfigSummary(cfg)

	svcCtx := svc.MustNewServiceContext(*cfg)
	defer svcCtx.Close()

	restoreCtx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	if err := svcCtx.Restore(restoreCtx); err != nil {
		logx.Errorf("restore state: %v", err)
	}
	cancel()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := rest.MustNewServer(cfg.RestConf)
	handler.RegisterHandlers(server, svcCtx)

	svcCtx.Start(ctx)
	go func() {
		fmt.Printf("Starting server at %s:%d...\n", cfg.Host, cfg.Port)
		server.Start()
	}()

	<-ctx.Done()
	logx.Info("shutdown signal received")

	done := make(chan struct{})
	go func() {
		server.Stop()
		close(done)
	}()
	select {
	case <-done:
		logx.Info("server stopped")
	case <-time.After(shutdownTimeout):
		logx.Error("shutdown timeout exceeded, forcing exit")
	}
}
