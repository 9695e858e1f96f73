package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"index-rebalancer/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/rebalancer.yaml", "配置文件路径")
	scanOnStart := flag.Bool("scanOnStart", false, "启动后立即执行一次 keeper 扫描")
	flag.Parse()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("构建组件失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	if *scanOnStart && c.Keeper() != nil {
		if _, err := c.Keeper().Scan(ctx); err != nil {
			log.Printf("首次扫描失败: %v", err)
		}
	}

	// systemd Type=notify：组件就绪后上报
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("sd_notify ready failed: %v", err)
	} else if ok {
		log.Printf("sd_notify: ready")
	}
	go watchdog(ctx, c)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err := c.Stop(); err != nil {
		log.Printf("停止时出错: %v", err)
		os.Exit(1)
	}
}

// watchdog 在启用 WatchdogSec 时按一半间隔上报存活，健康检查失败时不上报。
func watchdog(ctx context.Context, c *container.Container) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				log.Printf("health check failed: %v", err)
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
