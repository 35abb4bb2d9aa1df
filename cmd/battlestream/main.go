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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/battlestream/internal/battle"
	"github.com/lk2023060901/battlestream/internal/catalog"
	"github.com/lk2023060901/battlestream/internal/gateway"
	"github.com/lk2023060901/battlestream/internal/market"
	"github.com/lk2023060901/battlestream/internal/metrics"
	"github.com/lk2023060901/battlestream/internal/router"
	"github.com/lk2023060901/battlestream/internal/scheduler"
	"github.com/lk2023060901/battlestream/internal/sim"
	"github.com/lk2023060901/battlestream/pkg/config"
	"github.com/lk2023060901/battlestream/pkg/idgen"
	"github.com/lk2023060901/battlestream/pkg/logger"
	"github.com/lk2023060901/battlestream/pkg/websocket"
)

// Config 服务配置
type Config struct {
	Log logger.Config `mapstructure:"log"`

	// 监听地址
	ListenAddr string `mapstructure:"listen_addr"`
	// 运维端口（/metrics 与 /healthz）
	OpsAddr string `mapstructure:"ops_addr"`
	// 机器 ID，用于会话 ID 生成
	MachineID uint16 `mapstructure:"machine_id"`

	// WebSocket 配置
	WebSocket websocket.ServerConfig `mapstructure:"websocket"`

	// 模拟引擎配置
	Sim sim.Config `mapstructure:"sim"`

	// 对战生命周期配置
	Battle battle.Config `mapstructure:"battle"`

	// 路由器配置
	Router router.Config `mapstructure:"router"`

	// 自动排战配置
	Scheduler scheduler.Config `mapstructure:"scheduler"`

	// 预置图鉴条目
	Encounters []*catalog.Encounter `mapstructure:"encounters"`
}

func defaultConfig() Config {
	return Config{
		Log:        *logger.DefaultConfig(),
		ListenAddr: ":8080",
		OpsAddr:    ":9100",
		WebSocket:  *websocket.DefaultServerConfig(),
		Sim:        *sim.DefaultConfig(),
		Battle:     *battle.DefaultConfig(),
		Router:     *router.DefaultConfig(),
		Scheduler:  *scheduler.DefaultConfig(),
	}
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// 1. 加载配置
	cfg := defaultConfig()
	if err := config.Load(*configPath, &cfg); err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	l, err := logger.New(&cfg.Log)
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = l.Sync() }()

	if err := run(&cfg, l); err != nil {
		l.Error("service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *Config, l logger.Logger) error {
	// 3. 初始化指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New("battlestream", registry)

	// 4. 初始化 ID 生成器
	gen, err := idgen.NewSonyflake(cfg.MachineID)
	if err != nil {
		return err
	}

	// 5. 初始化图鉴与市场（内存实现）
	cat := catalog.NewMemory(cfg.Encounters...)
	mkt := market.NewMemory()

	// 6. 初始化模拟引擎
	engine := sim.NewMemoryEngine(&cfg.Sim, l)
	defer engine.Close()

	// 7. 初始化对战生命周期管理器与路由器
	manager, err := battle.NewManager(&cfg.Battle, engine, cat, gen, l, m)
	if err != nil {
		return err
	}
	r := router.New(&cfg.Router, manager, l, m)
	manager.AttachPublisher(r)

	// 8. 初始化网关与 WebSocket 服务端
	gw := gateway.New(manager, r, mkt, cat, l, m)
	srv, err := websocket.NewServer(&cfg.WebSocket, gw, l)
	if err != nil {
		return err
	}

	// 9. 初始化自动排战
	sched, err := scheduler.New(&cfg.Scheduler, manager, cat, l)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// 事件泵
	g.Go(func() error {
		return manager.Run(ctx)
	})

	// WebSocket 服务
	mux := http.NewServeMux()
	mux.Handle("/ws", srv.Handler())
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	g.Go(func() error {
		l.Info("websocket server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// 运维端口
	opsMux := http.NewServeMux()
	opsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	opsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	opsServer := &http.Server{
		Addr:    cfg.OpsAddr,
		Handler: opsMux,
	}
	g.Go(func() error {
		l.Info("ops server listening", "addr", cfg.OpsAddr)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// 自动排战
	if err := sched.Start(); err != nil {
		return err
	}

	// 收到退出信号后优雅关停
	g.Go(func() error {
		<-ctx.Done()

		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = srv.CloseWithContext(shutdownCtx)
		_ = httpServer.Shutdown(shutdownCtx)
		_ = opsServer.Shutdown(shutdownCtx)
		return nil
	})

	l.Info("battlestream started")
	return g.Wait()
}
