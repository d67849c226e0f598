package nodemgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/node-manager/cmd/server"
	"github.com/node-manager/internal/cluster"
	"github.com/node-manager/internal/control"
	"github.com/node-manager/internal/engine"
	"github.com/node-manager/internal/manager"
	"github.com/node-manager/pkg/collector"
	"github.com/node-manager/pkg/config"
	"github.com/node-manager/pkg/logger"
	"github.com/node-manager/pkg/metrics"
	"github.com/node-manager/pkg/registers"
	"github.com/node-manager/pkg/signal"
	"github.com/node-manager/pkg/util"
)

const enableProcess = true

func runManager(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// 1，初始化日志
	if _, err := logger.InitLogger(&cfg.Log); err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.SetDefaultComponent("node-manager")

	// 2，banner
	util.PrintBanner(os.Stdout, "node-manager", "blue",
		fmt.Sprintf("version %s | cluster %s | node %s | http %s",
			Version, cfg.Manager.ClusterName, cfg.Manager.NodeID, cfg.Server.Addr))
	logger.Info("log initialization successful", zap.String("path", cfg.Log.Path),
		zap.String("level", cfg.Log.Level), zap.String("format", cfg.Log.Format))

	// 3，自监控指标
	promReg := metrics.NewRegistry(enableProcess)
	factory := metrics.NewMetricFactory(metrics.NewPromRegistry(promReg))

	// 4，健康时间序列
	healthReg, err := registers.NewHealthRegistry(cfg, factory, collector.NewHostSource())
	if err != nil {
		return err
	}

	// 5，集群视图
	view, closeCluster, err := newClusterView(cfg)
	if err != nil {
		_ = healthReg.Close()
		return err
	}

	// 6，周期采集
	scheduler, err := registers.InitCapture(ctx, cfg, healthReg, view)
	if err != nil {
		_ = closeCluster()
		return err
	}

	// 7，引擎管理与 reactor
	engines := engine.NewManager(engine.ManagerConfig{
		Executable:      cfg.Engine.Executable,
		LogDir:          cfg.Engine.LogDir,
		ControlIP:       cfg.Engine.ControlIP,
		ControlPort:     cfg.Engine.ControlPort,
		GracefulTimeout: cfg.Engine.GracefulTimeout,
		KillTimeout:     cfg.Engine.KillTimeout,
		Connect: control.ConnectOptions{
			MaxTries:       cfg.Engine.ConnectRetries,
			MaxElapsedTime: cfg.Engine.ConnectTimeout,
			InitialBackoff: control.DefaultConnectOptions.InitialBackoff,
		},
		OutputMaxSize:    cfg.Engine.OutputMaxSize,
		OutputMaxBackups: cfg.Engine.OutputMaxBackups,
	}, engine.WithMetrics(factory.NewEngineMetrics()))

	ctl := manager.NewController(view, healthReg, engines,
		manager.WithPollTimeout(cfg.Manager.PollTimeout),
		manager.WithStatusInterval(cfg.Manager.StatusInterval))

	reactorCtx, stopReactor := context.WithCancel(ctx)
	reactorDone := make(chan struct{})
	go func() {
		defer close(reactorDone)
		_ = ctl.Run(reactorCtx)
	}()

	// 8，HTTP
	httpServer := server.NewHTTPServer(cfg.Server, ctl, promReg, server.WithMetrics(factory.NewHTTPMetrics()))
	if err := httpServer.Start(); err != nil {
		stopReactor()
		<-reactorDone
		_ = scheduler.Shutdown(context.Background())
		_ = closeCluster()
		return fmt.Errorf("start HTTP server failed: %w", err)
	}

	// 关闭顺序：HTTP → 引擎 → reactor → 采集 → 集群
	return signal.WaitForShutdown(ctx, shutdownTimeout(cfg), func(ctx context.Context) error {
		logger.Info("starting graceful shutdown...")
		errHTTP := httpServer.Shutdown(ctx)
		errEngines := ctl.Shutdown(ctx)
		stopReactor()
		<-reactorDone
		errCapture := scheduler.Shutdown(ctx)
		errCluster := closeCluster()
		return errors.Join(errHTTP, errEngines, errCapture, errCluster)
	})
}

// newClusterView 启用 gossip 时成员来自 memberlist，否则只有本节点
func newClusterView(cfg *config.Config) (*cluster.View, func() error, error) {
	name, node, leader := cfg.Manager.ClusterName, cfg.Manager.NodeID, cfg.Manager.Leader
	if !cfg.Cluster.Enable {
		return cluster.NewView(name, cluster.Static{Node: node}, leader), func() error { return nil }, nil
	}

	g, err := cluster.NewGossip(name, node, cluster.GossipConfig{
		BindAddr:       cfg.Cluster.BindAddr,
		BindPort:       cfg.Cluster.BindPort,
		Seeds:          cfg.Cluster.Seeds,
		GossipInterval: cfg.Cluster.GossipInterval,
		ProbeInterval:  cfg.Cluster.ProbeInterval,
		ProbeTimeout:   cfg.Cluster.ProbeTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("join cluster %s: %w", name, err)
	}
	view := cluster.NewView(name, g, leader)
	g.OnChange(func() { view.Observe() })
	return view, g.Close, nil
}

// shutdownTimeout 足够让每个引擎走完 terminate → kill
func shutdownTimeout(cfg *config.Config) time.Duration {
	return cfg.Server.WriteTimeout + cfg.Engine.GracefulTimeout + cfg.Engine.KillTimeout + 5*time.Second
}
