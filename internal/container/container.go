package container

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"index-rebalancer/adapter"
	"index-rebalancer/amm"
	"index-rebalancer/config"
	"index-rebalancer/infrastructure/logger"
	"index-rebalancer/infrastructure/monitor"
	"index-rebalancer/internal/feed"
	"index-rebalancer/internal/keeper"
	"index-rebalancer/internal/recorder"
	"index-rebalancer/ledger"
	"index-rebalancer/rebalance"
	"index-rebalancer/splitter"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor

	// 宿主与交易场所
	host      *ledger.Host
	registry  *adapter.Registry
	factories map[string]*amm.Factory
	quoter    *keeper.PoolQuoter

	// 核心服务
	index      *ledger.Index
	controller *rebalance.Controller
	recorder   recorder.Recorder
	hub        *feed.Hub
	keeper     *keeper.Keeper

	// HTTP服务器
	metricsServer *http.Server
	feedServer    *http.Server

	lifecycle *LifecycleManager
}

// New 读取配置文件创建容器
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	c := NewFromConfig(cfg)
	c.configPath = configPath
	return c, nil
}

// NewFromConfig 使用已校验的配置创建容器，不启用热更新。
func NewFromConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       &cfg,
		factories: make(map[string]*amm.Factory),
		lifecycle: NewLifecycleManager(nil),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildVenues(); err != nil {
		return fmt.Errorf("build venues failed: %w", err)
	}
	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}
	if err := c.ApplySettings(*c.cfg); err != nil {
		return fmt.Errorf("apply manager settings failed: %w", err)
	}
	if err := c.buildKeeper(); err != nil {
		return fmt.Errorf("build keeper failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	c.lifecycle = NewLifecycleManager(c.logger)
	c.monitor = monitor.New(monitor.DefaultConfig())
	c.recorder, err = recorder.New(c.cfg.Recorder.Driver, c.cfg.Recorder.Path)
	if err != nil {
		return fmt.Errorf("open recorder failed: %w", err)
	}
	if c.cfg.Feed.Enabled {
		c.hub = feed.NewHub(c.logger.Logger, c.monitor)
	}
	c.logger.Info("infrastructure built")
	return nil
}

// buildVenues 在宿主上部署进程内的工厂、路由与拆单器，并注册全部适配器。
func (c *Container) buildVenues() error {
	c.host = ledger.NewHost(time.Now)
	c.registry = adapter.NewRegistry()
	c.quoter = keeper.NewPoolQuoter(c.host)
	module := c.cfg.Module

	// 先部署 uniswapV2，拆单器依赖它们
	for _, v := range c.cfg.Venues {
		if v.Kind != config.VenueUniswapV2 {
			continue
		}
		factory := amm.NewFactory(v.Name, config.MustAddress(v.Factory))
		for _, p := range v.Pools {
			if _, err := factory.Seed(c.host,
				config.MustAddress(p.TokenA), config.MustAddress(p.TokenB),
				config.MustAmount(p.ReserveA), config.MustAmount(p.ReserveB)); err != nil {
				return fmt.Errorf("seed %s pool: %w", v.Name, err)
			}
		}
		router := config.MustAddress(v.Router)
		if err := c.host.Deploy(router, amm.NewRouter(router, factory)); err != nil {
			return fmt.Errorf("deploy %s router: %w", v.Name, err)
		}
		if err := c.registry.Add(module, v.Name, adapter.NewUniswapV2Adapter(router)); err != nil {
			return err
		}
		c.factories[v.Name] = factory
		c.quoter.Register(v.Name, factory)
	}

	for _, v := range c.cfg.Venues {
		addr := config.MustAddress(v.Router)
		var a adapter.IndexExchangeAdapter
		switch v.Kind {
		case config.VenueUniswapV2:
			continue
		case config.VenueSplitter:
			split := splitter.New(addr, c.factories[v.Families[0]], c.factories[v.Families[1]])
			if err := c.host.Deploy(addr, split); err != nil {
				return fmt.Errorf("deploy %s splitter: %w", v.Name, err)
			}
			c.quoter.Register(v.Name, split)
			a = adapter.NewUniswapV2Adapter(addr)
		case config.VenueUniswapV3:
			a = adapter.NewUniswapV3Adapter(addr)
		case config.VenueBalancerV2:
			a = adapter.NewBalancerV2Adapter(addr)
		case config.VenueZeroEx:
			a = adapter.NewZeroExAdapter(addr)
		default:
			return fmt.Errorf("unknown venue kind %q", v.Kind)
		}
		if err := c.registry.Add(module, v.Name, a); err != nil {
			return err
		}
	}

	c.logger.Info(fmt.Sprintf("venues built: %v", c.registry.Names(module)))
	return nil
}

func (c *Container) buildCoreServices() error {
	ic := c.cfg.Index
	positions := make([]ledger.Position, 0, len(ic.Positions))
	for _, p := range ic.Positions {
		positions = append(positions, ledger.Position{
			Component: config.MustAddress(p.Component),
			Unit:      config.MustAmount(p.Unit),
		})
	}
	idx, err := ledger.NewIndex(ledger.IndexConfig{
		Address:            config.MustAddress(ic.Address),
		Manager:            config.MustAddress(ic.Manager),
		TotalSupply:        config.MustAmount(ic.TotalSupply),
		PositionMultiplier: config.MustAmount(ic.PositionMultiplier),
		Positions:          positions,
	}, c.host)
	if err != nil {
		return fmt.Errorf("create index failed: %w", err)
	}
	c.index = idx

	sinks := []rebalance.ReceiptSink{c.recorder}
	if c.hub != nil {
		sinks = append(sinks, c.hub)
	}
	c.controller, err = rebalance.New(rebalance.Config{
		Module:       c.cfg.Module,
		StagingAsset: config.MustAddress(c.cfg.Staging),
		Resolver:     c.registry,
		Logger:       c.logger.Logger,
		Observer:     c.monitor,
		Sinks:        sinks,
	})
	if err != nil {
		return fmt.Errorf("create controller failed: %w", err)
	}
	if err := c.controller.Initialize(idx.Manager(), idx); err != nil {
		return err
	}
	if err := c.startRound(); err != nil {
		return err
	}

	c.logger.LogRebalance("index_initialized", idx.Address().Hex(), map[string]interface{}{
		"components": len(positions),
		"supply":     ic.TotalSupply,
	})
	return nil
}

// startRound 按配置中的目标开启一轮再平衡；未配置目标的现有成分保持当前单位。
func (c *Container) startRound() error {
	targets := make(map[common.Address]*big.Int)
	for _, cc := range c.cfg.Components {
		if cc.Target != "" {
			targets[config.MustAddress(cc.Address)] = config.MustAmount(cc.Target)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	current := c.index.Components()
	oldTargets := make([]*big.Int, len(current))
	for i, comp := range current {
		if t, ok := targets[comp]; ok {
			oldTargets[i] = t
			delete(targets, comp)
		} else {
			oldTargets[i] = c.index.RealUnit(comp)
		}
	}
	var newComps []common.Address
	var newTargets []*big.Int
	for _, cc := range c.cfg.Components {
		addr := config.MustAddress(cc.Address)
		if t, ok := targets[addr]; ok {
			newComps = append(newComps, addr)
			newTargets = append(newTargets, t)
		}
	}
	return c.controller.StartRebalance(c.index.Manager(), c.index.Address(), newComps, newTargets, oldTargets, c.index.PositionMultiplier())
}

// ApplySettings 以管理人身份写入执行参数、交易员白名单与抬高比例。热更新复用此入口；
// 目标只在启动时生效。
func (c *Container) ApplySettings(cfg config.AppConfig) error {
	mgr, index := c.index.Manager(), c.index.Address()

	var comps, withExchange []common.Address
	var maxes []*big.Int
	var periods []time.Duration
	var names []string
	var data [][]byte
	for _, cc := range cfg.Components {
		addr := config.MustAddress(cc.Address)
		comps = append(comps, addr)
		maxes = append(maxes, config.MustAmount(cc.MaxSize))
		periods = append(periods, cc.CoolOff)
		d, err := config.HexData(cc.ExchangeData)
		if err != nil {
			return err
		}
		data = append(data, d)
		if cc.Exchange != "" {
			withExchange = append(withExchange, addr)
			names = append(names, cc.Exchange)
		}
	}
	if len(comps) > 0 {
		if err := c.controller.SetTradeMaximums(mgr, index, comps, maxes); err != nil {
			return err
		}
		if err := c.controller.SetCoolOffPeriods(mgr, index, comps, periods); err != nil {
			return err
		}
		if err := c.controller.SetExchangeData(mgr, index, comps, data); err != nil {
			return err
		}
	}
	if len(withExchange) > 0 {
		if err := c.controller.SetExchanges(mgr, index, withExchange, names); err != nil {
			return err
		}
	}

	// 白名单以配置为准：新增的置 true，移除的置 false
	wanted := make(map[common.Address]bool)
	for _, t := range cfg.Traders {
		wanted[config.MustAddress(t)] = true
	}
	if cfg.Keeper.Enabled && cfg.Keeper.Trader != "" {
		wanted[config.MustAddress(cfg.Keeper.Trader)] = true
	}
	existing, err := c.controller.AllowedTraders(index)
	if err != nil {
		return err
	}
	var traders []common.Address
	var statuses []bool
	for _, t := range existing {
		if !wanted[t] {
			traders, statuses = append(traders, t), append(statuses, false)
		}
	}
	for t := range wanted {
		traders, statuses = append(traders, t), append(statuses, true)
	}
	if len(traders) > 0 {
		if err := c.controller.SetTraderStatus(mgr, index, traders, statuses); err != nil {
			return err
		}
	}
	if err := c.controller.SetAnyoneTrade(mgr, index, cfg.AnyoneTrade); err != nil {
		return err
	}
	if cfg.RaiseTargetPercentage != "" {
		if err := c.controller.SetRaiseTargetPercentage(mgr, index, config.MustAmount(cfg.RaiseTargetPercentage)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) buildKeeper() error {
	if !c.cfg.Keeper.Enabled {
		return nil
	}
	var err error
	c.keeper, err = keeper.New(c.controller, c.quoter, keeper.Config{
		Schedule:    c.cfg.Keeper.Schedule,
		Trader:      config.MustAddress(c.cfg.Keeper.Trader),
		SlippageBps: c.cfg.Keeper.SlippageBps,
		Logger:      c.logger.Logger,
		Observer:    c.monitor,
	})
	return err
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Enabled {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}
	if c.hub != nil {
		mux := http.NewServeMux()
		mux.Handle(c.cfg.Feed.Path, c.hub)
		c.lifecycle.Register(&httpServerComponent{
			name:    "feed_server",
			handler: mux,
			addr:    c.cfg.Feed.Addr,
			logger:  c.logger,
			server:  &c.feedServer,
			onStop:  c.hub.Close,
		})
	}
	if c.keeper != nil {
		c.lifecycle.Register(&keeperComponent{keeper: c.keeper})
	}
	if c.cfg.HotReload.Enabled && c.configPath != "" {
		c.lifecycle.Register(&watcherComponent{
			watcher: config.Watcher{Path: c.configPath, Cooldown: c.cfg.HotReload.Cooldown, Logger: c.logger.Logger},
			apply:   c.reload,
		})
	}
}

func (c *Container) reload(cfg config.AppConfig) {
	if err := c.ApplySettings(cfg); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "hot_reload"})
		return
	}
	c.logger.LogRebalance("settings_reloaded", c.index.Address().Hex(), map[string]interface{}{
		"components": len(cfg.Components),
		"traders":    len(cfg.Traders),
	})
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	if c.recorder != nil {
		if cerr := c.recorder.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if c.logger != nil {
		_ = c.logger.Close()
	}
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Controller() *rebalance.Controller { return c.controller }
func (c *Container) Index() *ledger.Index              { return c.index }
func (c *Container) Host() *ledger.Host                { return c.host }
func (c *Container) Registry() *adapter.Registry       { return c.registry }
func (c *Container) Monitor() *monitor.Monitor         { return c.monitor }
func (c *Container) Keeper() *keeper.Keeper            { return c.keeper }
func (c *Container) Recorder() recorder.Recorder       { return c.recorder }
