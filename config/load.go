package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"index-rebalancer/infrastructure/logger"
	"index-rebalancer/units"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env                   string            `yaml:"env"`
	Module                string            `yaml:"module"`
	Staging               string            `yaml:"staging"` // 中转资产地址（WETH）
	Index                 IndexConfig       `yaml:"index"`
	Venues                []VenueConfig     `yaml:"venues"`
	Components            []ComponentConfig `yaml:"components"`
	Traders               []string          `yaml:"traders"`
	AnyoneTrade           bool              `yaml:"anyoneTrade"`
	RaiseTargetPercentage string            `yaml:"raiseTargetPercentage"` // "0.1" 即 10%
	Keeper                KeeperConfig      `yaml:"keeper"`
	Log                   logger.Config     `yaml:"log"`
	Metrics               MetricsConfig     `yaml:"metrics"`
	Recorder              RecorderConfig    `yaml:"recorder"`
	Feed                  FeedConfig        `yaml:"feed"`
	HotReload             HotReloadConfig   `yaml:"hotReload"`
}

type IndexConfig struct {
	Address            string           `yaml:"address"`
	Manager            string           `yaml:"manager"`
	TotalSupply        string           `yaml:"totalSupply"`
	PositionMultiplier string           `yaml:"positionMultiplier"` // 缺省为 "1"
	Positions          []PositionConfig `yaml:"positions"`
}

type PositionConfig struct {
	Component string `yaml:"component"`
	Unit      string `yaml:"unit"`
}

// 场所类型
const (
	VenueUniswapV2  = "uniswapV2"
	VenueSplitter   = "splitter"
	VenueUniswapV3  = "uniswapV3"
	VenueBalancerV2 = "balancerV2"
	VenueZeroEx     = "zeroEx"
)

// VenueConfig 描述一个交易场所。uniswapV2 会在进程内部署工厂与路由并注入初始储备；
// splitter 引用两个 uniswapV2 场所；其余类型只注册适配器，调用目标由外部提供。
type VenueConfig struct {
	Name     string       `yaml:"name"`
	Kind     string       `yaml:"kind"`
	Factory  string       `yaml:"factory"`
	Router   string       `yaml:"router"` // 路由 / 金库 / 代理地址
	Families []string     `yaml:"families"`
	Pools    []PoolConfig `yaml:"pools"`
}

type PoolConfig struct {
	TokenA   string `yaml:"tokenA"`
	TokenB   string `yaml:"tokenB"`
	ReserveA string `yaml:"reserveA"`
	ReserveB string `yaml:"reserveB"`
}

// ComponentConfig 是单个成分的执行参数与初始目标。
type ComponentConfig struct {
	Address      string        `yaml:"address"`
	Target       string        `yaml:"target"`
	MaxSize      string        `yaml:"maxSize"`
	CoolOff      time.Duration `yaml:"coolOff"`
	Exchange     string        `yaml:"exchange"`
	ExchangeData string        `yaml:"exchangeData"` // 0x 开头的十六进制
}

type KeeperConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Schedule    string `yaml:"schedule"` // cron 表达式或 @every 30s
	SlippageBps int64  `yaml:"slippageBps"`
	Trader      string `yaml:"trader"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type RecorderConfig struct {
	Driver string `yaml:"driver"` // sqlite | noop
	Path   string `yaml:"path"`
}

type FeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

type HotReloadConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides the manager and keeper trader from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("REBALANCER_MANAGER"); v != "" {
		cfg.Index.Manager = v
	}
	if v := os.Getenv("REBALANCER_TRADER"); v != "" {
		cfg.Keeper.Trader = v
	}
	return cfg, Validate(cfg)
}

func (c *AppConfig) applyDefaults() {
	if c.Module == "" {
		c.Module = "rebalance"
	}
	if c.Index.PositionMultiplier == "" {
		c.Index.PositionMultiplier = "1"
	}
	if c.Keeper.Schedule == "" {
		c.Keeper.Schedule = "@every 30s"
	}
	if c.Recorder.Driver == "" {
		c.Recorder.Driver = "noop"
	}
	if c.Feed.Path == "" {
		c.Feed.Path = "/ws"
	}
	if c.Log.Level == "" {
		c.Log = logger.DefaultConfig()
	}
	if c.HotReload.Cooldown <= 0 {
		c.HotReload.Cooldown = 5 * time.Second
	}
}

// Address 解析十六进制地址。
func Address(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// Amount 解析十进制数量为 18 位精度整数，空串视为 0。
func Amount(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(big.Int), nil
	}
	return units.Parse(s)
}

// HexData 解析 0x 开头的十六进制数据。
func HexData(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex data %q: %w", s, err)
	}
	return b, nil
}

// MustAddress 用于已经通过 Validate 的配置。
func MustAddress(s string) common.Address {
	a, err := Address(s)
	if err != nil {
		panic(err)
	}
	return a
}

// MustAmount 用于已经通过 Validate 的配置。
func MustAmount(s string) *big.Int {
	v, err := Amount(s)
	if err != nil {
		panic(err)
	}
	return v
}
