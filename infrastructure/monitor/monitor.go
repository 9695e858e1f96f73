package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor 再平衡指标收集器，实现 rebalance.Observer。
type Monitor struct {
	registry *prometheus.Registry

	// 交易指标
	trades   *prometheus.CounterVec
	notional *prometheus.HistogramVec
	delta    *prometheus.GaugeVec
	rejects  *prometheus.CounterVec

	// 轮次
	rounds prometheus.Counter

	// keeper
	scans        prometheus.Counter
	scanDuration prometheus.Histogram
	readyTrades  prometheus.Gauge

	// 推送
	feedClients prometheus.Gauge
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "rebalance",
	}
}

// New 在独立的 registry 上创建指标
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help}
	}

	return &Monitor{
		registry: reg,
		trades: factory.NewCounterVec(
			prometheus.CounterOpts(opts("trades_total", "成交笔数")),
			[]string{"component", "side", "exchange"},
		),
		notional: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "trade_notional",
				Help:      "单笔成交的成分数量",
				Buckets:   prometheus.ExponentialBuckets(0.01, 10, 9),
			},
			[]string{"side"},
		),
		delta: factory.NewGaugeVec(
			prometheus.GaugeOpts(opts("component_delta_units", "成交后距离目标的剩余单位")),
			[]string{"component"},
		),
		rejects: factory.NewCounterVec(
			prometheus.CounterOpts(opts("trade_rejects_total", "被拒绝的交易，按错误分类")),
			[]string{"reason"},
		),
		rounds: factory.NewCounter(prometheus.CounterOpts(opts("rounds_total", "开始的再平衡轮次"))),
		scans:  factory.NewCounter(prometheus.CounterOpts(opts("keeper_scans_total", "keeper 扫描次数"))),
		scanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "keeper_scan_seconds",
			Help:      "单次扫描耗时（秒）",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		readyTrades: factory.NewGauge(prometheus.GaugeOpts(opts("keeper_ready_components", "最近一次扫描中可交易的成分数"))),
		feedClients: factory.NewGauge(prometheus.GaugeOpts(opts("feed_clients", "当前 WebSocket 订阅数"))),
	}
}

// ObserveTrade 记录一笔成交
func (m *Monitor) ObserveTrade(component, side, exchange string, notional, remaining float64) {
	m.trades.WithLabelValues(component, side, exchange).Inc()
	m.notional.WithLabelValues(side).Observe(notional)
	m.delta.WithLabelValues(component).Set(remaining)
}

// ObserveReject 记录一次拒绝
func (m *Monitor) ObserveReject(reason string) {
	m.rejects.WithLabelValues(reason).Inc()
}

// ObserveRound 记录新一轮开始
func (m *Monitor) ObserveRound() {
	m.rounds.Inc()
}

// ObserveScan 记录一次 keeper 扫描
func (m *Monitor) ObserveScan(seconds float64, ready int) {
	m.scans.Inc()
	m.scanDuration.Observe(seconds)
	m.readyTrades.Set(float64(ready))
}

func (m *Monitor) FeedClientConnected()    { m.feedClients.Inc() }
func (m *Monitor) FeedClientDisconnected() { m.feedClients.Dec() }

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
