// Package metrics Prometheus 指标：金库命令、事件、资金流与 HTTP/gRPC 请求
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "optionvault"

// VaultMetrics 指标集合
type VaultMetrics struct {
	// 命令计数，result 为空串表示成功，否则为错误类别
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	EventsTotal     *prometheus.CounterVec

	// 累计收取的权利金与行权支付（储备资产计）
	PremiumCollected prometheus.Counter
	PayoutTotal      prometheus.Counter
	CurrentEpoch     prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GRPCRequestsTotal   *prometheus.CounterVec

	OutboxRelayed prometheus.Counter
	OutboxFailed  prometheus.Counter
}

// New 创建指标实例，需调用 Register 注册
func New() *VaultMetrics {
	return &VaultMetrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Vault commands by operation and result",
		}, []string{"op", "result"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Vault command latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed vault events by type",
		}, []string{"type"}),
		PremiumCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "premium_collected_total",
			Help:      "Premium collected in reserve asset units",
		}),
		PayoutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exercise_payout_total",
			Help:      "Exercise payouts in reserve asset units",
		}),
		CurrentEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_epoch",
			Help:      "Current bootstrapped epoch",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "gRPC requests by method and code",
		}, []string{"method", "code"}),
		OutboxRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "relayed_total",
			Help:      "Outbox messages delivered to Kafka",
		}),
		OutboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "failed_total",
			Help:      "Outbox delivery failures",
		}),
	}
}

// Register 注册全部指标
func (m *VaultMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.CommandsTotal,
		m.CommandDuration,
		m.EventsTotal,
		m.PremiumCollected,
		m.PayoutTotal,
		m.CurrentEpoch,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
		m.OutboxRelayed,
		m.OutboxFailed,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *VaultMetrics) ObserveCommand(op string, duration time.Duration, errKind string) {
	result := errKind
	if result == "" {
		result = "ok"
	}
	m.CommandsTotal.WithLabelValues(op, result).Inc()
	m.CommandDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *VaultMetrics) IncEvent(eventType string) { m.EventsTotal.WithLabelValues(eventType).Inc() }

func (m *VaultMetrics) AddPremium(amount float64) {
	if amount > 0 {
		m.PremiumCollected.Add(amount)
	}
}

func (m *VaultMetrics) AddPayout(amount float64) {
	if amount > 0 {
		m.PayoutTotal.Add(amount)
	}
}

func (m *VaultMetrics) SetCurrentEpoch(epoch uint64) { m.CurrentEpoch.Set(float64(epoch)) }

// RecordHTTPRequest 记录 HTTP 请求
func (m *VaultMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordGRPCRequest 记录 gRPC 请求
func (m *VaultMetrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
}

// RecordOutbox 记录一轮中继的成功与失败数
func (m *VaultMetrics) RecordOutbox(relayed, failed int) {
	m.OutboxRelayed.Add(float64(relayed))
	m.OutboxFailed.Add(float64(failed))
}

// NewServer 指标 HTTP 服务，由调用方负责启动与关闭
func NewServer(addr, path string, gatherer prometheus.Gatherer) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
