package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はアプリケーションのメトリクスを管理する
type Metrics struct {
	// HTTPリクエストの総数（method, path, status_code）
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPリクエストのレイテンシ（method, path）
	HTTPRequestDuration *prometheus.HistogramVec

	// 座席ブロック試行の総数（status: blocked, partially_blocked, unavailable, error）
	SeatBlocksTotal *prometheus.CounterVec

	// 予約確定の総数（status: confirmed, fare_mismatch, expired, conflict, error）
	ConfirmationsTotal *prometheus.CounterVec

	// 座席ロック操作の所要時間（operation: acquire/release/extend, status）
	SeatLockDuration *prometheus.HistogramVec

	// 期限切れ回収の処理件数（kind: lock, block, transaction, idempotency）
	SweepReclaimedTotal *prometheus.CounterVec

	// ブロック中のチケット数
	ActiveBlockedTickets prometheus.Gauge
}

// New は新しいMetricsインスタンスを作成し、デフォルトレジストリに登録する
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry は指定したレジストリにメトリクスを登録する
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		SeatBlocksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seat_blocks_total",
				Help: "Total number of seat block attempts",
			},
			[]string{"status"},
		),
		ConfirmationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_confirmations_total",
				Help: "Total number of booking confirmation attempts",
			},
			[]string{"status"},
		),
		SeatLockDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seat_lock_duration_seconds",
				Help:    "Time spent on seat lock operations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "status"},
		),
		SweepReclaimedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweep_reclaimed_total",
				Help: "Entities reclaimed by the expiry sweeper",
			},
			[]string{"kind"},
		),
		ActiveBlockedTickets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_blocked_tickets",
				Help: "Current number of blocked tickets awaiting payment",
			},
		),
	}

	// レジストリに登録
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SeatBlocksTotal,
		m.ConfirmationsTotal,
		m.SeatLockDuration,
		m.SweepReclaimedTotal,
		m.ActiveBlockedTickets,
	)

	return m
}

// デフォルトのメトリクスインスタンス
var defaultMetrics *Metrics

// Init はデフォルトのメトリクスインスタンスを初期化する
func Init() *Metrics {
	defaultMetrics = New()
	return defaultMetrics
}

// Get はデフォルトのメトリクスインスタンスを返す
// Init 前の呼び出し（テスト等）には独立レジストリのインスタンスを返す
func Get() *Metrics {
	if defaultMetrics == nil {
		defaultMetrics = NewWithRegistry(prometheus.NewRegistry())
	}
	return defaultMetrics
}
