package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_active_connections",
		Help: "Active websocket connections",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Users with a registered live connection",
	})
	MessagesPersisted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_persisted_total",
		Help: "Messages durably stored, by kind (room|direct)",
	}, []string{"kind"})
	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_deliveries_total",
		Help: "Events queued to live connections, by event type",
	}, []string{"type"})
	DroppedClients = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_slow_clients_closed_total",
		Help: "Connections closed because their send buffer was full",
	})
	OpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_operation_errors_total",
		Help: "Rejected operations, by operation and error kind",
	}, []string{"op", "kind"})
	StoreLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_store_op_seconds",
		Help:    "Durable store operation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

var initOnce sync.Once

// Init регистрирует коллекторы в глобальном реестре. Повторный вызов безопасен.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			Connections,
			OnlineUsers,
			MessagesPersisted,
			Deliveries,
			DroppedClients,
			OpErrors,
			StoreLatency,
		)
	})
}

// ObserveStore записывает длительность операции хранилища: defer metrics.ObserveStore("op", time.Now()).
func ObserveStore(op string, start time.Time) {
	StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
