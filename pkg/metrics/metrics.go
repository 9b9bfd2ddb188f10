package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"operation"},
	)

	// 事务结果计数
	TransactionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_transaction_total",
			Help: "Total number of store transactions by operation and outcome",
		},
		[]string{"operation", "result"}, // result: commit, rollback
	)

	// 实体变更计数
	EntityMutationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_mutation_total",
			Help: "Total number of project/task mutations",
		},
		[]string{"entity", "action"},
	)

	// 级联删除的行数
	CascadeDeletedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_deleted_rows_total",
			Help: "Rows removed by cascading deletes",
		},
		[]string{"table"},
	)

	// Outbox 发布计数
	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Outbox events published to MQ",
		},
		[]string{"routing_key", "status"}, // status: sent, failed, skipped
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)
)

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录一次慢查询
func IncrementSlowQuery(operation string) {
	SlowQueryCount.WithLabelValues(operation).Inc()
}

// RecordTransaction 记录事务结果
func RecordTransaction(operation string, err error) {
	result := "commit"
	if err != nil {
		result = "rollback"
	}
	TransactionCount.WithLabelValues(operation, result).Inc()
}

// IncrementMutation 增加实体变更计数
func IncrementMutation(entity, action string) {
	EntityMutationCount.WithLabelValues(entity, action).Inc()
}

// AddCascadeDeleted 记录级联删除行数
func AddCascadeDeleted(table string, n int) {
	CascadeDeletedRows.WithLabelValues(table).Add(float64(n))
}

// IncrementOutboxPublish 增加 outbox 发布计数
func IncrementOutboxPublish(routingKey, status string) {
	OutboxPublishCount.WithLabelValues(routingKey, status).Inc()
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}
