package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 调度循环每轮耗时（秒）
	SchedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Duration of one scheduler evaluation pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	// 每轮评估的结果分布
	UrgencyEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urgency_evaluations_total",
			Help: "Total number of subtask urgency evaluations",
		},
		[]string{"level"}, // level: none, due, overdue
	)

	// 触发的干预
	InterventionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intervention_count",
			Help: "Total number of interventions triggered by the scheduler",
		},
		[]string{"mode", "level", "result"}, // result: sent, deduped, failed
	)

	// 用户 check-in 计数
	CheckInCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_count",
			Help: "Total number of recorded check-ins",
		},
		[]string{"status"},
	)

	// Decomposer / Motivator 调用延迟（毫秒）
	LLMCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_latency_ms",
			Help:    "Text generation call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"purpose", "status"},
	)

	// 拆解结果：parsed / fallback
	BreakdownCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakdown_count",
			Help: "Total number of goal breakdowns by outcome",
		},
		[]string{"outcome"},
	)

	// 乐观锁冲突重试
	VersionConflictCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_version_conflict_count",
			Help: "Total number of optimistic concurrency conflicts on subtask updates",
		},
		[]string{"operation"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"operation"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "result"},
	)
)

func ObserveSchedulerTick(duration time.Duration) {
	SchedulerTickDuration.Observe(duration.Seconds())
}

func IncrementUrgencyEvaluation(level string) {
	UrgencyEvaluations.WithLabelValues(level).Inc()
}

func IncrementIntervention(mode, level, result string) {
	InterventionCount.WithLabelValues(mode, level, result).Inc()
}

func IncrementCheckIn(status string) {
	CheckInCount.WithLabelValues(status).Inc()
}

func RecordLLMCallLatency(purpose, status string, duration time.Duration) {
	LLMCallLatency.WithLabelValues(purpose, status).Observe(float64(duration.Milliseconds()))
}

func IncrementBreakdown(outcome string) {
	BreakdownCount.WithLabelValues(outcome).Inc()
}

func IncrementVersionConflict(operation string) {
	VersionConflictCount.WithLabelValues(operation).Inc()
}

func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func IncrementSlowQuery(operation string) {
	SlowQueryCount.WithLabelValues(operation).Inc()
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func RecordMQConsumeLatency(routingKey, result string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, result).Observe(float64(duration.Milliseconds()))
}
