// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	wsConnections       prometheus.Gauge

	// Turn 指标
	turnsTotal        *prometheus.CounterVec
	turnDuration      *prometheus.HistogramVec
	firstChunkLatency prometheus.Histogram
	firstAudioLatency prometheus.Histogram
	turnTokens        prometheus.Counter

	// 事件与 handler 指标
	streamEventsTotal *prometheus.CounterVec
	handlerTotal      *prometheus.CounterVec
	handlerDuration   *prometheus.HistogramVec
	laneQueueDepth    *prometheus.GaugeVec

	// 重试指标
	streamRetries *prometheus.CounterVec

	// 合成指标
	synthesisTotal    *prometheus.CounterVec
	synthesisDuration *prometheus.HistogramVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 历史写入
	historyWrites   *prometheus.CounterVec
	historyPoolConn *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.wsConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Number of open voice websocket connections",
		},
	)

	// Turn 指标
	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns by outcome",
		},
		[]string{"outcome", "has_errors"},
	)

	c.turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn duration from start to terminal event",
			Buckets:   []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	c.firstChunkLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_first_chunk_seconds",
			Help:      "Latency from turn start to the first model chunk",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
	)

	c.firstAudioLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_first_audio_seconds",
			Help:      "Latency from turn start to the first synthesized audio",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 20},
		},
	)

	c.turnTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_tokens_total",
			Help:      "Estimated tokens of final assistant text",
		},
	)

	// 事件与 handler 指标
	c.streamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Total number of stream events pushed to clients",
		},
		[]string{"type"},
	)

	c.handlerTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_invocations_total",
			Help:      "Total number of tag handler invocations",
		},
		[]string{"tag_type", "lifecycle", "status"},
	)

	c.handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Tag handler invocation duration in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5, 10},
		},
		[]string{"tag_type"},
	)

	c.laneQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lane_queue_depth",
			Help:      "Queued tag events per dispatcher lane",
		},
		[]string{"tag_type"},
	)

	c.streamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_stream_retries_total",
			Help:      "Total number of model stream retries",
		},
		[]string{"provider"},
	)

	// 合成指标
	c.synthesisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_requests_total",
			Help:      "Total number of speech synthesis requests",
		},
		[]string{"status", "from_cache"},
	)

	c.synthesisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Speech synthesis duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"status"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.historyWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_writes_total",
			Help:      "Total number of chat history writes",
		},
		[]string{"role", "status"},
	)

	c.historyPoolConn = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_db_connections",
			Help:      "History database pool connections by state",
		},
		[]string{"state"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🌐 HTTP 指标
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// WebSocketOpened 记录新连接
func (c *Collector) WebSocketOpened() { c.wsConnections.Inc() }

// WebSocketClosed 记录连接关闭
func (c *Collector) WebSocketClosed() { c.wsConnections.Dec() }

// =============================================================================
// 🎙️ Turn 指标
// =============================================================================

// TurnObservation 一个回合的终态观测值
type TurnObservation struct {
	Outcome    string
	HasErrors  bool
	Total      time.Duration
	FirstChunk time.Duration
	FirstAudio time.Duration
	Tokens     int
}

// RecordTurn 记录回合结果；零值延迟不记录
func (c *Collector) RecordTurn(obs TurnObservation) {
	c.turnsTotal.WithLabelValues(obs.Outcome, strconv.FormatBool(obs.HasErrors)).Inc()
	c.turnDuration.WithLabelValues(obs.Outcome).Observe(obs.Total.Seconds())
	if obs.FirstChunk > 0 {
		c.firstChunkLatency.Observe(obs.FirstChunk.Seconds())
	}
	if obs.FirstAudio > 0 {
		c.firstAudioLatency.Observe(obs.FirstAudio.Seconds())
	}
	if obs.Tokens > 0 {
		c.turnTokens.Add(float64(obs.Tokens))
	}
}

// RecordStreamEvent 记录推送给客户端的事件
func (c *Collector) RecordStreamEvent(eventType string) {
	c.streamEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordHandler 记录一次 handler 调用
func (c *Collector) RecordHandler(tagType, lifecycle string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.handlerTotal.WithLabelValues(tagType, lifecycle, status).Inc()
	c.handlerDuration.WithLabelValues(tagType).Observe(duration.Seconds())
}

// SetLaneQueueDepth 记录 lane 队列深度
func (c *Collector) SetLaneQueueDepth(tagType string, depth int) {
	c.laneQueueDepth.WithLabelValues(tagType).Set(float64(depth))
}

// RecordStreamRetry 记录模型流重试
func (c *Collector) RecordStreamRetry(provider string) {
	c.streamRetries.WithLabelValues(provider).Inc()
}

// =============================================================================
// 🔊 合成指标
// =============================================================================

// RecordSynthesis 记录一次语音合成
func (c *Collector) RecordSynthesis(err error, fromCache bool, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.synthesisTotal.WithLabelValues(status, strconv.FormatBool(fromCache)).Inc()
	c.synthesisDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// =============================================================================
// 💾 缓存与历史
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordHistoryWrite 记录历史写入
func (c *Collector) RecordHistoryWrite(role string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.historyWrites.WithLabelValues(role, status).Inc()
}

// SetHistoryPool 记录历史库连接池状态
func (c *Collector) SetHistoryPool(open, inUse, idle int) {
	c.historyPoolConn.WithLabelValues("open").Set(float64(open))
	c.historyPoolConn.WithLabelValues("in_use").Set(float64(inUse))
	c.historyPoolConn.WithLabelValues("idle").Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
