package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dronesim_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dronesim_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Метрики симуляции
	SimulationTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dronesim_ticks_total",
			Help: "Total number of clock ticks by outcome",
		},
		[]string{"outcome"}, // advanced, completed, noop
	)

	SimulationTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dronesim_tick_duration_seconds",
			Help:    "Duration of a single traversal tick in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		},
	)

	SegmentsCrossed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dronesim_segments_crossed_total",
			Help: "Total number of waypoint boundaries crossed",
		},
	)

	DistanceCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dronesim_distance_cache_lookups_total",
			Help: "Segment length cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)

	SimulationStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dronesim_status",
			Help: "Current simulation status (0 = idle, 1 = running, 2 = completed)",
		},
	)

	SimulationWaypoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dronesim_waypoints",
			Help: "Number of waypoints in the current route",
		},
	)

	SimulationWaypointIndex = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dronesim_waypoint_index",
			Help: "Index of the segment currently being traversed",
		},
	)

	LifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dronesim_lifecycle_transitions_total",
			Help: "Total number of lifecycle requests by action and result",
		},
		[]string{"action", "result"}, // result: applied, noop
	)

	SubscriberDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dronesim_subscriber_drops_total",
			Help: "Total number of snapshots dropped for slow subscribers",
		},
	)

	// WebSocket метрики
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dronesim_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dronesim_websocket_messages_out_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)

	WebSocketErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dronesim_websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
	)

	// MQTT метрики
	MQTTMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dronesim_mqtt_messages_received_total",
			Help: "Total number of MQTT command messages received",
		},
		[]string{"action"},
	)

	MQTTMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dronesim_mqtt_messages_published_total",
			Help: "Total number of MQTT telemetry messages published",
		},
		[]string{"status"}, // success, error
	)

	MQTTParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dronesim_mqtt_parse_errors_total",
			Help: "Total number of MQTT command parse errors",
		},
	)

	MQTTConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dronesim_mqtt_connection_status",
			Help: "MQTT connection status (1 = connected, 0 = disconnected)",
		},
	)

	// Redis метрики
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dronesim_redis_operation_duration_seconds",
			Help:    "Duration of Redis operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	RedisOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dronesim_redis_operation_errors_total",
			Help: "Total number of Redis operation errors",
		},
		[]string{"operation"},
	)

	// MySQL Batch Writer метрики
	MySQLBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dronesim_mysql_batch_size",
			Help:    "Size of MySQL telemetry batch inserts",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		},
	)

	MySQLBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dronesim_mysql_batch_duration_seconds",
			Help:    "Duration of MySQL batch operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	MySQLQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dronesim_mysql_queue_size",
			Help: "Current size of the telemetry writer queue",
		},
	)

	MySQLBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dronesim_mysql_batches_total",
			Help: "Total number of MySQL batches processed",
		},
		[]string{"status"}, // success, error, dropped
	)

	MySQLRecordsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dronesim_mysql_records_processed_total",
			Help: "Total number of telemetry records written to MySQL",
		},
	)

	// Общие метрики приложения
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dronesim_app_info",
			Help: "Application information",
		},
		[]string{"version", "geometry"},
	)

	// Database connection status
	MySQLConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dronesim_mysql_connection_status",
			Help: "MySQL connection status (1 = connected, 0 = disconnected)",
		},
	)

	RedisConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dronesim_redis_connection_status",
			Help: "Redis connection status (1 = connected, 0 = disconnected)",
		},
	)
)

// SetAppInfo устанавливает информацию о версии приложения
func SetAppInfo(version, geometry string) {
	AppInfo.WithLabelValues(version, geometry).Set(1)
}
