package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts dispatched chat commands by command and outcome code.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailypair_commands_total",
		Help: "Total chat commands handled by command and outcome",
	}, []string{"command", "outcome"})

	// PairingsCreated counts pairings created by kind (draw, wish, rob).
	PairingsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailypair_pairings_created_total",
		Help: "Total pairings created by kind",
	}, []string{"kind"})

	// Breakups counts breakups by result.
	Breakups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailypair_breakups_total",
		Help: "Total breakup attempts by result",
	}, []string{"result"})

	// GatewayRequests counts membership gateway calls by endpoint and result.
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailypair_gateway_requests_total",
		Help: "Total membership gateway requests by endpoint and result",
	}, []string{"endpoint", "result"})

	// DocumentErrors counts failed document loads and saves.
	DocumentErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailypair_document_errors_total",
		Help: "Total document store errors by document and operation",
	}, []string{"document", "operation"})

	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailypair_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// ConfirmationsExpired counts advanced-enable requests that timed out.
	ConfirmationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dailypair_confirmations_expired_total",
		Help: "Total advanced-feature confirmations that expired",
	})

	// CooldownsSwept counts expired cooldown entries removed by sweeps.
	CooldownsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dailypair_cooldowns_swept_total",
		Help: "Total expired cooldown entries removed",
	})

	// NoticeSubscribers is the gauge of connected notice subscribers.
	NoticeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dailypair_notice_subscribers",
		Help: "Number of connected notice websocket subscribers",
	})

	// NoticeDrops counts notices dropped due to backpressure by reason.
	NoticeDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailypair_notice_drops_total",
		Help: "Total notices dropped due to backpressure",
	}, []string{"reason"})
)
