package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration HTTP 请求耗时，按路由模板、方法与状态码划分。
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "produse_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// DispatchCyclesTotal 已执行的提醒派发周期数。
	DispatchCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "produse_dispatch_cycles_total",
		Help: "Number of reminder dispatch cycles executed.",
	})

	// DispatchCycleDuration 单个派发周期耗时。
	DispatchCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "produse_dispatch_cycle_duration_seconds",
		Help:    "Duration of a reminder dispatch cycle.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	// DispatchRemindersTotal 按结果统计已处理的提醒: delivered / failed / duplicate / error。
	DispatchRemindersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "produse_dispatch_reminders_total",
		Help: "Reminders processed by the dispatcher by result.",
	}, []string{"result"})

	// ChannelAttemptsTotal 按渠道统计投递尝试: delivered / failed。
	ChannelAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "produse_channel_attempts_total",
		Help: "Delivery attempts per channel and result.",
	}, []string{"channel", "result"})

	// ChatRelayWaitDuration 聊天转发限流等待时间。
	ChatRelayWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "produse_chat_relay_wait_seconds",
		Help:    "Time spent waiting on the chat relay throttle.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	// ResendRequestsTotal 验证邮件重发结果: sent / cooldown / blocked / not_found / active / error。
	ResendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "produse_resend_requests_total",
		Help: "Verification resend requests by outcome.",
	}, []string{"outcome"})

	// RateLimitRejectedTotal 被令牌桶拒绝的请求数。
	RateLimitRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "produse_ratelimit_rejected_total",
		Help: "Requests rejected by the token bucket limiter.",
	}, []string{"route"})
)
