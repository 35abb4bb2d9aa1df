// Package metrics 定义流式服务的 Prometheus 指标集合。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 服务指标，所有方法对 nil 接收者安全
type Metrics struct {
	// 对战指标
	ActiveBattles  prometheus.Gauge       // 当前进行中的对战数
	BattlesStarted *prometheus.CounterVec // 对战开始总数（按触发来源）
	BattlesEnded   *prometheus.CounterVec // 对战结束总数（按结束原因）

	// 连接与订阅指标
	Connections prometheus.Gauge // 当前连接数
	Viewers     prometheus.Gauge // 当前订阅关系总数

	// 消息指标
	EventsRouted prometheus.Counter     // 路由成功的事件总数
	SendFailures prometheus.Counter     // 向订阅者投递失败次数
	MessagesIn   *prometheus.CounterVec // 入站消息总数（按消息类型、结果）
}

// New 创建并注册指标
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveBattles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_battles",
			Help:      "Number of battles currently starting or active.",
		}),
		BattlesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "battles_started_total",
			Help:      "Total battles started.",
		}, []string{"trigger"}), // trigger: client/auto_queue
		BattlesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "battles_ended_total",
			Help:      "Total battles ended.",
		}, []string{"reason"}), // reason: timeout/players_won/boss_won
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open client connections.",
		}),
		Viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewers",
			Help:      "Number of live battle subscriptions.",
		}),
		EventsRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_routed_total",
			Help:      "Total battle events fanned out to subscribers.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Total per-connection delivery failures.",
		}),
		MessagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_in_total",
			Help:      "Total inbound client messages.",
		}, []string{"type", "result"}), // result: ok/error
	}

	if reg != nil {
		reg.MustRegister(
			m.ActiveBattles,
			m.BattlesStarted,
			m.BattlesEnded,
			m.Connections,
			m.Viewers,
			m.EventsRouted,
			m.SendFailures,
			m.MessagesIn,
		)
	}
	return m
}

// OnBattleStarted 记录对战开始
func (m *Metrics) OnBattleStarted(trigger string) {
	if m == nil {
		return
	}
	m.BattlesStarted.WithLabelValues(trigger).Inc()
	m.ActiveBattles.Inc()
}

// OnBattleEnded 记录对战结束
func (m *Metrics) OnBattleEnded(reason string) {
	if m == nil {
		return
	}
	m.BattlesEnded.WithLabelValues(reason).Inc()
	m.ActiveBattles.Dec()
}

// OnConnectionOpened 记录连接建立
func (m *Metrics) OnConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

// OnConnectionClosed 记录连接断开
func (m *Metrics) OnConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

// OnSubscribe 记录订阅建立
func (m *Metrics) OnSubscribe() {
	if m == nil {
		return
	}
	m.Viewers.Inc()
}

// OnUnsubscribe 记录订阅解除
func (m *Metrics) OnUnsubscribe(n int) {
	if m == nil {
		return
	}
	m.Viewers.Sub(float64(n))
}

// OnEventRouted 记录事件路由
func (m *Metrics) OnEventRouted() {
	if m == nil {
		return
	}
	m.EventsRouted.Inc()
}

// OnSendFailure 记录投递失败
func (m *Metrics) OnSendFailure() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

// OnMessageIn 记录入站消息
func (m *Metrics) OnMessageIn(msgType, result string) {
	if m == nil {
		return
	}
	m.MessagesIn.WithLabelValues(msgType, result).Inc()
}
