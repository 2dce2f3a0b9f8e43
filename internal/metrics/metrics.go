// Package metrics регистрирует метрики ядра в Prometheus: глубину
// очередей планировщика, число отброшенных событий/кадров, задержку
// опроса устройств и число устройств онлайн. Набор инструментов и
// подход к именованию (namespace_subsystem_name) перенесены из
// 99souls-ariadne engine/telemetry/metrics/prometheus.go, но без его
// обобщённого Provider-интерфейса — здесь достаточно фиксированного
// набора метрик ядра.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rvcd"

// Registry — метрики ядра, зарегистрированные в собственном реестре
// Prometheus (не DefaultRegisterer, чтобы процесс можно было встраивать
// без побочных эффектов на глобальный реестр).
type Registry struct {
	reg *prometheus.Registry

	QueueDepth      *prometheus.GaugeVec
	FramesDropped   *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	DecodeErrors    prometheus.Counter
	AnomaliesTotal  *prometheus.CounterVec
	PollLatency     prometheus.Histogram
	DevicesOnline   prometheus.Gauge
	CommandsEncoded prometheus.Counter
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "queue_depth",
			Help: "текущая длина очереди планировщика по классу приоритета",
		}, []string{"priority"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "frames_dropped_total",
			Help: "число кадров, не принятых в очередь планировщика (admission-лимит класса или переполнение очереди)",
		}, []string{"priority"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventbus", Name: "events_dropped_total",
			Help: "число событий, отброшенных из-за переполнения очереди подписчика",
		}, []string{"topic"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "decode_errors_total",
			Help: "число кадров, которые не удалось декодировать",
		}),
		AnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "security", Name: "anomalies_total",
			Help: "число обнаруженных аномалий по типу",
		}, []string{"type"}),
		PollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "discovery", Name: "poll_latency_seconds",
			Help:    "время отклика устройства на опрос",
			Buckets: prometheus.DefBuckets,
		}),
		DevicesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "discovery", Name: "devices_online",
			Help: "число устройств, считающихся онлайн",
		}),
		CommandsEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "encoder", Name: "commands_encoded_total",
			Help: "число успешно закодированных команд",
		}),
	}

	reg.MustRegister(
		r.QueueDepth, r.FramesDropped, r.EventsDropped, r.DecodeErrors,
		r.AnomaliesTotal, r.PollLatency, r.DevicesOnline, r.CommandsEncoded,
	)
	return r
}

// Handler возвращает HTTP-обработчик эндпоинта /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
