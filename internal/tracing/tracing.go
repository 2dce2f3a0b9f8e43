// Package tracing настраивает OpenTelemetry TracerProvider ядра. По
// умолчанию провайдер без экспортёра: трассировка не обязательна для
// работы рантайма. Пакет даёт именованный трейсер (Tracer), но
// компоненты ядра его не вызывают и собственных спанов не создают.
// Подход перенесён из
// 99souls-ariadne engine/telemetry/metrics/otel_provider.go (zero-config
// MeterProvider по умолчанию, экспортёры подключаются отдельно).
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/coachlink/rvcd"

// Init устанавливает глобальный TracerProvider ядра. Без экспортёра
// переданного через opts спаны создаются и завершаются, но никуда не
// отправляются — это безопасное поведение по умолчанию для развёртываний
// без настроенного коллектора.
func Init(opts ...sdktrace.TracerProviderOption) func(ctx context.Context) error {
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Tracer возвращает именованный трейсер ядра для использования в
// компонентах C3/C9.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}
