// Package pipeline связывает C3-C7 и C10 в единый входной конвейер:
// кадр с шины -> проверка безопасности -> приоритетная очередь ->
// декодирование -> валидация -> публикация в шину событий. Реализует
// lifecycle.Component, чтобы Supervisor мог запускать его наравне с
// остальными долгоживущими задачами ядра.
package pipeline

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/coachlink/rvcd/common"
	"github.com/coachlink/rvcd/internal/decoder"
	"github.com/coachlink/rvcd/internal/eventbus"
	"github.com/coachlink/rvcd/internal/lifecycle"
	"github.com/coachlink/rvcd/internal/metrics"
	"github.com/coachlink/rvcd/internal/scheduler"
	"github.com/coachlink/rvcd/internal/security"
	"github.com/coachlink/rvcd/internal/txbus"
	"github.com/coachlink/rvcd/internal/validator"
)

// Ingress — конвейер обработки входящих кадров с одного интерфейса шины
// (одного txbus.Bus); для нескольких интерфейсов нужен свой Ingress на
// каждый.
type Ingress struct {
	name      string
	bus       txbus.Bus
	decoder   *decoder.Decoder
	validator *validator.Validator
	security  *security.Monitor
	scheduler *scheduler.Scheduler
	events    *eventbus.Bus
	metrics   *metrics.Registry
	logger    *log.Logger

	health lifecycle.Health
}

// Config собирает уже инициализированные компоненты, из которых
// строится конвейер.
type Config struct {
	Bus       txbus.Bus
	Decoder   *decoder.Decoder
	Validator *validator.Validator
	Security  *security.Monitor
	Scheduler *scheduler.Scheduler
	Events    *eventbus.Bus
	Metrics   *metrics.Registry
	Logger    *log.Logger
}

func NewIngress(cfg Config) *Ingress {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[pipeline] ", log.LstdFlags)
	}
	return &Ingress{
		name:      "ingress-" + cfg.Bus.Name(),
		bus:       cfg.Bus,
		decoder:   cfg.Decoder,
		validator: cfg.Validator,
		security:  cfg.Security,
		scheduler: cfg.Scheduler,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		logger:    logger,
		health:    lifecycle.HealthHealthy,
	}
}

func (i *Ingress) Name() string { return i.name }

func (i *Ingress) Init(ctx context.Context) error { return nil }

func (i *Ingress) Shutdown(ctx context.Context) error { return nil }

func (i *Ingress) Health() lifecycle.Health { return i.health }

// Run запускает Bus.Run в фоне и обрабатывает его выходной поток кадров:
// критические/высокоприоритетные сообщения обрабатываются немедленно
// (C7 ShouldProcessImmediately), остальные проходят через очередь
// планировщика и дренируются отдельной горутиной пакетами.
func (i *Ingress) Run(ctx context.Context) error {
	busErrCh := make(chan error, 1)
	go func() { busErrCh <- i.bus.Run(ctx) }()

	go i.drainLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-busErrCh:
			i.health = lifecycle.HealthUnhealthy
			return err
		case f, ok := <-i.bus.Frames():
			if !ok {
				return nil
			}
			i.handleFrame(f)
		}
	}
}

func (i *Ingress) handleFrame(f common.Frame) {
	if !i.security.ValidateSourceAddress(f.SourceAddr, f.DGN()) {
		i.logger.Printf("кадр от непроверенного источника 0x%02X отклонён", f.SourceAddr)
		return
	}
	for _, anomaly := range i.security.Observe(f) {
		i.metrics.AnomaliesTotal.WithLabelValues(anomaly.Type).Inc()
		i.events.Publish(common.Event{Topic: common.TopicAnomaly, Payload: anomaly, Timestamp: time.Now().UTC()})
	}

	if scheduler.ShouldProcessImmediately(f.DGN()) {
		i.decodeAndPublish(f)
		return
	}
	if !i.scheduler.Enqueue(f) {
		i.metrics.FramesDropped.WithLabelValues("enqueue_rejected").Inc()
	}
}

func (i *Ingress) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			items := i.scheduler.DrainBatch(64)
			for _, item := range items {
				i.decodeAndPublish(item.Frame)
			}
			if len(items) > 0 {
				i.scheduler.RecordProcessingTime(time.Since(start) / time.Duration(len(items)))
			}
			for p, size := range i.scheduler.QueueSizesByPriority() {
				i.metrics.QueueDepth.WithLabelValues(priorityLabel(p)).Set(float64(size))
			}
		}
	}
}

func (i *Ingress) decodeAndPublish(f common.Frame) {
	msg, err := i.decoder.Decode(f)
	if err != nil {
		if common.CodeOf(err) == common.ErrUnknownDGN {
			i.events.Publish(common.Event{Topic: common.TopicMissingDGN, Payload: f, Timestamp: time.Now().UTC()})
		} else {
			i.metrics.DecodeErrors.Inc()
		}
		return
	}

	result := i.validator.Validate(msg)
	if !result.Valid {
		i.logger.Printf("валидация DGN %s нарушена: %v", msg.DGNName, result.Errors)
	}

	i.events.Publish(common.Event{Topic: common.TopicDecodedFrame, Payload: msg, Timestamp: time.Now().UTC()})
}

func priorityLabel(p scheduler.Priority) string {
	switch p {
	case scheduler.PriorityCritical:
		return "critical"
	case scheduler.PriorityHigh:
		return "high"
	case scheduler.PriorityNormal:
		return "normal"
	case scheduler.PriorityLow:
		return "low"
	default:
		return "background"
	}
}
