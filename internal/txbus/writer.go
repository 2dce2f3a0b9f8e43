package txbus

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/coachlink/rvcd/common"
	"github.com/coachlink/rvcd/internal/eventbus"
)

// CommandSource — то, откуда Writer берёт закодированные команды на
// отправку; реализуется каналом, которым владеет вызывающий (например,
// обработчик входящих команд из cmd/rvcd).
type CommandSource <-chan common.EncodedCommand

// repeatGap — пауза между первой и повторной передачей одного кадра
// команды; RV-C требует отправлять командные кадры дважды.
const repeatGap = 50 * time.Millisecond

// Writer — long-lived writer команд на шину C8: последовательно
// забирает команды из CommandSource и отправляет их через Bus по одной.
// Это не единственный отправитель: discovery.Engine шлёт PGN-запросы
// через тот же Bus напрямую (Bus.Send), минуя Writer.
type Writer struct {
	bus    Bus
	src    CommandSource
	events *eventbus.Bus
	logger *log.Logger
}

func NewWriter(bus Bus, src CommandSource, events *eventbus.Bus, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.New(os.Stdout, "[txbus-writer] ", log.LstdFlags)
	}
	return &Writer{bus: bus, src: src, events: events, logger: logger}
}

// Run блокируется, последовательно записывая команды на шину, пока ctx
// не будет отменён или CommandSource не закроется. Ошибки отправки
// логируются и не останавливают цикл — временная недоступность шины
// (ErrBusUnavailable) не должна останавливать обработку следующих команд.
func (w *Writer) Run(ctx context.Context) error {
	w.logger.Printf("писатель шины %q запущен", w.bus.Name())
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-w.src:
			if !ok {
				return nil
			}
			w.transmit(ctx, cmd)
		}
	}
}

// transmit отправляет кадр дважды с паузой repeatGap между передачами
// (командные кадры RV-C передаются дважды) и публикует sniffer-событие
// после первой передачи.
func (w *Writer) transmit(ctx context.Context, cmd common.EncodedCommand) {
	if err := w.bus.Send(cmd); err != nil {
		w.logger.Printf("отправка команды для %q не удалась: %v", cmd.EntityID, err)
		return
	}

	if w.events != nil {
		w.events.Publish(common.Event{
			Topic: common.TopicSniffer,
			Payload: common.SnifferEvent{
				Direction:  common.SnifferDirectionTX,
				Interface:  w.bus.Name(),
				DGN:        cmd.DGN,
				SourceAddr: cmd.DestAddr,
				Origin:     "self",
			},
			Timestamp: time.Now().UTC(),
		})
	}

	select {
	case <-time.After(repeatGap):
	case <-ctx.Done():
		return
	}

	if err := w.bus.Send(cmd); err != nil {
		w.logger.Printf("повторная отправка команды для %q не удалась: %v", cmd.EntityID, err)
	}
}
