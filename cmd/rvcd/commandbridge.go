package main

import (
	"context"
	"log"

	"github.com/coachlink/rvcd/common"
	"github.com/coachlink/rvcd/internal/encoder"
)

// runCommandBridge читает команды сущностей из источника (сейчас —
// adapter/mqttbridge, позже может быть HTTP-обработчик), кодирует их
// через C4 и пересылает результат в канал, который читает
// txbus.Writer. Ошибки кодирования не фатальны: неизвестная сущность
// или отсутствующий командный DGN логируются и пропускаются, чтобы
// одна плохая команда не останавливала писателя шины.
func runCommandBridge(ctx context.Context, enc *encoder.Encoder, in <-chan common.EntityCommand, out chan<- common.EncodedCommand, logger *log.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-in:
			if !ok {
				return nil
			}
			encoded, err := enc.Encode(cmd)
			if err != nil {
				logger.Printf("кодирование команды для %q не удалось: %v", cmd.EntityID, err)
				continue
			}
			select {
			case out <- encoded:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
