// Package txbus абстрагирует физическую шину: приём кадров в канал и
// отправку закодированных команд. Интерфейс Bus обобщает
// protocol.Protocol teacher-агента (Initialize/StartReading/StopReading/
// GetData) на произвольное число конкурентных бэкендов подключения.
package txbus

import (
	"context"
	"fmt"

	"github.com/coachlink/rvcd/common"
)

// BackendType — способ подключения к физической шине.
type BackendType string

const (
	BackendSocketCAN BackendType = "socketcan"
	BackendSLCAN     BackendType = "slcan"
)

// Bus — один физический или виртуальный интерфейс шины.
type Bus interface {
	// Run запускает приём кадров и блокируется до отмены ctx или
	// неустранимой ошибки шины. Полученные кадры отправляются в канал,
	// возвращаемый Frames.
	Run(ctx context.Context) error
	// Frames — канал входящих кадров. Закрывается, когда Run завершается.
	Frames() <-chan common.Frame
	// Send отправляет закодированную команду на шину.
	Send(cmd common.EncodedCommand) error
	// Name — имя интерфейса/бэкенда для логов и метрик.
	Name() string
}

// Config — параметры подключения, общие для всех бэкендов; какие поля
// обязательны, зависит от Type.
type Config struct {
	Type          BackendType
	Interface     string // имя CAN-интерфейса для socketcan
	SerialPort    string // путь устройства для slcan
	SerialBaud    int
	SourceAddress uint8
}

// New создаёт бэкенд по конфигурации. На платформах без поддержки
// SocketCAN (не Linux) BackendSocketCAN возвращает ошибку — см.
// socketcan_unsupported.go.
func New(cfg Config) (Bus, error) {
	switch cfg.Type {
	case BackendSocketCAN:
		return newSocketCANBus(cfg)
	case BackendSLCAN:
		return newSLCANBus(cfg)
	default:
		return nil, fmt.Errorf("txbus: неизвестный тип бэкенда %q", cfg.Type)
	}
}
