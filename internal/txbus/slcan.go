// Адаптировано из internal/j1587/j1587.go teacher-агента: тот же приём
// по последовательному порту с разбиением потока байт на кадры по
// межкадровому интервалу (interFrameGap), применённый здесь к ASCII
// SLCAN-формату USB-CAN адаптеров вместо сырых J1587 MID-кадров.
package txbus

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/tarm/serial"

	"github.com/coachlink/rvcd/common"
)

const slcanInterFrameGap = 4 * time.Millisecond

type slcanBus struct {
	cfg    Config
	logger *log.Logger
	port   *serial.Port
	frames chan common.Frame
}

func newSLCANBus(cfg Config) (Bus, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.SerialPort,
		Baud:        cfg.SerialBaud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("txbus/slcan: открытие порта %s: %w", cfg.SerialPort, err)
	}
	// Открыть канал в режиме "normal" (SLCAN 'O' команда).
	if _, err := port.Write([]byte("O\r")); err != nil {
		port.Close()
		return nil, fmt.Errorf("txbus/slcan: инициализация адаптера: %w", err)
	}
	return &slcanBus{
		cfg:    cfg,
		logger: log.New(os.Stdout, fmt.Sprintf("[txbus:%s] ", cfg.SerialPort), log.LstdFlags),
		port:   port,
		frames: make(chan common.Frame, 256),
	}, nil
}

func (b *slcanBus) Name() string                    { return b.cfg.SerialPort }
func (b *slcanBus) Frames() <-chan common.Frame     { return b.frames }

func (b *slcanBus) Run(ctx context.Context) error {
	defer close(b.frames)
	defer b.port.Close()

	buf := make([]byte, 256)
	var line []byte
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := b.port.Read(buf)
		now := time.Now()
		if err != nil && err.Error() != "EOF" {
			b.logger.Printf("ошибка чтения порта: %v", err)
		}
		if n == 0 {
			if len(line) > 0 && now.Sub(last) >= slcanInterFrameGap {
				b.handleLine(line)
				line = nil
			}
			continue
		}

		for i := 0; i < n; i++ {
			if buf[i] == '\r' {
				b.handleLine(line)
				line = nil
				last = now
				continue
			}
			line = append(line, buf[i])
			last = now
		}
	}
}

// handleLine разбирает одну строку SLCAN-протокола: "Tiiiiiiiildd...\r"
// для расширенного (29-бит) кадра — T/t различают, а здесь принимается
// только расширенный формат, так как RV-C всегда использует 29-бит ID.
func (b *slcanBus) handleLine(line []byte) {
	if len(line) < 1 || line[0] != 'T' {
		return
	}
	if len(line) < 10 {
		return
	}
	idHex := string(line[1:9])
	id, err := strconv.ParseUint(idHex, 16, 32)
	if err != nil {
		return
	}
	lenDigit := line[9]
	if lenDigit < '0' || lenDigit > '8' {
		return
	}
	dataLen := int(lenDigit - '0')
	dataHex := line[10:]
	if len(dataHex) < dataLen*2 {
		return
	}
	data := make([]byte, dataLen)
	for i := 0; i < dataLen; i++ {
		v, err := strconv.ParseUint(string(dataHex[i*2:i*2+2]), 16, 8)
		if err != nil {
			return
		}
		data[i] = byte(v)
	}

	arb := common.ArbitrationID(id)
	frame := common.Frame{
		ArbitrationID: arb,
		Data:          data,
		SourceAddr:    arb.SourceAddress(),
		Interface:     b.cfg.SerialPort,
		ReceivedAt:    time.Now().UTC(),
	}

	select {
	case b.frames <- frame:
	default:
		b.logger.Printf("канал кадров полон, кадр отброшен")
	}
}

func (b *slcanBus) Send(cmd common.EncodedCommand) error {
	arb := common.NewArbitrationID(cmd.DGN, b.cfg.SourceAddress)
	var line bytes.Buffer
	fmt.Fprintf(&line, "T%08X%d", uint32(arb), len(cmd.Data))
	for _, d := range cmd.Data {
		fmt.Fprintf(&line, "%02X", d)
	}
	line.WriteByte('\r')
	if _, err := b.port.Write(line.Bytes()); err != nil {
		return common.NewError(common.ErrBusUnavailable, "txbus/slcan: запись в порт", err)
	}
	return nil
}
