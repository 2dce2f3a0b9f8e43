//go:build linux

// Адаптировано из cmd/agent-j1939/bus.go teacher-агента: тот же приём
// через unix.Socket(AF_CAN, SOCK_DGRAM, CAN_J1939)/SockaddrCANJ1939 с
// привязкой к интерфейсу и блокирующими Recvfrom/Sendto, обобщённый под
// интерфейс Bus и DGN/PGN модель данных вместо J1939 PGN/SA напрямую в
// структурах J1939Data.
package txbus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/coachlink/rvcd/common"
)

type socketCANBus struct {
	cfg    Config
	logger *log.Logger

	fd         int
	ifaceIndex int
	localAddr  uint8
	frames     chan common.Frame
}

func newSocketCANBus(cfg Config) (Bus, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_DGRAM, unix.CAN_J1939)
	if err != nil {
		return nil, fmt.Errorf("txbus/socketcan: не удалось создать сокет: %w", err)
	}

	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("txbus/socketcan: InterfaceByName %q: %w", cfg.Interface, err)
	}

	sa := &unix.SockaddrCANJ1939{
		Ifindex: iface.Index,
		Name:    0,
		PGN:     0, // wildcard — принимаем все PGN на интерфейсе
		Addr:    cfg.SourceAddress,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("txbus/socketcan: bind: %w", err)
	}

	localSockAddr, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("txbus/socketcan: getsockname: %w", err)
	}
	local, ok := localSockAddr.(*unix.SockaddrCANJ1939)
	if !ok {
		unix.Close(fd)
		return nil, fmt.Errorf("txbus/socketcan: неожиданный тип адреса после bind: %T", localSockAddr)
	}

	return &socketCANBus{
		cfg:        cfg,
		logger:     log.New(os.Stdout, fmt.Sprintf("[txbus:%s] ", cfg.Interface), log.LstdFlags),
		fd:         fd,
		ifaceIndex: iface.Index,
		localAddr:  local.Addr,
		frames:     make(chan common.Frame, 256),
	}, nil
}

func (b *socketCANBus) Name() string { return b.cfg.Interface }

func (b *socketCANBus) Frames() <-chan common.Frame { return b.frames }

func (b *socketCANBus) Run(ctx context.Context) error {
	b.logger.Printf("приём кадров запущен, локальный адрес 0x%02X", b.localAddr)
	defer close(b.frames)
	buffer := make([]byte, 2048)

	go func() {
		<-ctx.Done()
		unix.Close(b.fd)
	}()

	for {
		n, from, err := unix.Recvfrom(b.fd, buffer, 0)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, unix.EBADF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			b.logger.Printf("ошибка чтения: %v, повтор через 100мс", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if n == 0 {
			continue
		}
		sockAddr, ok := from.(*unix.SockaddrCANJ1939)
		if !ok {
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])
		dgn := common.NewDGN(0, common.PGN(sockAddr.PGN))
		frame := common.Frame{
			ArbitrationID: common.NewArbitrationID(dgn, sockAddr.Addr),
			Data:          data,
			SourceAddr:    sockAddr.Addr,
			Interface:     b.cfg.Interface,
			ReceivedAt:    time.Now().UTC(),
		}

		select {
		case b.frames <- frame:
		case <-ctx.Done():
			return nil
		default:
			b.logger.Printf("канал кадров полон, кадр DGN 0x%X от 0x%02X отброшен", uint32(dgn), sockAddr.Addr)
		}
	}
}

func (b *socketCANBus) Send(cmd common.EncodedCommand) error {
	if len(cmd.Data) > 8 {
		return fmt.Errorf("txbus/socketcan: длина payload %d превышает 8 байт, сегментация TP не реализована", len(cmd.Data))
	}
	dest := &unix.SockaddrCANJ1939{
		Ifindex: b.ifaceIndex,
		Name:    0,
		PGN:     uint32(cmd.DGN.PGN()),
		Addr:    cmd.DestAddr,
	}
	if err := unix.Sendto(b.fd, cmd.Data, 0, dest); err != nil {
		return common.NewError(common.ErrBusUnavailable, "txbus/socketcan: sendto", err)
	}
	return nil
}
