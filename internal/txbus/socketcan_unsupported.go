//go:build !linux

package txbus

import "fmt"

func newSocketCANBus(cfg Config) (Bus, error) {
	return nil, fmt.Errorf("txbus/socketcan: бэкенд SocketCAN доступен только на Linux")
}
