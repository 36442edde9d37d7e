package node

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"observatory/logging"
)

const (
	macRepeat    = 16
	packetHeader = 6
)

// MagicPacket builds a Wake-on-LAN packet: six 0xFF bytes followed by the
// MAC address repeated sixteen times.
func MagicPacket(mac string) ([]byte, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil || len(hw) != 6 {
		return nil, fmt.Errorf("malformed MAC address %q", mac)
	}
	packet := make([]byte, 0, packetHeader+macRepeat*len(hw))
	for i := 0; i < packetHeader; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < macRepeat; i++ {
		packet = append(packet, hw...)
	}
	return packet, nil
}

// Waker sends magic packets to a broadcast address.
type Waker struct {
	Address string
	Port    int
	Timeout time.Duration
}

// NewWaker returns a Waker, defaulting to 255.255.255.255:9.
func NewWaker(address string, port int, timeout time.Duration) *Waker {
	if address == "" {
		address = "255.255.255.255"
	}
	if port <= 0 {
		port = 9
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Waker{Address: address, Port: port, Timeout: timeout}
}

// Wake broadcasts a magic packet for mac. It reports whether the whole
// packet was handed to the network.
func (w *Waker) Wake(ctx context.Context, mac string) (bool, error) {
	packet, err := MagicPacket(mac)
	if err != nil {
		return false, err
	}

	addr := net.JoinHostPort(w.Address, strconv.Itoa(w.Port))
	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	d := net.Dialer{Control: broadcastControl}
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(dl)
	}
	logging.DebugLog("wol", "magic packet for %s to %s", mac, addr)
	logging.DebugTX("wol", packet)
	n, err := conn.Write(packet)
	if err != nil {
		return false, err
	}
	return n == len(packet), nil
}
