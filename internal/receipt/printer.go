package receipt

import (
	"context"
	"fmt"
	"net"
	"time"
)

const writeTimeout = 5 * time.Second

// Printer sends encoded receipts to a device.
type Printer interface {
	Print(ctx context.Context, data []byte) error
}

// NetworkPrinter writes raw ESC/POS bytes to a printer listening on TCP (usually port 9100).
type NetworkPrinter struct {
	Addr   string
	dialer net.Dialer
}

// NewNetworkPrinter creates a printer for addr, e.g. "192.168.1.50:9100".
func NewNetworkPrinter(addr string) *NetworkPrinter {
	return &NetworkPrinter{Addr: addr}
}

func (p *NetworkPrinter) Print(ctx context.Context, data []byte) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("dial printer %s: %w", p.Addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set printer deadline: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write printer %s: %w", p.Addr, err)
	}
	return nil
}
