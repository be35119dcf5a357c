// Package listener implements the UDP ingress/egress loop of spec §6: one
// goroutine per configured listening address reads datagrams into the
// shared worker ingress channel and writes any synthesized responses back
// out its own socket, so no two listeners ever share a write path.
package listener

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/snmpworks/trapd/internal/worker"
)

// recvBufSize is SNMP's practical MTU (spec §6).
const recvBufSize = 4096

// Listener owns one bound UDP socket.
type Listener struct {
	idx  int
	addr string
	conn *net.UDPConn
}

// Listen binds addr (a "host:port" string) as listener index idx.
func Listen(idx int, addr string) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listener: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listener: listen %s: %w", addr, err)
	}
	return &Listener{idx: idx, addr: addr, conn: conn}, nil
}

// Addr returns the socket's bound local address.
func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }

// Run reads datagrams and forwards them to ingress until ctx is
// cancelled, at which point the socket is closed to unblock the pending
// read. Concurrently it drains egress and writes each response back to
// its peer. Run returns once the receive loop has exited.
func (l *Listener) Run(ctx context.Context, ingress chan<- worker.Datagram, egress <-chan worker.Outbound, log zerolog.Logger) error {
	log.Info().Int("listener_idx", l.idx+1).Str("addr", l.conn.LocalAddr().String()).Msg("listening")

	go func() {
		<-ctx.Done()
		log.Debug().Int("listener_idx", l.idx+1).Msg("received termination signal, shutting down")
		l.conn.Close()
	}()

	go func() {
		for out := range egress {
			if _, err := l.conn.WriteToUDP(out.Payload, out.Addr); err != nil {
				log.Debug().Err(err).Int("listener_idx", l.idx+1).Msg("failed to write response")
			}
		}
	}()

	buf := make([]byte, recvBufSize)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("listener: read %s: %w", l.addr, err)
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		ingress <- worker.Datagram{Payload: payload, Addr: addr, SocketIndex: l.idx}
	}
}
