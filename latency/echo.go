// Package latency implements the UDP side channel clients use to pick
// their lowest-latency region. The server echoes every datagram back
// verbatim on the same port number the HTTP API listens on.
package latency

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"cartas/configs"

	"github.com/pkg/errors"
)

// Eco is the UDP echo responder.
type Eco struct {
	conn *net.UDPConn
}

func NewEco(porta int) (*Eco, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: porta}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "porta udp %d", porta)
	}
	return &Eco{conn: conn}, nil
}

// Addr returns the bound address, useful when porta was 0.
func (e *Eco) Addr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Run echoes datagrams until ctx ends or Close is called. Payloads are
// opaque; whatever arrives goes back unchanged.
func (e *Eco) Run(ctx context.Context) error {
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			e.conn.Close()
		}()
	}
	buf := make([]byte, configs.UDPBufferSize)
	for {
		n, remote, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || strings.Contains(err.Error(), "use of closed") {
				return nil
			}
			return err
		}
		if _, err := e.conn.WriteToUDP(buf[:n], remote); err != nil {
			configs.Warn(false, "eco udp: "+err.Error())
		}
	}
}

func (e *Eco) Close() error {
	return e.conn.Close()
}

// Sondar measures the round trip to a server's echo port. It sends a
// single PING:<timestamp> datagram and waits up to timeout for the echo.
// The result is in milliseconds; any failure returns a negative value.
func Sondar(addr string, timeout time.Duration) float64 {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return -1
	}
	defer conn.Close()

	inicio := time.Now()
	ping := fmt.Sprintf("PING:%d", inicio.UnixNano())
	if _, err := conn.Write([]byte(ping)); err != nil {
		return -1
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return -1
	}
	buf := make([]byte, configs.UDPBufferSize)
	n, err := conn.Read(buf)
	if err != nil || string(buf[:n]) != ping {
		return -1
	}
	return float64(time.Since(inicio)) / float64(time.Millisecond)
}
