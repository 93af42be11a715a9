package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/hep-daq/ipbus/internal/pool"
)

// TCP dispatches to a device via the ControlHub relay, which speaks TCP to
// clients and UDP to the device on their behalf.
type TCP struct {
	uri     string
	conn    net.Conn
	timeout time.Duration
}

// DialTCP opens a TCP connection to the ControlHub at addr (host:port).
func DialTCP(addr string) (*TCP, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial tcp %s: %w", addr, err)
	}
	return &TCP{
		uri:     "ipbusudp-2.0-controlhub://" + addr,
		conn:    conn,
		timeout: 5 * time.Second,
	}, nil
}

func (t *TCP) URI() string { return t.uri }

func (t *TCP) SetTimeout(d time.Duration) { t.timeout = d }

func (t *TCP) Send(buf []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return err
	}
	_, err := t.conn.Write(buf)
	return err
}

// Receive reads one framed reply. The ControlHub relay's own preamble
// carries the byte count, so the first four bytes tell us how much more to
// read; controlhub.Client is responsible for interpreting them, this layer
// just returns whatever has arrived, up to maxBytes, once at least four
// bytes are in.
func (t *TCP) Receive(ctx context.Context, maxBytes int) ([]byte, error) {
	if err := t.conn.SetReadDeadline(deadline(ctx, t.timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, maxBytes)
	n, err := io.ReadAtLeast(t.conn, buf, 4)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return buf[:n], nil
}

// FlushAndWait drains one stray reply a batch abandoned earlier might still
// produce, bounded by the client timeout but cancelable independently of
// the connection's own read deadline.
func (t *TCP) FlushAndWait(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := t.Receive(context.Background(), 64*1024)
		done <- err
	}()

	timer := pool.GetTimer(t.timeout)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case err := <-done:
		if errors.Is(err, ErrTimeout) {
			return nil
		}
		return err
	}
}

func (t *TCP) Close() error {
	return t.conn.Close()
}
