package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hep-daq/ipbus/internal/pool"
)

// UDP dispatches directly to a device over IPbus-over-UDP, with no
// ControlHub relay in between.
type UDP struct {
	uri     string
	conn    net.Conn
	timeout time.Duration
}

// DialUDP opens a UDP socket to addr (host:port).
func DialUDP(addr string) (*UDP, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial udp %s: %w", addr, err)
	}
	return &UDP{
		uri:     "ipbusudp-2.0://" + addr,
		conn:    conn,
		timeout: 5 * time.Second,
	}, nil
}

func (t *UDP) URI() string { return t.uri }

func (t *UDP) SetTimeout(d time.Duration) { t.timeout = d }

func (t *UDP) Send(buf []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return err
	}
	_, err := t.conn.Write(buf)
	return err
}

func (t *UDP) Receive(ctx context.Context, maxBytes int) ([]byte, error) {
	if err := t.conn.SetReadDeadline(deadline(ctx, t.timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, maxBytes)
	n, err := t.conn.Read(buf)
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
func (t *UDP) FlushAndWait(ctx context.Context) error {
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

func (t *UDP) Close() error {
	return t.conn.Close()
}
