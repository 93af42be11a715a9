// Package transport abstracts the byte-level link a client dispatches
// over: direct UDP to a device, or TCP to a ControlHub relay.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Receive when the configured timeout elapses
// before a reply arrives.
var ErrTimeout = errors.New("transport: timed out waiting for reply")

// Transport is the byte-level link a client dispatches a batch over. A
// client owns exactly one Transport and drives it from a single goroutine;
// implementations need not be safe for concurrent use.
type Transport interface {
	// Send writes one assembled batch. It does not wait for a reply.
	Send(buf []byte) error
	// Receive blocks for one reply, up to maxBytes, returning ErrTimeout if
	// the configured timeout elapses first.
	Receive(ctx context.Context, maxBytes int) ([]byte, error)
	// FlushAndWait waits for any reply to a batch already sent without
	// consuming it as the next Receive; used when abandoning a batch (e.g.
	// on reconnect) without leaving a stale reply in flight.
	FlushAndWait(ctx context.Context) error
	// SetTimeout changes the per-operation deadline used by Send/Receive.
	SetTimeout(d time.Duration)
	// URI is the endpoint this transport was dialed against.
	URI() string
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
