package transport

import (
	"context"
	"time"
)

// Fake is an in-process Transport double for tests: it records every frame
// passed to Send and replays a caller-supplied queue of reply frames (or
// injected errors) from Receive. It replaces a spawned reference-device
// process with something that runs inside the test binary.
type Fake struct {
	uri     string
	timeout time.Duration

	Sent    [][]byte
	Replies []FakeReply
	next    int
}

// FakeReply is one scripted response to a Send/Receive round trip.
type FakeReply struct {
	Bytes []byte
	Err   error
}

// NewFake creates a Fake transport addressing uri, with no replies queued
// yet. Use QueueReply to script responses before Dispatch is called.
func NewFake(uri string) *Fake {
	return &Fake{uri: uri, timeout: 5 * time.Second}
}

// QueueReply appends a scripted reply (or error) to be returned by the next
// Receive call.
func (f *Fake) QueueReply(reply FakeReply) {
	f.Replies = append(f.Replies, reply)
}

func (f *Fake) URI() string { return f.uri }

func (f *Fake) SetTimeout(d time.Duration) { f.timeout = d }

func (f *Fake) Send(buf []byte) error {
	f.Sent = append(f.Sent, append([]byte(nil), buf...))
	return nil
}

func (f *Fake) Receive(ctx context.Context, maxBytes int) ([]byte, error) {
	if f.next >= len(f.Replies) {
		return nil, ErrTimeout
	}
	r := f.Replies[f.next]
	f.next++
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Bytes, nil
}

func (f *Fake) FlushAndWait(ctx context.Context) error {
	if f.next < len(f.Replies) {
		f.next++
	}
	return nil
}
