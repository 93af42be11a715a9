// Package ipbus implements the IPbus wire protocol: transaction header
// encode/decode, packet assembly and validation, and the deferred-value
// handles returned by every read/write operation.
package ipbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hep-daq/ipbus/internal/pool"
	"github.com/hep-daq/ipbus/logger"
	"github.com/hep-daq/ipbus/transport"
)

// DefaultMaxBuffers is the outstanding-transaction window used by the plain
// (non-ControlHub) client when its constructor is not given one explicitly.
const DefaultMaxBuffers = 16

// ClientInterface is the contract every transport-layer client (plain UDP,
// or ControlHub-relayed) satisfies. node.Node and hw.Interface depend only
// on this, never on a concrete client type.
type ClientInterface interface {
	ID() string
	URI() string
	Timeout() time.Duration
	SetTimeout(time.Duration)

	Read(addr uint32) (*DeferredWord, error)
	ReadMasked(addr, mask uint32) (*DeferredWord, error)
	ReadBlock(addr uint32, n int, mode BlockMode) (*DeferredVector, error)
	Write(addr, value uint32) (*DeferredWord, error)
	WriteBlock(addr uint32, values []uint32, mode BlockMode) (*DeferredVector, error)
	RMWbits(addr, andTerm, orTerm uint32) (*DeferredWord, error)
	RMWsum(addr, addend uint32) (*DeferredWord, error)

	Dispatch(ctx context.Context) error
}

// Client is the plain IPbus client: it talks directly to a device over a
// Transport with no ControlHub framing in between.
type Client struct {
	id      string
	uri     string
	timeout time.Duration
	tr      transport.Transport
	ip      *InnerProtocol
	buf     []byte
	logger  logger.Logger
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithID overrides the client's identifier (otherwise left to the caller
// that constructs it, typically the registry).
func WithID(id string) Option {
	return func(c *Client) { c.id = id }
}

// WithTimeout sets the per-dispatch transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxBuffers overrides the implicit-flush window (DefaultMaxBuffers if
// not given).
func WithMaxBuffers(n int) Option {
	return func(c *Client) { c.ip = NewInnerProtocol(n) }
}

// WithLogger overrides the client's logger (logger.GetLogger() otherwise).
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a plain IPbus client addressing uri over tr.
func New(uri string, tr transport.Transport, opts ...Option) *Client {
	c := &Client{
		uri:     uri,
		timeout: 5 * time.Second,
		tr:      tr,
		ip:      NewInnerProtocol(DefaultMaxBuffers),
		logger:  logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tr.SetTimeout(c.timeout)
	return c
}

func (c *Client) ID() string                { return c.id }
func (c *Client) URI() string               { return c.uri }
func (c *Client) Timeout() time.Duration    { return c.timeout }
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d; c.tr.SetTimeout(d) }

func (c *Client) ensureRoom() error {
	if c.ip.AtCapacity() {
		return c.Dispatch(context.Background())
	}
	return nil
}

func (c *Client) ensureBuf() {
	if c.buf == nil {
		c.buf = pool.GetBuf(64)
	}
}

func (c *Client) Read(addr uint32) (*DeferredWord, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.ensureBuf()
	return c.ip.AppendRead(&c.buf, addr)
}

func (c *Client) ReadMasked(addr, mask uint32) (*DeferredWord, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.ensureBuf()
	return c.ip.AppendReadMasked(&c.buf, addr, mask)
}

func (c *Client) ReadBlock(addr uint32, n int, mode BlockMode) (*DeferredVector, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.ensureBuf()
	return c.ip.AppendReadBlock(&c.buf, addr, n, mode)
}

func (c *Client) Write(addr, value uint32) (*DeferredWord, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.ensureBuf()
	return c.ip.AppendWrite(&c.buf, addr, value)
}

func (c *Client) WriteBlock(addr uint32, values []uint32, mode BlockMode) (*DeferredVector, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.ensureBuf()
	return c.ip.AppendWriteBlock(&c.buf, addr, values, mode)
}

func (c *Client) RMWbits(addr, andTerm, orTerm uint32) (*DeferredWord, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.ensureBuf()
	return c.ip.AppendRMWbits(&c.buf, addr, andTerm, orTerm)
}

func (c *Client) RMWsum(addr, addend uint32) (*DeferredWord, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.ensureBuf()
	return c.ip.AppendRMWsum(&c.buf, addr, addend)
}

// Dispatch sends every transaction enqueued since the previous Dispatch and
// blocks until the reply has been received and validated, or the transport
// times out. It is a no-op when nothing is pending.
func (c *Client) Dispatch(ctx context.Context) error {
	pending := c.ip.PendingCount()
	if pending == 0 {
		return nil
	}
	c.logger.Debug("ipbus: dispatching batch", "id", c.id, "uri", c.uri, "transactions", pending)

	c.ip.Predispatch(&c.buf)

	sendErr := c.tr.Send(c.buf)
	if sendErr != nil {
		c.logger.Error("ipbus: send failed", "id", c.id, "error", sendErr)
		c.ip.StartNewBatch(sendErr)
		c.resetBuf()
		return sendErr
	}

	reply, recvErr := c.tr.Receive(ctx, 64*1024)
	if recvErr != nil {
		if errors.Is(recvErr, transport.ErrTimeout) {
			recvErr = fmt.Errorf("%w: %w", ErrTransportTimeout, recvErr)
		}
		c.logger.Warn("ipbus: receive failed", "id", c.id, "error", recvErr)
		c.ip.StartNewBatch(recvErr)
		c.resetBuf()
		return recvErr
	}

	valErr := c.ip.Validate(reply)
	if valErr != nil {
		c.logger.Error("ipbus: batch validation failed", "id", c.id, "error", valErr)
	}
	c.ip.StartNewBatch(valErr)
	c.resetBuf()
	return valErr
}

func (c *Client) resetBuf() {
	pool.PutBuf(c.buf)
	c.buf = nil
}
