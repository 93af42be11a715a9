// Package controlhub implements the ControlHub preamble layer: the framing
// a ControlHub relay expects wrapped around a plain IPbus packet, and the
// reply-side error codes the relay reports about the target device it
// forwarded the packet to.
package controlhub

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/hep-daq/ipbus/internal/pool"
	"github.com/hep-daq/ipbus/internal/queue"
	"github.com/hep-daq/ipbus/ipbus"
	"github.com/hep-daq/ipbus/logger"
	"github.com/hep-daq/ipbus/transport"
)

// Client dispatches IPbus packets to a device via a ControlHub relay. It
// owns an ipbus.InnerProtocol and wraps every batch with the
// relay's framing, chaining preamble/predispatch/validate around the inner
// layer exactly as the explicit-composition replacement for the source's
// ControlHub<InnerProtocol> template specifies.
type Client struct {
	id      string
	uri     string
	timeout time.Duration
	tr      transport.Transport
	ip      *ipbus.InnerProtocol
	buf     []byte

	deviceIP   uint32
	devicePort uint16

	preambles queue.Queue
	logger    logger.Logger
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithID overrides the client's identifier.
func WithID(id string) Option {
	return func(c *Client) { c.id = id }
}

// WithTimeout sets the per-dispatch transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger overrides the client's logger (logger.GetLogger() otherwise).
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// MaxBuffers is fixed at 16 outstanding logical packets for the ControlHub
// layer, matching getMaxNumberOfBuffers() in the reference implementation.
const MaxBuffers = 16

// New creates a ControlHub-relayed client. uri must carry a target= query
// parameter ExtractTargetID can resolve to the device's IP and port.
func New(uri string, tr transport.Transport, opts ...Option) (*Client, error) {
	deviceIP, devicePort, err := ExtractTargetID(uri)
	if err != nil {
		return nil, err
	}

	c := &Client{
		uri:        uri,
		timeout:    5 * time.Second,
		tr:         tr,
		ip:         ipbus.NewInnerProtocol(MaxBuffers),
		deviceIP:   deviceIP,
		devicePort: devicePort,
		preambles:  queue.NewSliceQueue(MaxBuffers),
		logger:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tr.SetTimeout(c.timeout)
	return c, nil
}

func (c *Client) ID() string                { return c.id }
func (c *Client) URI() string                { return c.uri }
func (c *Client) Timeout() time.Duration     { return c.timeout }
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d; c.tr.SetTimeout(d) }

func (c *Client) ensureRoom() error {
	if c.ip.AtCapacity() {
		return c.Dispatch(context.Background())
	}
	return nil
}

// preamble appends the outgoing framing placeholders for one new logical
// packet. It is called before every enqueue but only writes anything when
// the shared buffer is empty (i.e. this is the first transaction of a fresh
// batch).
func (c *Client) preamble() {
	if len(c.buf) != 0 {
		return
	}
	c.buf = pool.GetBuf(64)

	byteCountOffset := len(c.buf)
	c.buf = binary.BigEndian.AppendUint32(c.buf, 0) // byte-count placeholder

	c.buf = binary.BigEndian.AppendUint32(c.buf, c.deviceIP)
	c.buf = binary.BigEndian.AppendUint16(c.buf, c.devicePort)

	wordCountOffset := len(c.buf)
	c.buf = binary.BigEndian.AppendUint16(c.buf, 0) // word-count placeholder

	c.preambles.Enqueue(&preambleRecord{
		byteCountOffset: byteCountOffset,
		wordCountOffset: wordCountOffset,
		deviceIP:        c.deviceIP,
		devicePort:      c.devicePort,
		payloadStart:    len(c.buf),
	})
}

// predispatch fills in the placeholders preamble reserved, now that the
// inner protocol has appended every word of this logical packet.
func (c *Client) predispatch() {
	rec, _ := c.preambles.Peek().(*preambleRecord)
	if rec == nil {
		return
	}
	payloadLen := len(c.buf) - rec.payloadStart
	totalLen := len(c.buf) - rec.byteCountOffset - 4
	binary.BigEndian.PutUint32(c.buf[rec.byteCountOffset:], uint32(totalLen))
	binary.BigEndian.PutUint16(c.buf[rec.wordCountOffset:], uint16(payloadLen/4))
}

// validate parses the ControlHub's reply framing, translates its error
// code, and on success hands the remaining bytes to the inner protocol's
// own validation.
func (c *Client) validate(reply []byte) error {
	rec, _ := c.preambles.Dequeue().(*preambleRecord)

	if len(reply) < replyPreambleSize {
		return &ProtocolError{Code: 0xffff}
	}
	replyDeviceIP := binary.BigEndian.Uint32(reply[8:])
	replyDevicePort := binary.BigEndian.Uint16(reply[12:])
	errorCode := binary.BigEndian.Uint16(reply[14:])

	if errorCode != 0 {
		switch errorCode {
		case 1:
			return &ControlHubTargetTimeout{DeviceIP: replyDeviceIP, DevicePort: replyDevicePort}
		case 2:
			return &ControlHubInternalTimeout{}
		default:
			return &ProtocolError{Code: errorCode}
		}
	}
	if rec != nil && (replyDeviceIP != rec.deviceIP || replyDevicePort != rec.devicePort) {
		return &ProtocolError{Code: errorCode}
	}

	return c.ip.Validate(reply[replyPreambleSize:])
}

func (c *Client) Read(addr uint32) (*ipbus.DeferredWord, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.preamble()
	return c.ip.AppendRead(&c.buf, addr)
}

func (c *Client) ReadMasked(addr, mask uint32) (*ipbus.DeferredWord, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.preamble()
	return c.ip.AppendReadMasked(&c.buf, addr, mask)
}

func (c *Client) ReadBlock(addr uint32, n int, mode ipbus.BlockMode) (*ipbus.DeferredVector, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.preamble()
	return c.ip.AppendReadBlock(&c.buf, addr, n, mode)
}

func (c *Client) Write(addr, value uint32) (*ipbus.DeferredWord, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.preamble()
	return c.ip.AppendWrite(&c.buf, addr, value)
}

func (c *Client) WriteBlock(addr uint32, values []uint32, mode ipbus.BlockMode) (*ipbus.DeferredVector, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.preamble()
	return c.ip.AppendWriteBlock(&c.buf, addr, values, mode)
}

func (c *Client) RMWbits(addr, andTerm, orTerm uint32) (*ipbus.DeferredWord, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.preamble()
	return c.ip.AppendRMWbits(&c.buf, addr, andTerm, orTerm)
}

func (c *Client) RMWsum(addr, addend uint32) (*ipbus.DeferredWord, error) {
	if err := c.ensureRoom(); err != nil {
		return nil, err
	}
	c.preamble()
	return c.ip.AppendRMWsum(&c.buf, addr, addend)
}

// Dispatch sends every transaction enqueued since the previous Dispatch,
// wrapped in ControlHub framing, and blocks until the relay's reply has
// been received and validated.
func (c *Client) Dispatch(ctx context.Context) error {
	pending := c.ip.PendingCount()
	if pending == 0 {
		return nil
	}
	c.logger.Debug("controlhub: dispatching batch", "id", c.id, "uri", c.uri, "transactions", pending)

	c.ip.Predispatch(&c.buf)
	c.predispatch()

	if err := c.tr.Send(c.buf); err != nil {
		c.logger.Error("controlhub: send failed", "id", c.id, "error", err)
		c.ip.StartNewBatch(err)
		c.resetBatch()
		return err
	}

	reply, err := c.tr.Receive(ctx, 64*1024)
	if err != nil {
		c.logger.Warn("controlhub: receive failed", "id", c.id, "error", err)
		c.ip.StartNewBatch(err)
		c.resetBatch()
		return err
	}

	valErr := c.validate(reply)
	if valErr != nil {
		c.logger.Error("controlhub: batch validation failed", "id", c.id, "error", valErr)
	}
	c.ip.StartNewBatch(valErr)
	c.resetBatch()
	return valErr
}

func (c *Client) resetBatch() {
	pool.PutBuf(c.buf)
	c.buf = nil
	c.preambles.Reset()
}
