package ipbus

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hep-daq/ipbus/transport"
)

func replyBytes(tid uint16, typ OpType, words []uint32) []byte {
	h := header{version: ProtocolVersion, tid: tid, words: uint8(len(words)), typ: typ, code: InfoSuccess}
	buf := make([]byte, 0, 4+4*len(words))
	buf = binary.BigEndian.AppendUint32(buf, encodeHeader(h))
	for _, w := range words {
		buf = binary.BigEndian.AppendUint32(buf, w)
	}
	return buf
}

func TestClientSingleReadDispatch(t *testing.T) {
	assert := assert.New(t)

	fake := transport.NewFake("fake://device")
	c := New("fake://device", fake)

	d, err := c.Read(0x1000)
	assert.NoError(err)
	assert.False(d.Valid())

	fake.QueueReply(transport.FakeReply{Bytes: replyBytes(0, OpRead, []uint32{0xDEADBEEF})})
	assert.NoError(c.Dispatch(context.Background()))

	assert.True(d.Valid())
	v, err := d.Word()
	assert.NoError(err)
	assert.Equal(uint32(0xDEADBEEF), v)
}

func TestClientDeferredNotYetValid(t *testing.T) {
	assert := assert.New(t)

	fake := transport.NewFake("fake://device")
	c := New("fake://device", fake)

	d, err := c.Read(0x1000)
	assert.NoError(err)

	_, err = d.Word()
	assert.ErrorIs(err, ErrNotYetValid)
}

func TestClientImplicitFlushAtWindowLimit(t *testing.T) {
	assert := assert.New(t)

	fake := transport.NewFake("fake://device")
	c := New("fake://device", fake, WithMaxBuffers(16))

	// One combined reply for the first batch of 16, concatenating all 16
	// per-transaction header+payload blocks in order.
	var firstBatchReply []byte
	for i := uint16(0); i < 16; i++ {
		firstBatchReply = append(firstBatchReply, replyBytes(i, OpRead, []uint32{uint32(i)})...)
	}
	fake.QueueReply(transport.FakeReply{Bytes: firstBatchReply})
	// Second batch: just the 17th transaction; the transaction counter keeps
	// incrementing across batches, so its id is 16, not reset to 0.
	fake.QueueReply(transport.FakeReply{Bytes: replyBytes(16, OpRead, []uint32{99})})

	var deferred []*DeferredWord
	for i := 0; i < 16; i++ {
		d, err := c.Read(uint32(i))
		assert.NoError(err)
		deferred = append(deferred, d)
	}
	// None have been sent yet.
	assert.Len(fake.Sent, 0)

	// The 17th enqueue must trigger an implicit flush of the first 16.
	d17, err := c.Read(0x99)
	assert.NoError(err)

	assert.Len(fake.Sent, 1)
	for _, d := range deferred {
		assert.True(d.Valid())
	}
	assert.False(d17.Valid())

	assert.NoError(c.Dispatch(context.Background()))
	assert.True(d17.Valid())
}

func TestClientValidationFailureOnTypeMismatch(t *testing.T) {
	assert := assert.New(t)

	fake := transport.NewFake("fake://device")
	c := New("fake://device", fake)

	d, err := c.Write(0x1000, 0xAA)
	assert.NoError(err)

	// Device replies with a read-typed header instead of write.
	fake.QueueReply(transport.FakeReply{Bytes: replyBytes(0, OpRead, []uint32{0})})
	err = c.Dispatch(context.Background())
	assert.Error(err)

	_, err = d.Word()
	assert.Error(err)
}

func TestClientBlockWrite(t *testing.T) {
	assert := assert.New(t)

	fake := transport.NewFake("fake://device")
	c := New("fake://device", fake)

	values := []uint32{1, 2, 3, 4}
	dv, err := c.WriteBlock(0x10, values, IncrementalBlock)
	assert.NoError(err)

	fake.QueueReply(transport.FakeReply{Bytes: replyBytes(0, OpWrite, make([]uint32, 4))})
	assert.NoError(c.Dispatch(context.Background()))

	got, err := dv.Words()
	assert.NoError(err)
	assert.Len(got, 4)
}

func TestClientRMWbitsMergesOldValue(t *testing.T) {
	assert := assert.New(t)

	fake := transport.NewFake("fake://device")
	c := New("fake://device", fake)

	d, err := c.RMWbits(0x1000, 0xFF00FFFF, 0x00120000)
	assert.NoError(err)

	fake.QueueReply(transport.FakeReply{Bytes: replyBytes(0, OpRMWbits, []uint32{0xAA12CCDD})})
	assert.NoError(c.Dispatch(context.Background()))

	v, err := d.Word()
	assert.NoError(err)
	assert.Equal(uint32(0xAA12CCDD), v)
}
