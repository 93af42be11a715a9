package controlhub

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hep-daq/ipbus/transport"
)

const (
	opRead      = 0x0
	opWrite     = 0x1
	infoSuccess = 0x0
)

func ipbusHeader(tid uint16, words uint8, typ uint8, code uint8) uint32 {
	return uint32(2)<<28 | uint32(tid&0xfff)<<16 | uint32(words)<<8 | uint32(typ&0xf)<<4 | uint32(code&0xf)
}

// relayReply builds a full ControlHub-framed reply: its own 16-byte
// preamble followed by one IPbus transaction header+payload.
func relayReply(deviceIP uint32, devicePort, errCode uint16, tid uint16, typ uint8, words []uint32) []byte {
	ipbusPayload := make([]byte, 0, 4+4*len(words))
	ipbusPayload = binary.BigEndian.AppendUint32(ipbusPayload, ipbusHeader(tid, uint8(len(words)), typ, infoSuccess))
	for _, w := range words {
		ipbusPayload = binary.BigEndian.AppendUint32(ipbusPayload, w)
	}

	buf := make([]byte, 0, replyPreambleSize+len(ipbusPayload))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ipbusPayload)+8)) // total byte counter
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ipbusPayload)+8)) // chunk byte counter
	buf = binary.BigEndian.AppendUint32(buf, deviceIP)
	buf = binary.BigEndian.AppendUint16(buf, devicePort)
	buf = binary.BigEndian.AppendUint16(buf, errCode)
	buf = append(buf, ipbusPayload...)
	return buf
}

func TestControlHubSingleReadDispatch(t *testing.T) {
	assert := assert.New(t)

	uri := "ipbusudp-2.0-controlhub://hub.example:10203?target=192.168.1.42:50001"
	fake := transport.NewFake(uri)
	c, err := New(uri, fake)
	assert.NoError(err)

	d, err := c.Read(0x1000)
	assert.NoError(err)

	fake.QueueReply(transport.FakeReply{Bytes: relayReply(c.deviceIP, c.devicePort, 0, 0, opRead, []uint32{0xCAFEBABE})})
	assert.NoError(c.Dispatch(context.Background()))

	v, err := d.Word()
	assert.NoError(err)
	assert.Equal(uint32(0xCAFEBABE), v)
}

func TestControlHubTargetTimeout(t *testing.T) {
	assert := assert.New(t)

	uri := "ipbusudp-2.0-controlhub://hub.example:10203?target=192.168.1.42:50001"
	fake := transport.NewFake(uri)
	c, err := New(uri, fake)
	assert.NoError(err)

	_, err = c.Read(0x1000)
	assert.NoError(err)

	fake.QueueReply(transport.FakeReply{Bytes: relayReply(c.deviceIP, c.devicePort, 1, 0, opRead, nil)})
	err = c.Dispatch(context.Background())

	var tt *ControlHubTargetTimeout
	assert.ErrorAs(err, &tt)
}

func TestControlHubInternalTimeout(t *testing.T) {
	assert := assert.New(t)

	uri := "ipbusudp-2.0-controlhub://hub.example:10203?target=192.168.1.42:50001"
	fake := transport.NewFake(uri)
	c, err := New(uri, fake)
	assert.NoError(err)

	_, err = c.Read(0x1000)
	assert.NoError(err)

	fake.QueueReply(transport.FakeReply{Bytes: relayReply(c.deviceIP, c.devicePort, 2, 0, opRead, nil)})
	err = c.Dispatch(context.Background())

	var it *ControlHubInternalTimeout
	assert.ErrorAs(err, &it)
}

func TestControlHubPreambleSentBeforeIPbusWords(t *testing.T) {
	assert := assert.New(t)

	uri := "ipbusudp-2.0-controlhub://hub.example:10203?target=192.168.1.42:50001"
	fake := transport.NewFake(uri)
	c, err := New(uri, fake)
	assert.NoError(err)

	_, err = c.Write(0x1000, 0xAA)
	assert.NoError(err)

	fake.QueueReply(transport.FakeReply{Bytes: relayReply(c.deviceIP, c.devicePort, 0, 0, opWrite, nil)})
	assert.NoError(c.Dispatch(context.Background()))

	assert.Len(fake.Sent, 1)
	sent := fake.Sent[0]
	assert.GreaterOrEqual(len(sent), preambleSize)
	gotIP := binary.BigEndian.Uint32(sent[4:])
	assert.Equal(c.deviceIP, gotIP)
}
