package hw

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hep-daq/ipbus/ipbus"
	"github.com/hep-daq/ipbus/node"
	"github.com/hep-daq/ipbus/transport"
)

func TestNewClaimsEveryNode(t *testing.T) {
	assert := assert.New(t)

	top := node.NewHierarchy("top")
	top.AddChild(node.NewRegister("a", 0x0, node.NoMask, node.ReadWrite))
	top.AddChild(node.NewRegister("b", 0x1, node.NoMask, node.ReadWrite))

	fake := transport.NewFake("fake://device")
	client := ipbus.New("fake://device", fake)

	h, err := New(client, top)
	assert.NoError(err)

	for _, path := range top.ListNodes() {
		n, err := h.GetNode(path)
		assert.NoError(err)
		_, err = n.Read()
		assert.NoError(err, "node %s should resolve a client", path)
	}
}

func TestInterfaceForwarding(t *testing.T) {
	assert := assert.New(t)

	top := node.NewHierarchy("top")
	fake := transport.NewFake("fake://device")
	client := ipbus.New("fake://device", fake, ipbus.WithID("dev-1"))

	h, err := New(client, top)
	assert.NoError(err)

	assert.Equal("dev-1", h.ID())
	assert.Equal("fake://device", h.URI())
	assert.NoError(h.Dispatch(context.Background()))
}
