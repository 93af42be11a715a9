package node

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hep-daq/ipbus/ipbus"
)

func buildTree() *Node {
	top := NewHierarchy("top")
	fw := NewHierarchy("firmware")
	fw.AddChild(NewRegister("id", 0x0, NoMask, Read))
	fw.AddChild(NewRegister("ctrl", 0x1, NoMask, ReadWrite))
	fw.AddChild(NewRegister("masked", 0x2, 0x00FF0000, ReadWrite))
	fw.AddChild(NewBlock("ram", 0x10, 16, ReadWrite))
	fw.AddChild(NewFIFO("fifo", 0x20, 1, Read))
	top.AddChild(fw)
	return top
}

func TestGetNode(t *testing.T) {
	assert := assert.New(t)
	top := buildTree()

	t.Run("round trip through every listed path", func(t *testing.T) {
		for _, p := range top.ListNodes() {
			n, err := top.GetNode(p)
			assert.NoError(err)
			assert.NotNil(n)
		}
	})

	t.Run("empty path returns self", func(t *testing.T) {
		n, err := top.GetNode("")
		assert.NoError(err)
		assert.Same(top, n)
	})

	t.Run("absolute address composed from ancestors", func(t *testing.T) {
		n, err := top.GetNode("firmware.ctrl")
		assert.NoError(err)
		assert.Equal(uint32(0x1), n.Addr)
	})

	t.Run("miss with partial match reports the matched prefix", func(t *testing.T) {
		_, err := top.GetNode("firmware.ctrl.bogus")
		assert.Error(err)
		var nbf *NoBranchFoundWithGivenUID
		assert.ErrorAs(err, &nbf)
		assert.True(nbf.Partial)
		assert.Equal("firmware.ctrl", nbf.Prefix)
	})

	t.Run("miss with no match at all reports the whole tree", func(t *testing.T) {
		_, err := top.GetNode("nope.nothing")
		assert.Error(err)
		var nbf *NoBranchFoundWithGivenUID
		assert.ErrorAs(err, &nbf)
		assert.False(nbf.Partial)
	})
}

func TestListNodesMatching(t *testing.T) {
	assert := assert.New(t)
	top := buildTree()

	paths, err := top.ListNodesMatching(`firmware\.(id|ctrl)`)
	assert.NoError(err)
	assert.Equal([]string{"firmware.ctrl", "firmware.id"}, paths)
}

func TestClone(t *testing.T) {
	assert := assert.New(t)
	top := buildTree()

	clone := top.Clone()
	assert.True(top.Equal(clone))
	assert.Equal(top.ListNodes(), clone.ListNodes())

	// Mutating the clone's subtree must not affect the original.
	child, err := clone.GetNode("firmware.ctrl")
	assert.NoError(err)
	child.Permission = Read
	orig, err := top.GetNode("firmware.ctrl")
	assert.NoError(err)
	assert.Equal(ReadWrite, orig.Permission)
}

func TestCheckBlockSize(t *testing.T) {
	assert := assert.New(t)

	single := NewRegister("r", 0x0, NoMask, ReadWrite)
	assert.NoError(single.checkBlockSize(1))
	var tooMany *BulkTransferOnSingleRegister
	assert.ErrorAs(single.checkBlockSize(2), &tooMany)

	block := NewBlock("b", 0x0, 4, ReadWrite)
	assert.NoError(block.checkBlockSize(4))
	var tooLarge *BulkTransferRequestedTooLarge
	assert.ErrorAs(block.checkBlockSize(5), &tooLarge)
}

func TestWriteRequiresPermission(t *testing.T) {
	assert := assert.New(t)
	n := NewRegister("r", 0x1000, NoMask, Read)
	_, err := n.Write(1)
	var denied *WriteAccessDenied
	assert.ErrorAs(err, &denied)
}

func TestReadRequiresPermission(t *testing.T) {
	assert := assert.New(t)
	n := NewRegister("r", 0x1000, NoMask, Write)
	_, err := n.Read()
	var denied *ReadAccessDenied
	assert.ErrorAs(err, &denied)
}

func TestUnboundNodeReportsNotBound(t *testing.T) {
	assert := assert.New(t)
	n := NewRegister("r", 0x1000, NoMask, ReadWrite)
	_, err := n.Write(1)
	assert.Error(err)
}

// stubClient is a minimal ipbus.ClientInterface used to test the node
// layer's routing (raw vs masked, single vs block) without a real wire
// protocol underneath.
type stubClient struct {
	ipbus.ClientInterface // nil; only the methods below are exercised
	rmwAddr, rmwAnd, rmwOr uint32
	writeAddr, writeValue  uint32
	readAddr               uint32
}

func (s *stubClient) Write(addr, value uint32) (*ipbus.DeferredWord, error) {
	s.writeAddr, s.writeValue = addr, value
	return &ipbus.DeferredWord{}, nil
}

func (s *stubClient) RMWbits(addr, andTerm, orTerm uint32) (*ipbus.DeferredWord, error) {
	s.rmwAddr, s.rmwAnd, s.rmwOr = addr, andTerm, orTerm
	return &ipbus.DeferredWord{}, nil
}

func (s *stubClient) Read(addr uint32) (*ipbus.DeferredWord, error) {
	s.readAddr = addr
	return &ipbus.DeferredWord{}, nil
}

func TestWriteRoutesRawVsMasked(t *testing.T) {
	assert := assert.New(t)

	raw := NewRegister("r", 0x1000, NoMask, ReadWrite)
	stub := &stubClient{}
	Claim(raw, func() (ipbus.ClientInterface, error) { return stub, nil })
	_, err := raw.Write(0xAABBCCDD)
	assert.NoError(err)
	assert.Equal(uint32(0x1000), stub.writeAddr)
	assert.Equal(uint32(0xAABBCCDD), stub.writeValue)

	masked := NewRegister("m", 0x1000, 0x00FF0000, ReadWrite)
	stub2 := &stubClient{}
	Claim(masked, func() (ipbus.ClientInterface, error) { return stub2, nil })
	_, err = masked.Write(0x12)
	assert.NoError(err)
	assert.Equal(uint32(0x1000), stub2.rmwAddr)
	assert.Equal(uint32(0xFF00FFFF), stub2.rmwAnd)
	assert.Equal(uint32(0x00120000), stub2.rmwOr)
}
