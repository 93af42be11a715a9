package node

import "github.com/hep-daq/ipbus/ipbus"

// Read issues a single-register read against n. It requires the Read
// permission, returning ReadAccessDenied otherwise. A non-NoMask mask
// shifts and masks the reply word on access rather than on the wire.
func (n *Node) Read() (*ipbus.DeferredWord, error) {
	if n.Permission&Read == 0 {
		return nil, &ReadAccessDenied{Path: n.ID}
	}
	c, err := n.client()
	if err != nil {
		return nil, err
	}
	if n.Mask == NoMask {
		return c.Read(n.Addr)
	}
	return c.ReadMasked(n.Addr, n.Mask)
}

// Write issues a single-register write of value against n. It requires the
// Write permission, returning WriteAccessDenied otherwise. If Mask is
// NoMask the raw value is written; otherwise the client layer performs a
// read-modify-write-bits operation so only the masked bits of the register
// are touched.
func (n *Node) Write(value uint32) (*ipbus.DeferredWord, error) {
	if n.Permission&Write == 0 {
		return nil, &WriteAccessDenied{Path: n.ID}
	}
	c, err := n.client()
	if err != nil {
		return nil, err
	}
	if n.Mask == NoMask {
		return c.Write(n.Addr, value)
	}
	shift := maskShift(n.Mask)
	return c.RMWbits(n.Addr, ^n.Mask, (value<<shift)&n.Mask)
}

// ReadBlock issues a block read of count words against n. It requires the
// Read permission and a count compatible with n's Mode and Size.
func (n *Node) ReadBlock(count int) (*ipbus.DeferredVector, error) {
	if n.Permission&Read == 0 {
		return nil, &ReadAccessDenied{Path: n.ID}
	}
	if err := n.checkBlockSize(count); err != nil {
		return nil, err
	}
	c, err := n.client()
	if err != nil {
		return nil, err
	}
	return c.ReadBlock(n.Addr, count, n.blockMode())
}

// WriteBlock issues a block write of values against n. It requires the
// Write permission and a length compatible with n's Mode and Size.
func (n *Node) WriteBlock(values []uint32) (*ipbus.DeferredVector, error) {
	if n.Permission&Write == 0 {
		return nil, &WriteAccessDenied{Path: n.ID}
	}
	if err := n.checkBlockSize(len(values)); err != nil {
		return nil, err
	}
	c, err := n.client()
	if err != nil {
		return nil, err
	}
	return c.WriteBlock(n.Addr, values, n.blockMode())
}

func (n *Node) blockMode() ipbus.BlockMode {
	if n.Mode == NonIncremental {
		return ipbus.NonIncrementalBlock
	}
	return ipbus.IncrementalBlock
}

func (n *Node) checkBlockSize(count int) error {
	if n.Mode == Single {
		if count != 1 {
			return &BulkTransferOnSingleRegister{Path: n.ID, Requested: count}
		}
		return nil
	}
	if n.Size > 1 && uint32(count) > n.Size {
		return &BulkTransferRequestedTooLarge{Path: n.ID, Requested: uint32(count), Max: n.Size}
	}
	return nil
}

func maskShift(mask uint32) uint {
	if mask == 0 {
		return 0
	}
	shift := uint(0)
	for mask&1 == 0 {
		mask >>= 1
		shift++
	}
	return shift
}
