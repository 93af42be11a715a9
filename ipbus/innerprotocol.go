package ipbus

import (
	"encoding/binary"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// pendingTransaction is one outstanding request: the header that was sent,
// and where its reply words land once validate runs.
type pendingTransaction struct {
	id     uint16
	typ    OpType
	words  uint8
	offset int
	length int
}

// InnerProtocol assembles and validates the pure-IPbus portion of a batch:
// transaction headers and payload words. It owns no transport; the layer
// wrapping it (a plain ipbus.Client or a controlhub.Client) is responsible
// for sending the assembled buffer and handing the reply back to Validate.
//
// This is the "innerProtocol" layer of the composable stack: an outer layer
// (ControlHub) owns one of these and writes its own framing
// immediately before/after what this type appends.
type InnerProtocol struct {
	maxBuffers int
	nextID     uint16
	pending    []pendingTransaction
	window     *xsync.MapOf[uint32, pendingTransaction]
	cur        *arena
}

// NewInnerProtocol creates an InnerProtocol whose implicit-flush window is
// maxBuffers outstanding transactions.
func NewInnerProtocol(maxBuffers int) *InnerProtocol {
	return &InnerProtocol{
		maxBuffers: maxBuffers,
		window:     xsync.NewMapOf[uint32, pendingTransaction](),
		cur:        &arena{},
	}
}

// MaxBuffers is the number of outstanding transactions this layer will
// assemble into one batch before an implicit flush is required.
func (ip *InnerProtocol) MaxBuffers() int {
	return ip.maxBuffers
}

// PendingCount is the number of transactions enqueued since the last
// StartNewBatch.
func (ip *InnerProtocol) PendingCount() int {
	return len(ip.pending)
}

// AtCapacity reports whether the next enqueue would exceed MaxBuffers,
// meaning the caller must dispatch the current batch first.
func (ip *InnerProtocol) AtCapacity() bool {
	return len(ip.pending) >= ip.maxBuffers
}

// Arena returns the arena backing handles issued against the current batch.
func (ip *InnerProtocol) Arena() *arena {
	return ip.cur
}

// Predispatch is a no-op at this layer: by the time it is called every
// transaction header already carries its final word count.
func (ip *InnerProtocol) Predispatch(buf *[]byte) {}

// nextTID hands out the next transaction id, wrapping at the wire header's
// 12-bit tid field width rather than the counter's own 16-bit storage, so
// the id recorded in ip.pending and ip.window always matches what goes out
// on the wire and comes back in a reply header.
func (ip *InnerProtocol) nextTID() uint16 {
	id := ip.nextID
	ip.nextID = (ip.nextID + 1) & tidMask
	return id
}

func (ip *InnerProtocol) appendHeader(buf *[]byte, h header) {
	*buf = binary.BigEndian.AppendUint32(*buf, encodeHeader(h))
}

// AppendRead enqueues a single-register read.
func (ip *InnerProtocol) AppendRead(buf *[]byte, addr uint32) (*DeferredWord, error) {
	tid := ip.nextTID()
	ip.appendHeader(buf, requestHeader(tid, 1, OpRead))
	*buf = binary.BigEndian.AppendUint32(*buf, addr)
	off := ip.cur.reserve(1)
	ip.track(tid, OpRead, 1, off, 1)
	return &DeferredWord{a: ip.cur, offset: off}, nil
}

// AppendReadMasked enqueues a single-register read whose eventual value is
// shifted and masked on access.
func (ip *InnerProtocol) AppendReadMasked(buf *[]byte, addr, mask uint32) (*DeferredWord, error) {
	d, err := ip.AppendRead(buf, addr)
	if err != nil {
		return nil, err
	}
	d.mask = mask
	d.shift = maskShift(mask)
	return d, nil
}

// AppendWrite enqueues a single-register write.
func (ip *InnerProtocol) AppendWrite(buf *[]byte, addr, value uint32) (*DeferredWord, error) {
	tid := ip.nextTID()
	ip.appendHeader(buf, requestHeader(tid, 1, OpWrite))
	*buf = binary.BigEndian.AppendUint32(*buf, addr)
	*buf = binary.BigEndian.AppendUint32(*buf, value)
	off := ip.cur.reserve(1)
	ip.track(tid, OpWrite, 1, off, 1)
	return &DeferredWord{a: ip.cur, offset: off}, nil
}

// AppendRMWbits enqueues a read-modify-write-bits transaction: the device
// computes (old & andTerm) | orTerm and returns the new value.
func (ip *InnerProtocol) AppendRMWbits(buf *[]byte, addr, andTerm, orTerm uint32) (*DeferredWord, error) {
	tid := ip.nextTID()
	ip.appendHeader(buf, requestHeader(tid, 3, OpRMWbits))
	*buf = binary.BigEndian.AppendUint32(*buf, addr)
	*buf = binary.BigEndian.AppendUint32(*buf, andTerm)
	*buf = binary.BigEndian.AppendUint32(*buf, orTerm)
	off := ip.cur.reserve(1)
	ip.track(tid, OpRMWbits, 1, off, 1)
	return &DeferredWord{a: ip.cur, offset: off}, nil
}

// AppendRMWsum enqueues a read-modify-write-sum transaction: the device
// computes old + addend and returns the new value.
func (ip *InnerProtocol) AppendRMWsum(buf *[]byte, addr, addend uint32) (*DeferredWord, error) {
	tid := ip.nextTID()
	ip.appendHeader(buf, requestHeader(tid, 2, OpRMWsum))
	*buf = binary.BigEndian.AppendUint32(*buf, addr)
	*buf = binary.BigEndian.AppendUint32(*buf, addend)
	off := ip.cur.reserve(1)
	ip.track(tid, OpRMWsum, 1, off, 1)
	return &DeferredWord{a: ip.cur, offset: off}, nil
}

// BlockMode selects incrementing-address vs fixed-address ("FIFO") block
// semantics for AppendReadBlock/AppendWriteBlock.
type BlockMode int

const (
	IncrementalBlock BlockMode = iota
	NonIncrementalBlock
)

// AppendReadBlock enqueues a block read of n words at addr, chunked into
// MaxWordsPerTransaction-sized transactions as needed.
func (ip *InnerProtocol) AppendReadBlock(buf *[]byte, addr uint32, n int, mode BlockMode) (*DeferredVector, error) {
	if n <= 0 {
		return nil, &BulkTransferRequestedTooLarge{Requested: n}
	}
	off := ip.cur.reserve(n)
	typ := OpRead
	if mode == NonIncrementalBlock {
		typ = OpNonIncrementingRead
	}
	remaining, cur := n, addr
	for remaining > 0 {
		chunk := remaining
		if chunk > MaxWordsPerTransaction {
			chunk = MaxWordsPerTransaction
		}
		tid := ip.nextTID()
		ip.appendHeader(buf, requestHeader(tid, uint8(chunk), typ))
		*buf = binary.BigEndian.AppendUint32(*buf, cur)
		chunkOff := off + (n - remaining)
		ip.track(tid, typ, uint8(chunk), chunkOff, chunk)
		remaining -= chunk
		if mode == IncrementalBlock {
			cur += uint32(chunk)
		}
	}
	return &DeferredVector{a: ip.cur, offset: off, length: n}, nil
}

// AppendWriteBlock enqueues a block write of values at addr, chunked into
// MaxWordsPerTransaction-sized transactions as needed.
func (ip *InnerProtocol) AppendWriteBlock(buf *[]byte, addr uint32, values []uint32, mode BlockMode) (*DeferredVector, error) {
	n := len(values)
	if n == 0 {
		return nil, &BulkTransferRequestedTooLarge{Requested: n}
	}
	off := ip.cur.reserve(n)
	typ := OpWrite
	if mode == NonIncrementalBlock {
		typ = OpNonIncrementingWrite
	}
	remaining, cur, pos := n, addr, 0
	for remaining > 0 {
		chunk := remaining
		if chunk > MaxWordsPerTransaction {
			chunk = MaxWordsPerTransaction
		}
		tid := ip.nextTID()
		ip.appendHeader(buf, requestHeader(tid, uint8(chunk), typ))
		*buf = binary.BigEndian.AppendUint32(*buf, cur)
		for i := 0; i < chunk; i++ {
			*buf = binary.BigEndian.AppendUint32(*buf, values[pos+i])
		}
		ip.track(tid, typ, uint8(chunk), off+pos, chunk)
		pos += chunk
		remaining -= chunk
		if mode == IncrementalBlock {
			cur += uint32(chunk)
		}
	}
	return &DeferredVector{a: ip.cur, offset: off, length: n}, nil
}

func (ip *InnerProtocol) track(tid uint16, typ OpType, words uint8, offset, length int) {
	pt := pendingTransaction{id: tid, typ: typ, words: words, offset: offset, length: length}
	ip.pending = append(ip.pending, pt)
	ip.window.Store(uint32(tid), pt)
}

// Validate walks reply in lock-step with the pending transactions recorded
// since the last StartNewBatch, copying each transaction's reply payload
// into the arena slot reserved for it. The transaction id in each reply
// header is cross-checked against the outstanding-transaction window as a
// tiebreaker against any reordering a lower layer might introduce.
func (ip *InnerProtocol) Validate(reply []byte) error {
	pos := 0
	for _, pt := range ip.pending {
		if pos+4 > len(reply) {
			return &ValidationError{TransactionID: pt.id, Want: pt.typ, Reason: "reply truncated before header"}
		}
		h := decodeHeader(binary.BigEndian.Uint32(reply[pos:]))
		pos += 4

		if _, ok := ip.window.Load(uint32(h.tid)); !ok {
			return &ValidationError{TransactionID: h.tid, Want: pt.typ, Got: h, Reason: "transaction id not in outstanding window"}
		}
		if h.tid != pt.id {
			return &ValidationError{TransactionID: pt.id, Want: pt.typ, Got: h, Reason: fmt.Sprintf("out-of-order reply, got tid %d", h.tid)}
		}
		if h.typ != pt.typ {
			return &ValidationError{TransactionID: pt.id, Want: pt.typ, Got: h, Reason: fmt.Sprintf("reply type %s, want %s", h.typ, pt.typ)}
		}
		if h.code != InfoSuccess {
			return &ValidationError{TransactionID: pt.id, Want: pt.typ, Got: h, Reason: fmt.Sprintf("device reported %s", h.code)}
		}

		if pos+4*pt.length > len(reply) {
			return &ValidationError{TransactionID: pt.id, Want: pt.typ, Got: h, Reason: "reply truncated before payload"}
		}
		for i := 0; i < pt.length; i++ {
			ip.cur.words[pt.offset+i] = binary.BigEndian.Uint32(reply[pos:])
			pos += 4
		}
		ip.window.Delete(uint32(h.tid))
	}
	return nil
}

// StartNewBatch seals the current arena (success or failure per err) and
// arms a fresh one for the next round of enqueues. Any pending transaction
// Validate did not already clear from the outstanding-transaction window —
// because the batch failed before or during validation — is reclaimed here,
// so a send error, a receive timeout, or a mid-batch validation failure
// never leaves stale tids in the window.
func (ip *InnerProtocol) StartNewBatch(err error) {
	for _, pt := range ip.pending {
		ip.window.Delete(uint32(pt.id))
	}
	if err != nil {
		ip.cur.fail(err)
	} else {
		ip.cur.seal()
	}
	ip.pending = ip.pending[:0]
	ip.cur = &arena{}
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
