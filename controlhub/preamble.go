package controlhub

// preambleRecord is the memory kept persistent across one dispatch for a
// single logical packet's framing: the offsets of the two outgoing
// placeholders patched in at predispatch time, and the device identity the
// reply framing is checked against. A queue of these (internal/queue) keeps
// them alive for as many logical packets as are assembled before a flush.
type preambleRecord struct {
	byteCountOffset int
	wordCountOffset int
	deviceIP        uint32
	devicePort      uint16
	payloadStart    int
}

// preambleSize is the fixed size, in bytes, of the outgoing framing this
// layer prepends to each logical packet: byte-count placeholder (4),
// device IP (4), device port (2), word-count placeholder (2).
const preambleSize = 12

// replyPreambleSize is the fixed size, in bytes, of the ControlHub's reply
// framing: total byte counter (4), chunk byte counter (4), device IP (4),
// device port (2), error code (2).
const replyPreambleSize = 16
