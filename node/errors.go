package node

import "fmt"

// NoBranchFoundWithGivenUID is returned by GetNode on a dotted-path miss. It
// carries the longest matching prefix found, if any, and a dump of that
// prefix's subtree so a caller can see what was actually there.
type NoBranchFoundWithGivenUID struct {
	Path    string
	Prefix  string
	Partial bool
	Tree    string
}

func (e *NoBranchFoundWithGivenUID) Error() string {
	if !e.Partial {
		return fmt.Sprintf("no branch found with ID-path %q; not even a partial match found; tree structure is:%s", e.Path, e.Tree)
	}
	return fmt.Sprintf("no branch found with ID-path %q; partial match %q found; tree structure of partial match is:%s", e.Path, e.Prefix, e.Tree)
}

// WriteAccessDenied is returned by Write/WriteBlock against a node without
// the Write permission bit set.
type WriteAccessDenied struct {
	Path string
}

func (e *WriteAccessDenied) Error() string {
	return fmt.Sprintf("node %q: write access denied", e.Path)
}

// ReadAccessDenied is returned by Read/ReadBlock against a node without the
// Read permission bit set.
type ReadAccessDenied struct {
	Path string
}

func (e *ReadAccessDenied) Error() string {
	return fmt.Sprintf("node %q: read access denied", e.Path)
}

// BulkTransferOnSingleRegister is returned when ReadBlock/WriteBlock is
// called against a Single-mode node with a count other than 1.
type BulkTransferOnSingleRegister struct {
	Path      string
	Requested int
}

func (e *BulkTransferOnSingleRegister) Error() string {
	return fmt.Sprintf("node %q: bulk transfer of %d words requested on a single register", e.Path, e.Requested)
}

// BulkTransferRequestedTooLarge is returned when a block transfer exceeds
// the node's declared Size.
type BulkTransferRequestedTooLarge struct {
	Path      string
	Requested uint32
	Max       uint32
}

func (e *BulkTransferRequestedTooLarge) Error() string {
	return fmt.Sprintf("node %q: bulk transfer of %d words requested exceeds block size %d", e.Path, e.Requested, e.Max)
}
