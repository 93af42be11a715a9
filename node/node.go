// Package node implements the address-tree model: a hierarchical,
// dotted-path-addressable description of a device's register map, with
// access-mode semantics (single register, incremental block, non-incremental
// FIFO), permissions, and bit masks.
package node

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hep-daq/ipbus/internal/util"
	"github.com/hep-daq/ipbus/ipbus"
)

// Mode describes how a node's address range behaves across a block transfer.
type Mode int

const (
	// Single is a single 32-bit register.
	Single Mode = iota
	// Incremental is a contiguous block; each word is read/written at addr+i.
	Incremental
	// NonIncremental is a FIFO-style port; every word is read/written at addr.
	NonIncremental
	// Hierarchical is a non-leaf grouping node with no independently
	// meaningful size or mask.
	Hierarchical
)

func (m Mode) String() string {
	switch m {
	case Single:
		return "single"
	case Incremental:
		return "incremental"
	case NonIncremental:
		return "non-incremental"
	case Hierarchical:
		return "hierarchical"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Permission is a bitmask of the access modes granted on a node.
type Permission uint8

const (
	Read Permission = 1 << iota
	Write
	ReadWrite = Read | Write
)

func (p Permission) String() string {
	r, w := byte('-'), byte('-')
	if p&Read != 0 {
		r = 'r'
	}
	if p&Write != 0 {
		w = 'w'
	}
	return string([]byte{r, w})
}

// NoMask is the sentinel mask value meaning "no masking": the full register
// participates, unshifted.
const NoMask uint32 = 0xFFFFFFFF

// Parameter is an ordered, duplicate-permitting (name, value) metadata pair.
type Parameter struct {
	Name  string
	Value string
}

// resolver returns the client bound to the tree a node belongs to. It is
// stamped by hw.New as a weak, non-owning association — never raw pointer
// back-references into the hardware interface.
type resolver func() (ipbus.ClientInterface, error)

// Node represents either a register, a block, or a non-leaf grouping in a
// device's address tree.
type Node struct {
	ID          string
	PartialAddr uint32
	Addr        uint32
	Mask        uint32
	Permission  Permission
	Mode        Mode
	Size        uint32
	Tags        string
	Description string
	Module      string
	Parameters  []Parameter
	Children    []*Node

	descendants map[string]*Node
	resolve     resolver
}

// New creates a node. Size is clamped to at least 1 word, Mask defaults to
// NoMask when zero is passed by a caller that means "no mask".
func New(id string, partialAddr, mask uint32, perm Permission, mode Mode, size uint32) *Node {
	if size == 0 {
		size = 1
	}
	if mask == 0 {
		mask = NoMask
	}
	n := &Node{
		ID:          id,
		PartialAddr: partialAddr,
		Addr:        partialAddr,
		Mask:        mask,
		Permission:  perm,
		Mode:        mode,
		Size:        size,
	}
	n.reindex()
	return n
}

// NewRegister creates a Single-mode, one-word register node.
func NewRegister(id string, addr, mask uint32, perm Permission) *Node {
	return New(id, addr, mask, perm, Single, 1)
}

// NewBlock creates an Incremental-mode register block of size words.
func NewBlock(id string, addr uint32, size uint32, perm Permission) *Node {
	return New(id, addr, NoMask, perm, Incremental, size)
}

// NewFIFO creates a NonIncremental-mode (port/FIFO) node.
func NewFIFO(id string, addr uint32, size uint32, perm Permission) *Node {
	return New(id, addr, NoMask, perm, NonIncremental, size)
}

// NewHierarchy creates a non-leaf grouping node.
func NewHierarchy(id string) *Node {
	return New(id, 0, NoMask, 0, Hierarchical, 1)
}

// AddChild appends child to n's children, composes child's absolute address
// from n's, and rebuilds the descendant index. AddChild takes ownership of
// child's subtree.
func (n *Node) AddChild(child *Node) *Node {
	child.Addr = n.Addr + child.PartialAddr
	addChildAddr(child, child.Addr)
	n.Children = append(n.Children, child)
	n.reindex()
	return n
}

func addChildAddr(n *Node, base uint32) {
	for _, c := range n.Children {
		c.Addr = base + c.PartialAddr
		addChildAddr(c, c.Addr)
	}
}

// Equal reports whether two nodes agree on address, mask, permission and id.
// Children are not considered.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	return n.Addr == other.Addr &&
		n.Mask == other.Mask &&
		n.Permission == other.Permission &&
		n.ID == other.ID
}

// reindex rebuilds the descendant index from scratch. It must be called
// after every structural mutation of the subtree.
func (n *Node) reindex() {
	n.descendants = make(map[string]*Node)
	for _, c := range n.Children {
		n.descendants[c.ID] = c
		for path, d := range c.descendants {
			n.descendants[c.ID+"."+path] = d
		}
	}
}

// GetNode looks up a descendant by dotted path. An empty path returns n
// itself. On a lookup miss the returned error is a *NoBranchFoundWithGivenUID
// carrying the longest matching prefix (if any) and a rendering of that
// prefix's subtree, or of the whole tree if not even a partial match exists.
func (n *Node) GetNode(path string) (*Node, error) {
	if path == "" {
		return n, nil
	}

	if d, ok := n.descendants[path]; ok {
		return d, nil
	}

	return nil, n.noBranchError(path)
}

func (n *Node) noBranchError(path string) error {
	pos := len(path)
	for pos > 0 {
		idx := strings.LastIndexByte(path[:pos], '.')
		if idx < 0 {
			break
		}
		prefix := path[:idx]
		if d, ok := n.descendants[prefix]; ok {
			return &NoBranchFoundWithGivenUID{
				Path:    path,
				Prefix:  prefix,
				Partial: true,
				Tree:    d.Dump(),
			}
		}
		pos = idx
	}

	return &NoBranchFoundWithGivenUID{
		Path:    path,
		Partial: false,
		Tree:    n.Dump(),
	}
}

// ListNodes returns every dotted descendant path, lexicographically sorted.
func (n *Node) ListNodes() []string {
	paths := make([]string, 0, len(n.descendants))
	for p := range n.descendants {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ListNodesMatching returns the subset of descendant paths matching the
// given full-string regular expression, lexicographically sorted.
func (n *Node) ListNodesMatching(pattern string) ([]string, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("node: invalid pattern %q: %w", pattern, err)
	}

	paths := make([]string, 0)
	for p := range n.descendants {
		if re.MatchString(p) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Clone deep-clones the subtree rooted at n and rebuilds the descendant
// index. The resolver binding (if any) is not copied: a cloned tree is
// unbound until handed to a new hw.Interface.
func (n *Node) Clone() *Node {
	clone := &Node{
		ID:          n.ID,
		PartialAddr: n.PartialAddr,
		Addr:        n.Addr,
		Mask:        n.Mask,
		Permission:  n.Permission,
		Mode:        n.Mode,
		Size:        n.Size,
		Tags:        n.Tags,
		Description: n.Description,
		Module:      n.Module,
		Parameters:  util.CloneSlice(n.Parameters, 0),
	}
	clone.Children = make([]*Node, len(n.Children))
	for i, c := range n.Children {
		clone.Children[i] = c.Clone()
	}
	clone.reindex()
	return clone
}

// bindResolver stamps the weak client resolver into n and every descendant.
// Called by hw.New; never exported because the back-reference is an
// implementation detail of the façade, not part of the public tree API.
func (n *Node) bindResolver(r resolver) {
	n.resolve = r
	for _, c := range n.Children {
		c.bindResolver(r)
	}
}

// Claim stamps resolve as the weak, non-owning client back-reference for
// root and every descendant. It is the one blessed entry point hw.New uses
// to bind a tree to a hardware interface; Node's own API never takes a
// client argument.
func Claim(root *Node, resolve func() (ipbus.ClientInterface, error)) {
	root.bindResolver(resolve)
}

func (n *Node) client() (ipbus.ClientInterface, error) {
	if n.resolve == nil {
		return nil, fmt.Errorf("node %q: not bound to a hardware interface", n.ID)
	}
	return n.resolve()
}

// Dump renders the subtree rooted at n, depth-first, in the style used both
// for human inspection and for the diagnostic text NoBranchFoundWithGivenUID
// carries.
func (n *Node) Dump() string {
	var b strings.Builder
	n.dump(&b, 0)
	return b.String()
}

func (n *Node) dump(b *strings.Builder, indent int) {
	b.WriteByte('\n')
	b.WriteString(strings.Repeat(" ", indent))
	b.WriteString("+ Node ")
	b.WriteString(fmt.Sprintf("%q, ", n.ID))

	switch n.Mode {
	case Single:
		fmt.Fprintf(b, "SINGLE register, Address 0x%08x, Mask 0x%08x, Permissions %s", n.Addr, n.Mask, n.Permission)
	case Incremental:
		fmt.Fprintf(b, "INCREMENTAL block, Size %d, Addresses [0x%08x-0x%08x], Permissions %s", n.Size, n.Addr, n.Addr+n.Size-1, n.Permission)
	case NonIncremental:
		fmt.Fprintf(b, "NON-INCREMENTAL block, ")
		if n.Size != 1 {
			fmt.Fprintf(b, "Size %d, ", n.Size)
		}
		fmt.Fprintf(b, "Address 0x%08x, Permissions %s", n.Addr, n.Permission)
	case Hierarchical:
		fmt.Fprintf(b, "Address 0x%08x", n.Addr)
	}

	if n.Tags != "" {
		fmt.Fprintf(b, ", Tags %q", n.Tags)
	}
	if n.Description != "" {
		fmt.Fprintf(b, ", Description %q", n.Description)
	}
	if n.Module != "" {
		fmt.Fprintf(b, ", Module %q", n.Module)
	}
	if len(n.Parameters) > 0 {
		b.WriteString(", Parameters: ")
		for _, p := range n.Parameters {
			fmt.Fprintf(b, "%s=%s ", p.Name, p.Value)
		}
	}

	for _, c := range n.Children {
		c.dump(b, indent+2)
	}
}
