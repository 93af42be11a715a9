// Package hw is the hardware-interface façade: it binds a node tree to the
// client that actually dispatches transactions for it, and forwards the
// handful of whole-device operations that don't belong on any one node.
package hw

import (
	"context"
	"time"

	"github.com/hep-daq/ipbus/ipbus"
	"github.com/hep-daq/ipbus/node"
)

// Interface binds a ClientInterface to the root of an address tree. Every
// node in the tree is claimed at construction time, so reads and writes
// issued against any node resolve back to this client without the caller
// ever naming it again.
type Interface struct {
	client ipbus.ClientInterface
	root   *node.Node
}

// New claims root for client: every node in the tree, root included, is
// stamped with a resolver back to client. The walk happens once, here;
// Node itself never stores anything stronger than the resolver closure.
func New(client ipbus.ClientInterface, root *node.Node) (*Interface, error) {
	hw := &Interface{client: client, root: root}
	node.Claim(root, func() (ipbus.ClientInterface, error) {
		return hw.client, nil
	})
	return hw, nil
}

// GetNode looks up a descendant of the bound tree by dotted path. An empty
// path returns the root.
func (hw *Interface) GetNode(path string) (*node.Node, error) {
	return hw.root.GetNode(path)
}

// ListNodes returns every dotted descendant path in the bound tree.
func (hw *Interface) ListNodes() []string {
	return hw.root.ListNodes()
}

// ListNodesMatching returns descendant paths matching pattern.
func (hw *Interface) ListNodesMatching(pattern string) ([]string, error) {
	return hw.root.ListNodesMatching(pattern)
}

// Dispatch flushes every transaction enqueued against this interface's
// client since the last Dispatch.
func (hw *Interface) Dispatch(ctx context.Context) error {
	return hw.client.Dispatch(ctx)
}

// ID returns the bound client's identifier.
func (hw *Interface) ID() string { return hw.client.ID() }

// URI returns the bound client's target URI.
func (hw *Interface) URI() string { return hw.client.URI() }

// Timeout returns the bound client's dispatch timeout.
func (hw *Interface) Timeout() time.Duration { return hw.client.Timeout() }

// SetTimeout changes the bound client's dispatch timeout.
func (hw *Interface) SetTimeout(d time.Duration) { hw.client.SetTimeout(d) }
