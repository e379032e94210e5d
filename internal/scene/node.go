// Package scene is a minimal renderable tree. Nodes are owned and mutated by
// the coordinating goroutine only.
package scene

import "zonepager.ai/internal/pager/grid"

type Node struct {
	Name string

	// Payload is whatever a zone attached for rendering (meshes, tiles, ...).
	Payload any

	translation grid.Vec3
	hidden      bool
	parent      *Node
	children    []*Node
}

func NewNode(name string) *Node {
	return &Node{Name: name}
}

func (n *Node) Parent() *Node { return n.parent }

func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

func (n *Node) NumChildren() int { return len(n.children) }

func (n *Node) Translation() grid.Vec3 { return n.translation }

func (n *Node) SetTranslation(v grid.Vec3) { n.translation = v }

// Hidden reports whether the node itself is culled.
func (n *Node) Hidden() bool { return n.hidden }

func (n *Node) SetHidden(h bool) { n.hidden = h }

// Visible is false if the node or any ancestor is hidden.
func (n *Node) Visible() bool {
	for p := n; p != nil; p = p.parent {
		if p.hidden {
			return false
		}
	}
	return true
}

// Attach moves child under n, detaching it from any previous parent.
func (n *Node) Attach(child *Node) {
	if child == nil || child.parent == n {
		return
	}
	child.Detach()
	child.parent = n
	n.children = append(n.children, child)
}

func (n *Node) Detach() {
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	n.parent = nil
}

// WorldTranslation sums translations up to the root.
func (n *Node) WorldTranslation() grid.Vec3 {
	var v grid.Vec3
	for p := n; p != nil; p = p.parent {
		v = v.Add(p.translation)
	}
	return v
}

// Walk visits n and its descendants depth first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		c.Walk(fn)
	}
}
