package tiler

import (
	"sync"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
)

type NodeType int
type Direction int

const (
	NodeTypeLeaf = NodeType(iota)
	NodeTypeBranch
)

const (
	// Children are stacked top and bottom
	DirectionVertical = Direction(iota)
	// Children sit side by side
	DirectionHorizontal
)

const (
	minAspect     = 10
	maxAspect     = 90
	defaultAspect = 50
)

type (
	// A tiling tree. One tree per output and workspace
	// Window rectangles are calculated down the tree
	Tree struct {
		Resolution           generaldata.Vector2i // Space the tree is occupying
		Gap                  int                  // Pixels left free between and around windows
		Root                 *Node
		LastFocusedContainer *Leaf
		leaves               map[uint32]*Leaf // Stores all leafs for quick lookup
		lock                 sync.Mutex
	}

	// Wrapper container for leafs or branches
	Node struct {
		Type   NodeType
		Branch *Branch // Must be set if type is NodeTypeBranch, ignored otherwise
		Leaf   *Leaf   // Must be set if type is NodeTypeLeaf, ignored otherwise
		parent *Node
	}

	Branch struct {
		Direction  Direction
		ChildLeft  *Node // Is the top child if split vertically
		ChildRight *Node // Is the bottom child if split vertically
		AspectLeft int   // Percentage the left child has of the container space
	}

	Leaf struct {
		WindowID uint32
		node     *Node
	}
)

func NewTree(resolution generaldata.Vector2i) *Tree {
	return &Tree{
		Resolution: resolution,
		leaves:     make(map[uint32]*Leaf),
	}
}

func (t *Tree) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.leaves)
}

func (t *Tree) Contains(id uint32) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	_, ok := t.leaves[id]
	return ok
}

// Add a new window to the tree
// Splits the last focused container along its longer side. Returns false if the window is already tiled
func (t *Tree) AddWindow(id uint32) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.leaves[id]; ok {
		return false
	}
	leaf := &Leaf{WindowID: id}
	leafNode := &Node{Type: NodeTypeLeaf, Leaf: leaf}
	leaf.node = leafNode
	t.leaves[id] = leaf

	if t.Root == nil {
		t.Root = leafNode
		t.LastFocusedContainer = leaf
		return true
	}

	target := t.Root
	if t.LastFocusedContainer != nil {
		target = t.LastFocusedContainer.node
	}
	rects := make(map[*Node]generaldata.Rect)
	t.layoutNodes(t.Root, generaldata.NewRect(0, 0, t.Resolution.X, t.Resolution.Y), rects)
	area := rects[target]
	direction := DirectionHorizontal
	if area.H > area.W {
		direction = DirectionVertical
	}

	// The target node becomes the branch, its old content moves into the left child
	old := &Node{Type: target.Type, Branch: target.Branch, Leaf: target.Leaf}
	if old.Leaf != nil {
		old.Leaf.node = old
	}
	if old.Branch != nil {
		old.Branch.ChildLeft.parent = old
		old.Branch.ChildRight.parent = old
	}
	target.Type = NodeTypeBranch
	target.Leaf = nil
	target.Branch = &Branch{
		Direction:  direction,
		ChildLeft:  old,
		ChildRight: leafNode,
		AspectLeft: defaultAspect,
	}
	old.parent = target
	leafNode.parent = target
	t.LastFocusedContainer = leaf
	return true
}

// Remove a window from the tree
// Its sibling takes over the space of the parent branch
func (t *Tree) RemoveWindow(id uint32) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	leaf, ok := t.leaves[id]
	if !ok {
		return false
	}
	delete(t.leaves, id)
	node := leaf.node
	parent := node.parent
	if parent == nil {
		t.Root = nil
		t.LastFocusedContainer = nil
		return true
	}
	sibling := parent.Branch.ChildLeft
	if sibling == node {
		sibling = parent.Branch.ChildRight
	}
	// Pull the sibling up into the parent's place
	parent.Type = sibling.Type
	parent.Branch = sibling.Branch
	parent.Leaf = sibling.Leaf
	if parent.Leaf != nil {
		parent.Leaf.node = parent
	}
	if parent.Branch != nil {
		parent.Branch.ChildLeft.parent = parent
		parent.Branch.ChildRight.parent = parent
	}
	if t.LastFocusedContainer == leaf {
		t.LastFocusedContainer = firstLeaf(parent)
	}
	return true
}

// Swap the places of two windows
func (t *Tree) SwapWindows(a, b uint32) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	la, okA := t.leaves[a]
	lb, okB := t.leaves[b]
	if !okA || !okB {
		return false
	}
	// Swap IDs, not leafs, so the nodes stay where they are
	la.WindowID, lb.WindowID = lb.WindowID, la.WindowID
	t.leaves[a], t.leaves[b] = lb, la
	return true
}

// Focus marks the container the next window splits
func (t *Tree) Focus(id uint32) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	leaf, ok := t.leaves[id]
	if ok {
		t.LastFocusedContainer = leaf
	}
	return ok
}

// SetAspect changes how much of its parent branch a window takes, in percent
func (t *Tree) SetAspect(id uint32, percent int) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	leaf, ok := t.leaves[id]
	if !ok || leaf.node.parent == nil {
		return false
	}
	percent = min(max(percent, minAspect), maxAspect)
	branch := leaf.node.parent.Branch
	if branch.ChildRight == leaf.node {
		percent = 100 - percent
	}
	branch.AspectLeft = percent
	return true
}

// Windows lists the tiled windows left to right, top to bottom
func (t *Tree) Windows() []uint32 {
	t.lock.Lock()
	defer t.lock.Unlock()
	var out []uint32
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		if n.Type == NodeTypeLeaf {
			out = append(out, n.Leaf.WindowID)
			return
		}
		walk(n.Branch.ChildLeft)
		walk(n.Branch.ChildRight)
	}
	walk(t.Root)
	return out
}

// Layout calculates the rectangle of every window inside area
func (t *Tree) Layout(area generaldata.Rect) map[uint32]generaldata.Rect {
	t.lock.Lock()
	defer t.lock.Unlock()
	rects := make(map[*Node]generaldata.Rect)
	t.layoutNodes(t.Root, area, rects)
	out := make(map[uint32]generaldata.Rect, len(t.leaves))
	for node, rect := range rects {
		if node.Type == NodeTypeLeaf {
			out[node.Leaf.WindowID] = shrink(rect, t.Gap)
		}
	}
	return out
}

func (t *Tree) layoutNodes(n *Node, area generaldata.Rect, out map[*Node]generaldata.Rect) {
	if n == nil {
		return
	}
	out[n] = area
	if n.Type == NodeTypeLeaf {
		return
	}
	b := n.Branch
	left, right := area, area
	switch b.Direction {
	case DirectionHorizontal:
		left.W = area.W * b.AspectLeft / 100
		right.X = area.X + left.W
		right.W = area.W - left.W
	case DirectionVertical:
		left.H = area.H * b.AspectLeft / 100
		right.Y = area.Y + left.H
		right.H = area.H - left.H
	}
	t.layoutNodes(b.ChildLeft, left, out)
	t.layoutNodes(b.ChildRight, right, out)
}

func shrink(r generaldata.Rect, gap int) generaldata.Rect {
	if gap <= 0 || r.W <= 2*gap || r.H <= 2*gap {
		return r
	}
	return generaldata.NewRect(r.X+gap, r.Y+gap, r.W-2*gap, r.H-2*gap)
}

func firstLeaf(n *Node) *Leaf {
	for n != nil && n.Type == NodeTypeBranch {
		n = n.Branch.ChildLeft
	}
	if n == nil {
		return nil
	}
	return n.Leaf
}
